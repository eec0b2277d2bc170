package main

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string

	// Link flags override the config file.
	portName      string
	baudRate      int
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool
	useBLE        bool

	keysPath       string
	requestTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "bluenetctl",
	Short: "Control stones over Bluetooth LE",
	Long: `bluenetctl scans for, connects to and broadcasts to stones.

Radio:
  Local:     --ble
  Serial:    --port /dev/ttyACM0 [--baud 115200]
  WebSocket: --url ws://host:8765/ [--username user]

Settings are read from the config file (default $XDG_CONFIG_HOME/bluenet/config.yaml)
and overridden by flags.

For WebSocket authentication, the password is read from the BLUENET_PASSWORD
environment variable, or prompted interactively if not set. A sealed key file
is opened with BLUENET_PASSPHRASE, or a prompt.`,
	Version:       "0.3.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (error, warn, info, debug, trace)")

	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial radio dongle")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 0, "Baud rate (serial only)")
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "Bridge WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
	rootCmd.PersistentFlags().BoolVar(&useBLE, "ble", false, "Use the local Bluetooth controller")

	rootCmd.PersistentFlags().StringVarP(&keysPath, "keys", "k", "", "Sphere key file")
	rootCmd.PersistentFlags().DurationVar(&requestTimeout, "timeout", 0, "Request timeout (default 5s)")
}
