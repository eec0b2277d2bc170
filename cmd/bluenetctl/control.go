package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/backkem/bluenet/pkg/bluenet"
	"github.com/backkem/bluenet/pkg/transport"
)

var (
	sphereRef   string
	scanTimeout time.Duration
	setTimeNow  bool
	resetDFU    bool
	resetWipe   bool
)

var switchCmd = &cobra.Command{
	Use:   "switch <peer|nearest> <on|off|toggle|0-100>",
	Short: "Set the switch state of a stone",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := parseSwitchValue(args[1])
		if err != nil {
			return err
		}
		return withStone(cmd, args[0], func(ctx context.Context, c *bluenet.Client, peer transport.PeerID) error {
			if err := c.Switch(ctx, peer, value); err != nil {
				return err
			}
			state, err := c.SwitchState(ctx, peer)
			if err != nil {
				return err
			}
			fmt.Printf("%s: switch state %d\n", peer, state)
			return nil
		})
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect <peer|nearest>",
	Short: "Connect to a stone and print the session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStone(cmd, args[0], func(ctx context.Context, c *bluenet.Client, peer transport.PeerID) error {
			snap, ok := c.Connection()
			if !ok {
				return bluenet.ErrNotConnected
			}
			fmt.Printf("Peer:    %s\n", snap.Peer)
			fmt.Printf("Mode:    %s\n", snap.Mode)
			fmt.Printf("Dialect: %s\n", snap.Dialect)
			fmt.Printf("Access:  %s\n", snap.AccessLevel)
			fmt.Printf("Sphere:  %s\n", snap.ReferenceID)
			return nil
		})
	},
}

var stateCmd = &cobra.Command{
	Use:   "state <peer|nearest>",
	Short: "Read the switch state and clock of a stone",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStone(cmd, args[0], func(ctx context.Context, c *bluenet.Client, peer transport.PeerID) error {
			state, err := c.SwitchState(ctx, peer)
			if err != nil {
				return err
			}
			fmt.Printf("Switch state: %d\n", state)
			if t, err := c.GetTime(ctx, peer); err == nil {
				fmt.Printf("Time:         %s\n", t.Format(time.RFC3339))
			}
			if snap, ok := c.Connection(); ok {
				fmt.Printf("Mode:         %s\n", snap.Mode)
				fmt.Printf("Dialect:      %s\n", snap.Dialect)
				fmt.Printf("Access:       %s\n", snap.AccessLevel)
			}
			return nil
		})
	},
}

var timeCmd = &cobra.Command{
	Use:   "time <peer|nearest>",
	Short: "Read the stone clock, or set it with --set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStone(cmd, args[0], func(ctx context.Context, c *bluenet.Client, peer transport.PeerID) error {
			if setTimeNow {
				if err := c.SetTime(ctx, peer, time.Now()); err != nil {
					return err
				}
			}
			t, err := c.GetTime(ctx, peer)
			if err != nil {
				return err
			}
			fmt.Printf("%s (drift %s)\n", t.Format(time.RFC3339), time.Since(t).Round(time.Second))
			return nil
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version <peer|nearest>",
	Short: "Print the firmware and bootloader versions of a stone",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStone(cmd, args[0], func(ctx context.Context, c *bluenet.Client, peer transport.PeerID) error {
			fw, err := c.FirmwareVersion(ctx, peer)
			if err != nil {
				return err
			}
			fmt.Printf("Firmware:   %s\n", fw)
			bl, err := c.BootloaderVersion(ctx, peer)
			if err != nil {
				bl = "unavailable (" + err.Error() + ")"
			}
			fmt.Printf("Bootloader: %s\n", bl)
			return nil
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset <peer|nearest>",
	Short: "Restart a stone",
	Long: `Restart a stone. The stone drops the link.

  --dfu      restart into the bootloader
  --factory  wipe the stone back to setup mode`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if resetDFU && resetWipe {
			return fmt.Errorf("--dfu and --factory are exclusive")
		}
		return withStone(cmd, args[0], func(ctx context.Context, c *bluenet.Client, peer transport.PeerID) error {
			var err error
			switch {
			case resetDFU:
				err = c.GoToDFU(ctx, peer)
			case resetWipe:
				err = c.FactoryReset(ctx, peer)
			default:
				err = c.Reset(ctx, peer)
			}
			if err != nil {
				return err
			}
			fmt.Printf("%s restarted\n", peer)
			return nil
		})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{connectCmd, switchCmd, stateCmd, timeCmd, versionCmd, resetCmd} {
		cmd.Flags().StringVarP(&sphereRef, "sphere", "s", "", "Sphere reference (default: from advertisements)")
		cmd.Flags().DurationVar(&scanTimeout, "scan-timeout", 10*time.Second, "How long to wait for the stone to advertise")
		rootCmd.AddCommand(cmd)
	}
	timeCmd.Flags().BoolVar(&setTimeNow, "set", false, "Set the clock to the local time first")
	resetCmd.Flags().BoolVar(&resetDFU, "dfu", false, "Restart into the bootloader")
	resetCmd.Flags().BoolVar(&resetWipe, "factory", false, "Factory reset")
}

// withStone connects to the peer argument, runs fn and disconnects.
func withStone(cmd *cobra.Command, arg string, fn func(ctx context.Context, c *bluenet.Client, peer transport.PeerID) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	fmt.Fprintf(os.Stderr, "Radio: %s\n", s.radio.info)

	peer, err := s.connect(ctx, arg, sphereRef, scanTimeout)
	if err != nil {
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), bluenet.DefaultDisconnectTimeout)
		defer cancel()
		_ = s.client.Disconnect(dctx, peer)
	}()
	return fn(ctx, s.client, peer)
}

// parseSwitchValue accepts on, off, toggle or a percentage.
func parseSwitchValue(s string) (uint8, error) {
	switch strings.ToLower(s) {
	case "on":
		return 100, nil
	case "off":
		return 0, nil
	case "toggle":
		return 255, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 || v > 100 {
		return 0, fmt.Errorf("invalid switch value %q: want on, off, toggle or 0-100", s)
	}
	return uint8(v), nil
}
