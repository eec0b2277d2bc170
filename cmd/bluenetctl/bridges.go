package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/backkem/bluenet/pkg/discovery"
)

var bridgesTimeout time.Duration

var bridgesCmd = &cobra.Command{
	Use:   "bridges",
	Short: "List radio bridges on the local network",
	Long: `Browse DNS-SD for ` + discovery.ServiceBridge + ` services and print the WebSocket
URL of every bridge found. Pass a URL to --url to use a bridge.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		lf, err := cfg.LoggerFactory()
		if err != nil {
			return err
		}
		resolver, err := discovery.NewResolver(discovery.ResolverConfig{LoggerFactory: lf})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithTimeout(ctx, bridgesTimeout)
		defer cancel()

		bridges, err := resolver.Browse(ctx)
		if err != nil {
			return err
		}
		found := 0
		for b := range bridges {
			u, err := b.URL()
			if err != nil {
				u = "(" + err.Error() + ")"
			}
			fmt.Printf("%-30s %s  host=%s ver=%d\n", b.Instance, u, b.HostName, b.TXT.Version)
			found++
		}
		if found == 0 {
			return fmt.Errorf("no bridges found within %s", bridgesTimeout)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(bridgesCmd)
	bridgesCmd.Flags().DurationVar(&bridgesTimeout, "timeout", 5*time.Second, "Browse duration")
}
