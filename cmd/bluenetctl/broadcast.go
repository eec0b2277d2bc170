package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var broadcastSphere string

var broadcastCmd = &cobra.Command{
	Use:   "broadcast",
	Short: "Send commands as advertisements, without connecting",
}

var broadcastSwitchCmd = &cobra.Command{
	Use:   "switch <stone-id> <on|off|toggle|0-100>",
	Short: "Broadcast a switch command to one stone",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 8)
		if err != nil {
			return fmt.Errorf("invalid stone id %q", args[0])
		}
		value, err := parseSwitchValue(args[1])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		ref, err := s.broadcastSphere()
		if err != nil {
			return err
		}
		if err := s.client.BroadcastSwitch(ctx, ref, uint8(id), value); err != nil {
			return err
		}
		fmt.Printf("Broadcast switch %d to stone %d in sphere %s\n", value, id, ref)
		return nil
	},
}

var broadcastTimeCmd = &cobra.Command{
	Use:   "time",
	Short: "Broadcast the local time to all stones of a sphere",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		ref, err := s.broadcastSphere()
		if err != nil {
			return err
		}
		now := time.Now()
		if err := s.client.BroadcastTime(ctx, ref, now); err != nil {
			return err
		}
		fmt.Printf("Broadcast time %s in sphere %s\n", now.Format(time.RFC3339), ref)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(broadcastCmd)
	broadcastCmd.AddCommand(broadcastSwitchCmd, broadcastTimeCmd)
	broadcastCmd.PersistentFlags().StringVarP(&broadcastSphere, "sphere", "s", "", "Sphere reference (default: the only loaded sphere)")
}

// broadcastSphere returns the sphere flag, or the only loaded sphere.
func (s *session) broadcastSphere() (string, error) {
	if broadcastSphere != "" {
		return broadcastSphere, nil
	}
	refs := s.client.Spheres()
	switch len(refs) {
	case 0:
		return "", fmt.Errorf("no sphere keys loaded from %s", s.cfg.Keys.Path)
	case 1:
		return refs[0], nil
	}
	return "", fmt.Errorf("several spheres loaded, pick one with --sphere: %v", refs)
}
