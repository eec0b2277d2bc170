package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/backkem/bluenet/pkg/bluenet"
	"github.com/backkem/bluenet/pkg/eventsink"
)

var (
	scanPlain bool
	scanNATS  string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Watch stone advertisements",
	Long: `Scan for stones and show them in a live table, nearest first.

Verified stones carry service data that decrypted with a loaded sphere key.
With --plain every processed advertisement is printed as one line instead.

With --nats (or nats.url in the config file) all client events are also
published as JSON on <prefix>.<topic>.<peer>.`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().BoolVar(&scanPlain, "plain", false, "Print lines instead of the live table")
	scanCmd.Flags().StringVar(&scanNATS, "nats", "", "NATS server URL for event forwarding")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	natsURL := s.cfg.NATS.URL
	if scanNATS != "" {
		natsURL = scanNATS
	}
	if natsURL != "" {
		detach, err := forwardEvents(s, natsURL)
		if err != nil {
			return err
		}
		defer detach()
	}

	if scanPlain {
		return scanLines(ctx, s)
	}

	m := newScanModel(s.radio.info, s.client.Spheres())
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	unsubscribe := s.client.Events().SubscribeAll(func(e bluenet.Event) {
		switch payload := e.Payload.(type) {
		case bluenet.Advertisement:
			p.Send(advertisementMsg(payload))
		case bluenet.Nearest:
			if e.Topic == bluenet.TopicNearestStone {
				p.Send(nearestMsg(payload))
			}
		}
	})
	defer unsubscribe()

	_, err = p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// forwardEvents connects to NATS and attaches an event sink to the client.
func forwardEvents(s *session, url string) (func(), error) {
	lf, err := s.cfg.LoggerFactory()
	if err != nil {
		return nil, err
	}
	name := s.cfg.NATS.Name
	if name == "" {
		name = "bluenetctl"
	}
	nc, err := eventsink.Connect(url, name, lf)
	if err != nil {
		return nil, fmt.Errorf("nats: %w", err)
	}
	sink, err := eventsink.New(eventsink.Config{
		Publisher:     nc,
		Prefix:        s.cfg.NATS.Prefix,
		LoggerFactory: lf,
	})
	if err != nil {
		nc.Close()
		return nil, err
	}
	detach := sink.Attach(s.client.Events())
	fmt.Fprintf(os.Stderr, "Forwarding events to %s\n", nc.ConnectedUrl())
	return func() {
		detach()
		_ = nc.Drain()
		published, failed := sink.Stats()
		fmt.Fprintf(os.Stderr, "Forwarded %d events (%d failed)\n", published, failed)
	}, nil
}

// scanLines prints advertisements until ctx is done.
func scanLines(ctx context.Context, s *session) error {
	fmt.Printf("Radio: %s\n", s.radio.info)
	fmt.Printf("Spheres: %v\n", s.client.Spheres())
	fmt.Printf("Press Ctrl+C to exit\n\n")

	lines := make(chan string, 64)
	show := func(e bluenet.Event) {
		a, ok := e.Payload.(bluenet.Advertisement)
		if !ok {
			return
		}
		select {
		case lines <- formatAdvertisement(e.Time, a):
		default:
		}
	}
	for _, topic := range []bluenet.Topic{
		bluenet.TopicVerifiedAdvertisement,
		bluenet.TopicUnverifiedAdvertisement,
		bluenet.TopicSetupAdvertisement,
		bluenet.TopicDFUAdvertisement,
	} {
		defer s.client.Subscribe(topic, show)()
	}

	for {
		select {
		case line := <-lines:
			fmt.Println(line)
		case <-ctx.Done():
			return nil
		}
	}
}

func formatAdvertisement(t time.Time, a bluenet.Advertisement) string {
	line := fmt.Sprintf("[%s] %-17s %4d dBm  %-9s", t.Format("15:04:05.000"), a.Peer, a.RSSI, a.Mode)
	if a.Validated {
		line += "  sphere=" + a.ReferenceID
	}
	if a.Data != nil && a.Data.Decrypted {
		line += fmt.Sprintf("  id=%d switch=%d power=%.1fW", a.Data.CrownstoneID, a.Data.SwitchState, a.Data.PowerUsage)
	}
	if a.Name != "" {
		line += "  " + a.Name
	}
	return line
}
