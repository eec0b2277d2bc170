package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pion/logging"
	"github.com/spf13/cobra"

	"github.com/backkem/bluenet/pkg/discovery"
	"github.com/backkem/bluenet/pkg/keystore"
	"github.com/backkem/bluenet/pkg/packet"
	"github.com/backkem/bluenet/pkg/servicedata"
	bnsession "github.com/backkem/bluenet/pkg/session"
	"github.com/backkem/bluenet/pkg/stonesim"
	"github.com/backkem/bluenet/pkg/transport"
)

var (
	simListen   string
	simStones   int
	simSetup    int
	simDialect  string
	simSphere   string
	simExport   string
	simInterval time.Duration
	simMDNS     bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run simulated stones behind a WebSocket bridge",
	Long: `Serve simulated stones on a WebSocket bridge, for trying the client
without hardware. Point another bluenetctl at it with --url.

The stones join the sphere given with --sphere (loaded from the key file),
or a freshly generated sphere. --export writes the generated keys to a key
file that can be imported with "keys import".`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simListen, "listen", ":"+strconv.Itoa(discovery.DefaultPort), "Listen address")
	simulateCmd.Flags().IntVar(&simStones, "stones", 3, "Number of stones in operation mode")
	simulateCmd.Flags().IntVar(&simSetup, "setup", 0, "Number of stones in setup mode")
	simulateCmd.Flags().StringVar(&simDialect, "dialect", "v5", "Packet dialect (legacy, v1, v2, v3, v5)")
	simulateCmd.Flags().StringVar(&simSphere, "sphere", "", "Sphere reference from the key file")
	simulateCmd.Flags().StringVar(&simExport, "export", "", "Write the generated sphere to this key file")
	simulateCmd.Flags().DurationVar(&simInterval, "interval", 500*time.Millisecond, "Advertisement interval")
	simulateCmd.Flags().BoolVar(&simMDNS, "mdns", true, "Advertise the bridge with DNS-SD")
}

func parseDialect(s string) (packet.Dialect, error) {
	for _, d := range []packet.Dialect{packet.DialectLegacy, packet.DialectV1, packet.DialectV2, packet.DialectV3, packet.DialectV5} {
		if strings.EqualFold(s, d.String()) {
			return d, nil
		}
	}
	return packet.DialectUnknown, fmt.Errorf("unknown dialect %q", s)
}

// generateSphere creates a sphere with random keys.
func generateSphere(ref string) (*keystore.Sphere, error) {
	s := &keystore.Sphere{ReferenceID: ref}
	uid := make([]byte, 1)
	if _, err := rand.Read(uid); err != nil {
		return nil, err
	}
	s.SphereUID = uid[0]
	for _, k := range []*[]byte{&s.AdminKey, &s.MemberKey, &s.GuestKey, &s.ServiceDataKey} {
		*k = make([]byte, 16)
		if _, err := rand.Read(*k); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	lf, err := cfg.LoggerFactory()
	if err != nil {
		return err
	}
	dialect, err := parseDialect(simDialect)
	if err != nil {
		return err
	}

	var sphere *keystore.Sphere
	if simSphere != "" {
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		if sphere, err = keystore.Lookup(store, simSphere); err != nil {
			return err
		}
	} else {
		if sphere, err = generateSphere("simulated"); err != nil {
			return err
		}
		if simExport != "" {
			if err := keystore.NewFileStore(simExport, nil).SaveSphere(sphere); err != nil {
				return err
			}
			fmt.Printf("Sphere keys written to %s\n", simExport)
		}
	}

	stones, err := simulatedStones(sphere, dialect, lf)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", simListen)
	if err != nil {
		return err
	}
	sim := &simulator{ctx: ctx, stones: stones, lf: lf, log: lf.NewLogger("simulate")}
	srv := &http.Server{Handler: sim, ReadHeaderTimeout: 10 * time.Second}

	if simMDNS {
		adv, err := discovery.NewAdvertiser(discovery.AdvertiserConfig{
			Port:          ln.Addr().(*net.TCPAddr).Port,
			TXT:           discovery.BridgeTXT{Path: "/", Proto: discovery.ProtoWS},
			LoggerFactory: lf,
		})
		if err != nil {
			return err
		}
		if err := adv.Start(); err != nil {
			return err
		}
		defer adv.Close()
		fmt.Printf("Advertising %s.%s\n", adv.Instance(), discovery.ServiceBridge)
	}

	fmt.Printf("Bridge listening on ws://%s/\n", ln.Addr())
	fmt.Printf("Sphere %s (uid %d), dialect %s\n", sphere.ReferenceID, sphere.SphereUID, dialect)
	for _, st := range stones {
		fmt.Printf("  %s  %s  id=%d\n", st.ID(), st.Mode(), st.CrownstoneID())
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	sim.wg.Wait()
	return nil
}

func simulatedStones(sphere *keystore.Sphere, dialect packet.Dialect, lf logging.LoggerFactory) ([]*stonesim.Stone, error) {
	var stones []*stonesim.Stone
	for i := 0; i < simStones+simSetup; i++ {
		c := stonesim.Config{
			ID:             transport.PeerID(fmt.Sprintf("C0:FF:EE:00:00:%02X", i+1)),
			Name:           fmt.Sprintf("Stone %d", i+1),
			Dialect:        dialect,
			DeviceType:     servicedata.DevicePlugOne,
			CrownstoneID:   uint16(i + 1),
			SphereUID:      sphere.SphereUID,
			AdminKey:       sphere.AdminKey,
			MemberKey:      sphere.MemberKey,
			GuestKey:       sphere.GuestKey,
			ServiceDataKey: sphere.ServiceDataKey,
			LoggerFactory:  lf,
		}
		if i >= simStones {
			c.Mode = bnsession.ModeSetup
			c.Name = fmt.Sprintf("Setup %d", i+1-simStones)
		}
		st, err := stonesim.New(c)
		if err != nil {
			return nil, err
		}
		stones = append(stones, st)
	}
	return stones, nil
}

// simulator serves one bridge session per WebSocket connection. Every
// session attaches all stones, so the latest client owns them.
type simulator struct {
	ctx    context.Context
	stones []*stonesim.Stone
	lf     logging.LoggerFactory
	log    logging.LeveledLogger
	wg     sync.WaitGroup
}

func (sim *simulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := transport.AcceptWebSocket(w, r)
	if err != nil {
		sim.log.Warnf("upgrade %s: %v", r.RemoteAddr, err)
		return
	}
	sim.wg.Add(1)
	defer sim.wg.Done()

	server := transport.NewPeripheralServer(transport.PeripheralServerConfig{Conn: conn, LoggerFactory: sim.lf})
	for _, st := range sim.stones {
		st.Attach(server)
	}

	ctx, cancel := context.WithCancel(sim.ctx)
	defer cancel()
	go sim.pump(ctx, server)

	sim.log.Infof("client %s connected", r.RemoteAddr)
	if err := server.Serve(ctx); err != nil && ctx.Err() == nil {
		sim.log.Infof("client %s: %v", r.RemoteAddr, err)
	}
}

// pump advertises every stone on each tick and hands client broadcasts to
// all of them.
func (sim *simulator) pump(ctx context.Context, server *transport.PeripheralServer) {
	ticker := time.NewTicker(simInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, st := range sim.stones {
				if err := st.Advertise(); err != nil {
					sim.log.Debugf("%s: advertise: %v", st.ID(), err)
				}
			}
		case payload := <-server.Advertised():
			for _, st := range sim.stones {
				if err := st.HandleBroadcast(payload); err != nil {
					sim.log.Tracef("%s: broadcast ignored: %v", st.ID(), err)
				}
			}
		}
	}
}
