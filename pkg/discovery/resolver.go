package discovery

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// Bridge is a discovered network radio bridge.
type Bridge struct {
	Instance string
	HostName string
	Port     int
	IPs      []net.IP
	TXT      BridgeTXT
}

// URL returns the WebSocket URL of the bridge using its preferred address.
func (b *Bridge) URL() (string, error) {
	if len(b.IPs) == 0 {
		return "", ErrNoAddresses
	}
	u := url.URL{
		Scheme: string(b.TXT.Proto),
		Host:   net.JoinHostPort(b.IPs[0].String(), strconv.Itoa(b.Port)),
		Path:   b.TXT.Path,
	}
	return u.String(), nil
}

// MDNSResolver is the interface for mDNS service resolution.
// This allows for dependency injection in tests.
//
// Browse and Lookup send entries until ctx is done or the query is
// exhausted, then return. They never close entries.
type MDNSResolver interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
	Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// zeroconfResolver is the production implementation using grandcat/zeroconf.
type zeroconfResolver struct {
	resolver *zeroconf.Resolver
}

func newZeroconfResolver() (*zeroconfResolver, error) {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}
	return &zeroconfResolver{resolver: r}, nil
}

func (z *zeroconfResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	inner := make(chan *zeroconf.ServiceEntry)
	if err := z.resolver.Browse(ctx, service, domain, inner); err != nil {
		return err
	}
	return forward(ctx, inner, entries)
}

func (z *zeroconfResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	inner := make(chan *zeroconf.ServiceEntry)
	if err := z.resolver.Lookup(ctx, instance, service, domain, inner); err != nil {
		return err
	}
	return forward(ctx, inner, entries)
}

// forward copies entries until zeroconf closes in, which it does once ctx
// is done.
func forward(ctx context.Context, in <-chan *zeroconf.ServiceEntry, out chan<- *zeroconf.ServiceEntry) error {
	for entry := range in {
		select {
		case out <- entry:
		case <-ctx.Done():
		}
	}
	return ctx.Err()
}

// ResolverConfig holds configuration for the Resolver.
type ResolverConfig struct {
	// MDNSResolver is the underlying mDNS resolver implementation.
	// If nil, the default zeroconf resolver is used.
	MDNSResolver MDNSResolver

	// BrowseTimeout bounds Browse when ctx has no deadline.
	BrowseTimeout time.Duration

	// LookupTimeout bounds Lookup when ctx has no deadline.
	LookupTimeout time.Duration

	LoggerFactory logging.LoggerFactory
}

func (c *ResolverConfig) applyDefaults() {
	if c.BrowseTimeout == 0 {
		c.BrowseTimeout = DefaultBrowseTimeout
	}
	if c.LookupTimeout == 0 {
		c.LookupTimeout = DefaultLookupTimeout
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
}

// Resolver discovers bridges via DNS-SD.
type Resolver struct {
	config   ResolverConfig
	resolver MDNSResolver
	log      logging.LeveledLogger
}

// NewResolver creates a new Resolver with the given configuration.
func NewResolver(config ResolverConfig) (*Resolver, error) {
	resolver := config.MDNSResolver
	if resolver == nil {
		zr, err := newZeroconfResolver()
		if err != nil {
			return nil, err
		}
		resolver = zr
	}
	config.applyDefaults()

	return &Resolver{
		config:   config,
		resolver: resolver,
		log:      config.LoggerFactory.NewLogger("discovery"),
	}, nil
}

// Browse streams bridges until ctx is done or the browse timeout expires.
// Entries with malformed TXT records are skipped.
func (r *Resolver) Browse(ctx context.Context) (<-chan Bridge, error) {
	results := make(chan Bridge)
	entries := make(chan *zeroconf.ServiceEntry)

	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, r.config.BrowseTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	go func() {
		defer close(entries)
		if err := r.resolver.Browse(ctx, ServiceBridge, DefaultDomain, entries); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			r.log.Warnf("browse: %v", err)
		}
	}()

	go func() {
		defer cancel()
		defer close(results)
		for entry := range entries {
			b, err := entryToBridge(entry)
			if err != nil {
				r.log.Debugf("skip %s: %v", entry.Instance, err)
				continue
			}
			select {
			case results <- b:
			case <-ctx.Done():
				// Drain so the browse goroutine can exit.
				for range entries {
				}
				return
			}
		}
	}()

	return results, nil
}

// Lookup resolves one bridge instance.
func (r *Resolver) Lookup(ctx context.Context, instance string) (*Bridge, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.LookupTimeout)
		defer cancel()
	}

	entries := make(chan *zeroconf.ServiceEntry, 1)
	go func() {
		defer close(entries)
		r.resolver.Lookup(ctx, instance, ServiceBridge, DefaultDomain, entries)
	}()

	select {
	case entry, ok := <-entries:
		if !ok || entry == nil {
			return nil, ErrServiceNotFound
		}
		b, err := entryToBridge(entry)
		if err != nil {
			return nil, err
		}
		return &b, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// entryToBridge converts a zeroconf.ServiceEntry to a Bridge.
func entryToBridge(entry *zeroconf.ServiceEntry) (Bridge, error) {
	txt, err := ParseBridgeTXT(entry.Text)
	if err != nil {
		return Bridge{}, err
	}
	var ips []net.IP
	ips = append(ips, entry.AddrIPv4...)
	ips = append(ips, entry.AddrIPv6...)
	return Bridge{
		Instance: entry.Instance,
		HostName: entry.HostName,
		Port:     entry.Port,
		IPs:      SortIPsByPreference(ips),
		TXT:      txt,
	}, nil
}
