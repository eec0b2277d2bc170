package discovery

import (
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// MDNSServer is the interface for mDNS service registration.
// This allows for dependency injection in tests.
type MDNSServer interface {
	Shutdown()
}

// MDNSServerFactory creates MDNSServer instances.
type MDNSServerFactory interface {
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error)
}

type zeroconfServerFactory struct{}

func (z *zeroconfServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// AdvertiserConfig holds configuration for the Advertiser.
type AdvertiserConfig struct {
	// Instance is the DNS-SD instance name. Default: "bluenet-<hostname>"
	Instance string

	// Port is the bridge WebSocket port. Default: 8765
	Port int

	TXT BridgeTXT

	// Interfaces restricts advertising. Nil means all interfaces.
	Interfaces []net.Interface

	// ServerFactory is the factory for creating mDNS servers.
	// If nil, the default zeroconf factory is used.
	ServerFactory MDNSServerFactory

	LoggerFactory logging.LoggerFactory
}

// Advertiser publishes a bridge on the local network.
type Advertiser struct {
	config  AdvertiserConfig
	factory MDNSServerFactory
	log     logging.LeveledLogger

	mu     sync.Mutex
	server MDNSServer
	closed bool
}

// NewAdvertiser creates an Advertiser. Call Start to publish.
func NewAdvertiser(config AdvertiserConfig) (*Advertiser, error) {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.Port < 0 || config.Port > 65535 {
		return nil, ErrInvalidPort
	}
	if config.Instance == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "bridge"
		}
		config.Instance = "bluenet-" + host
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	factory := config.ServerFactory
	if factory == nil {
		factory = &zeroconfServerFactory{}
	}
	return &Advertiser{
		config:  config,
		factory: factory,
		log:     config.LoggerFactory.NewLogger("discovery"),
	}, nil
}

// Instance returns the advertised instance name.
func (a *Advertiser) Instance() string { return a.config.Instance }

// Start registers the bridge service.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.server != nil {
		return ErrAlreadyStarted
	}

	txt := a.config.TXT.Encode()
	a.log.Debugf("registering %s.%s port=%d txt=%v", a.config.Instance, ServiceBridge, a.config.Port, txt)
	server, err := a.factory.Register(a.config.Instance, ServiceBridge, DefaultDomain, a.config.Port, txt, a.config.Interfaces)
	if err != nil {
		return fmt.Errorf("discovery: mDNS registration failed: %w", err)
	}
	a.server = server
	return nil
}

// Advertising reports whether the service is registered.
func (a *Advertiser) Advertising() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// Close withdraws the service. The Advertiser cannot be restarted.
func (a *Advertiser) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	return nil
}
