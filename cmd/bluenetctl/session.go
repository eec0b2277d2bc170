package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/bluenet/pkg/bluenet"
	"github.com/backkem/bluenet/pkg/keystore"
	"github.com/backkem/bluenet/pkg/transport"
	"github.com/backkem/bluenet/pkg/transport/ble"
)

// Environment variables read for secrets.
const (
	passwordEnv   = "BLUENET_PASSWORD"
	passphraseEnv = "BLUENET_PASSPHRASE"
)

// nearestPeer selects the nearest verified stone instead of a named peer.
const nearestPeer = "nearest"

// radio is an opened adapter plus its teardown.
type radio struct {
	adapter    transport.Adapter
	advertiser transport.Advertiser
	info       string
	close      func()
}

// openRadio opens the radio selected by cfg.
func openRadio(ctx context.Context, cfg *Config, lf logging.LoggerFactory) (*radio, error) {
	if cfg.Link.BLE {
		a, err := ble.New(ble.Config{LoggerFactory: lf})
		if err != nil {
			return nil, err
		}
		return &radio{adapter: a, advertiser: a, info: "BLE: default controller", close: func() {}}, nil
	}

	password := ""
	if cfg.Link.URL != "" && cfg.Link.Username != "" {
		var err error
		password, err = readSecret(passwordEnv, "Password: ")
		if err != nil {
			return nil, err
		}
	}
	conn, info, err := transport.OpenLink(ctx, transport.LinkConfig{
		URL:                cfg.Link.URL,
		Username:           cfg.Link.Username,
		Password:           password,
		InsecureSkipVerify: cfg.Link.InsecureSkipVerify,
		Port:               cfg.Link.Port,
		BaudRate:           cfg.Link.BaudRate,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (use --ble, --port or --url)", err)
	}
	r, err := transport.NewRemoteAdapter(transport.RemoteConfig{Conn: conn, LoggerFactory: lf})
	if err != nil {
		return nil, err
	}
	return &radio{adapter: r, advertiser: r, info: info, close: func() { _ = r.Close() }}, nil
}

// openStore opens the key file, asking for the passphrase when it is sealed.
func openStore(cfg *Config) (*keystore.FileStore, error) {
	store := keystore.NewFileStore(cfg.Keys.Path, []byte(os.Getenv(passphraseEnv)))
	_, err := store.LoadSpheres()
	if errors.Is(err, keystore.ErrPassphraseRequired) {
		pass, err := readSecret(passphraseEnv, "Key file passphrase: ")
		if err != nil {
			return nil, err
		}
		store = keystore.NewFileStore(cfg.Keys.Path, []byte(pass))
		if _, err := store.LoadSpheres(); err != nil {
			return nil, err
		}
		return store, nil
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

// session is a running client on an open radio.
type session struct {
	cfg    *Config
	client *bluenet.Client
	radio  *radio
}

// openSession opens the radio and key file, and starts a client.
func openSession(ctx context.Context) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	lf, err := cfg.LoggerFactory()
	if err != nil {
		return nil, err
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	r, err := openRadio(ctx, cfg, lf)
	if err != nil {
		return nil, err
	}

	client, err := bluenet.NewClient(bluenet.Config{
		Adapter:        r.adapter,
		Advertiser:     r.advertiser,
		Keys:           store,
		ConnectTimeout: cfg.Timeouts.Connect,
		RequestTimeout: cfg.Timeouts.Request,
		IdleTimeout:    cfg.Timeouts.Idle,
		LoggerFactory:  lf,
	})
	if err != nil {
		r.close()
		return nil, err
	}
	if err := client.LoadKeys(); err != nil {
		r.close()
		return nil, err
	}
	if err := client.Start(ctx); err != nil {
		r.close()
		return nil, err
	}
	return &session{cfg: cfg, client: client, radio: r}, nil
}

func (s *session) Close() {
	_ = s.client.Stop()
	s.radio.close()
}

// resolvePeer maps the peer argument to a peer ID. "nearest" waits for the
// nearest verified stone.
func (s *session) resolvePeer(ctx context.Context, arg string) (transport.PeerID, error) {
	if arg != nearestPeer {
		return transport.PeerID(arg), nil
	}
	if n, ok := s.client.NearestVerified(); ok {
		return n.Peer, nil
	}

	found := make(chan transport.PeerID, 1)
	unsubscribe := s.client.Subscribe(bluenet.TopicNearestVerifiedStone, func(e bluenet.Event) {
		select {
		case found <- e.Peer:
		default:
		}
	})
	defer unsubscribe()

	select {
	case peer := <-found:
		return peer, nil
	case <-ctx.Done():
		return "", fmt.Errorf("no verified stone in range: %w", ctx.Err())
	}
}

// awaitVerified waits until an advertisement of peer validates against a
// loaded sphere and returns that sphere.
func (s *session) awaitVerified(ctx context.Context, peer transport.PeerID) (string, error) {
	seen := make(chan struct{}, 1)
	unsubscribe := s.client.Subscribe(bluenet.TopicVerifiedAdvertisement, func(e bluenet.Event) {
		if e.Peer != peer {
			return
		}
		select {
		case seen <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for {
		if ok, ref := s.client.Verified(peer); ok {
			return ref, nil
		}
		select {
		case <-seen:
		case <-ctx.Done():
			return "", fmt.Errorf("%s not verified: %w", peer, ctx.Err())
		}
	}
}

// connect resolves and connects to the peer argument. Without a sphere
// flag the sphere is taken from the stone's advertisements.
func (s *session) connect(ctx context.Context, arg, sphere string, scanTimeout time.Duration) (transport.PeerID, error) {
	scanCtx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	peer, err := s.resolvePeer(scanCtx, arg)
	if err != nil {
		return "", err
	}
	if sphere == "" {
		if sphere, err = s.awaitVerified(scanCtx, peer); err != nil {
			return "", err
		}
	}
	mode, err := s.client.ConnectWithRetry(ctx, peer, sphere, 3)
	if err != nil {
		return "", fmt.Errorf("connect %s: %w", peer, err)
	}
	fmt.Fprintf(os.Stderr, "Connected to %s (%s, sphere %s)\n", peer, mode, sphere)
	return peer, nil
}
