// Package eventsink forwards client events to NATS.
//
// Every event is published as JSON on <prefix>.<topic>.<peer>, so a
// subscriber can follow one stone with "bluenet.*.AA:BB:CC:DD:EE:FF" or
// one stream with "bluenet.nearestStone.>".
package eventsink

import (
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pion/logging"

	"github.com/backkem/bluenet/pkg/bluenet"
)

// DefaultPrefix is the subject prefix when Config leaves it empty.
const DefaultPrefix = "bluenet"

// ErrNoPublisher is returned when Config has no publisher.
var ErrNoPublisher = errors.New("eventsink: publisher is required")

// Publisher is the part of *nats.Conn the sink uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Config configures a Sink.
type Config struct {
	// Publisher receives the messages. Required; usually a *nats.Conn.
	Publisher Publisher

	// Prefix is the first subject token. Default: "bluenet"
	Prefix string

	// Topics limits forwarding to these topics. Empty forwards all.
	Topics []bluenet.Topic

	LoggerFactory logging.LoggerFactory
}

// Message is the JSON body of a published event.
type Message struct {
	Topic   bluenet.Topic `json:"topic"`
	Peer    string        `json:"peer,omitempty"`
	Time    time.Time     `json:"time"`
	Error   string        `json:"error,omitempty"`
	Payload any           `json:"payload,omitempty"`
}

// Sink publishes bus events.
type Sink struct {
	config Config
	log    logging.LeveledLogger
	topics map[bluenet.Topic]bool

	published atomic.Uint64
	failed    atomic.Uint64
}

// New creates a sink. Call Attach to start forwarding.
func New(config Config) (*Sink, error) {
	if config.Publisher == nil {
		return nil, ErrNoPublisher
	}
	if config.Prefix == "" {
		config.Prefix = DefaultPrefix
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	s := &Sink{
		config: config,
		log:    config.LoggerFactory.NewLogger("eventsink"),
	}
	if len(config.Topics) > 0 {
		s.topics = make(map[bluenet.Topic]bool, len(config.Topics))
		for _, t := range config.Topics {
			s.topics[t] = true
		}
	}
	return s, nil
}

// Attach forwards every event of bus until the returned function is called.
func (s *Sink) Attach(bus *bluenet.EventBus) func() {
	return bus.SubscribeAll(s.Handle)
}

// Handle publishes one event.
func (s *Sink) Handle(e bluenet.Event) {
	if s.topics != nil && !s.topics[e.Topic] {
		return
	}
	msg := Message{
		Topic:   e.Topic,
		Peer:    e.Peer.String(),
		Time:    e.Time,
		Payload: e.Payload,
	}
	if ce, ok := e.Payload.(bluenet.ConnectionEvent); ok && ce.Err != nil {
		msg.Error = ce.Err.Error()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		s.failed.Add(1)
		s.log.Warnf("encode %s event: %v", e.Topic, err)
		return
	}
	subject := s.Subject(e.Topic, e.Peer.String())
	if err := s.config.Publisher.Publish(subject, data); err != nil {
		s.failed.Add(1)
		s.log.Warnf("publish %s: %v", subject, err)
		return
	}
	s.published.Add(1)
}

// Subject returns the subject an event is published on.
func (s *Sink) Subject(topic bluenet.Topic, peer string) string {
	return s.config.Prefix + "." + string(topic) + "." + token(peer)
}

// Stats returns the number of published and failed messages.
func (s *Sink) Stats() (published, failed uint64) {
	return s.published.Load(), s.failed.Load()
}

// token makes peer usable as a single subject token.
func token(peer string) string {
	if peer == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, peer)
}

// Connect dials a NATS server with reconnect handling logged through
// loggerFactory.
func Connect(url, name string, loggerFactory logging.LoggerFactory) (*nats.Conn, error) {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	log := loggerFactory.NewLogger("nats")
	return nats.Connect(url,
		nats.Name(name),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Errorf("nats error: %v", err)
		}),
	)
}
