package bluenet

import (
	"sync"
	"time"

	"github.com/backkem/bluenet/pkg/packet"
	"github.com/backkem/bluenet/pkg/servicedata"
	"github.com/backkem/bluenet/pkg/session"
	"github.com/backkem/bluenet/pkg/transport"
)

// Topic names an event stream.
type Topic string

// Event topics.
const (
	TopicRawAdvertisement        Topic = "rawAdvertisement"
	TopicVerifiedAdvertisement   Topic = "verifiedAdvertisement"
	TopicUnverifiedAdvertisement Topic = "unverifiedAdvertisement"
	TopicSetupAdvertisement      Topic = "setupAdvertisement"
	TopicDFUAdvertisement        Topic = "dfuAdvertisement"
	TopicNearestStone            Topic = "nearestStone"
	TopicNearestSetupStone       Topic = "nearestSetupStone"
	TopicNearestVerifiedStone    Topic = "nearestVerifiedStone"
	TopicConnectionState         Topic = "connectionState"
)

// Topics lists every topic the client publishes.
var Topics = []Topic{
	TopicRawAdvertisement,
	TopicVerifiedAdvertisement,
	TopicUnverifiedAdvertisement,
	TopicSetupAdvertisement,
	TopicDFUAdvertisement,
	TopicNearestStone,
	TopicNearestSetupStone,
	TopicNearestVerifiedStone,
	TopicConnectionState,
}

// Event is one published notification. Payload is a
// transport.RawAdvertisement, an Advertisement, a Nearest or a
// ConnectionEvent depending on the topic.
type Event struct {
	Topic   Topic
	Peer    transport.PeerID
	Time    time.Time
	Payload any
}

// Advertisement is a processed stone broadcast.
type Advertisement struct {
	Peer        transport.PeerID      `json:"peer"`
	Name        string                `json:"name,omitempty"`
	RSSI        int                   `json:"rssi"`
	Mode        session.OperationMode `json:"mode"`
	Validated   bool                  `json:"validated"`
	ReferenceID string                `json:"referenceId,omitempty"`

	// Data is nil when the broadcast could not be decrypted.
	Data *servicedata.ServiceData `json:"data,omitempty"`
}

// ConnectionEvent reports a connection phase change.
type ConnectionEvent struct {
	Peer    transport.PeerID      `json:"peer"`
	Phase   session.Phase         `json:"phase"`
	Mode    session.OperationMode `json:"mode"`
	Dialect packet.Dialect        `json:"dialect"`
	Err     error                 `json:"-"`
}

// Handler receives events. Handlers run on the publishing goroutine and
// must not block.
type Handler func(Event)

// EventBus fans events out to subscribers.
type EventBus struct {
	mu   sync.RWMutex
	next uint64
	subs map[Topic]map[uint64]Handler
	all  map[uint64]Handler
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[Topic]map[uint64]Handler),
		all:  make(map[uint64]Handler),
	}
}

// Subscribe registers h for topic. The returned function removes it and
// may be called more than once.
func (b *EventBus) Subscribe(topic Topic, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	m, ok := b.subs[topic]
	if !ok {
		m = make(map[uint64]Handler)
		b.subs[topic] = m
	}
	m[id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], id)
	}
}

// SubscribeAll registers h for every topic.
func (b *EventBus) SubscribeAll(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	b.all[id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.all, id)
	}
}

// Publish delivers e to the handlers subscribed at the time of the call.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[e.Topic])+len(b.all))
	for _, h := range b.subs[e.Topic] {
		handlers = append(handlers, h)
	}
	for _, h := range b.all {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}

// Subscribers returns the number of handlers for topic, including
// SubscribeAll handlers.
func (b *EventBus) Subscribers(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic]) + len(b.all)
}
