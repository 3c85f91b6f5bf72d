// Package events supplies a default implementation of the types.EventBus
// and types.AuditLog collaborator interfaces: a buffered-channel broker for
// bus events, and a zerolog-backed audit sink. Production deployments are
// expected to supply their own implementations that write into the real
// admin service's database; these exist so the supervisor is runnable and
// testable standalone.
package events

import (
	"sync"
	"time"

	"github.com/nullvine/vpnsupervisor/internal/log"
	"github.com/nullvine/vpnsupervisor/internal/types"
)

// Event is a single published bus notification.
type Event struct {
	Type       types.EventType
	ResourceID string
	Timestamp  time.Time
}

// Subscriber receives published events.
type Subscriber chan *Event

// Broker is a minimal in-process publish/subscribe event bus.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe returns a new subscription channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes and closes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, sub)
	close(sub)
}

// Publish implements types.EventBus.
func (b *Broker) Publish(eventType types.EventType, resourceID string) {
	select {
	case b.eventCh <- &Event{Type: eventType, ResourceID: resourceID, Timestamp: time.Now()}:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case ev := <-b.eventCh:
			b.broadcast(ev)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(ev *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub <- ev:
		default:
			// subscriber buffer full, drop
		}
	}
}

// SubscriberCount reports the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// AuditSink is a zerolog-backed implementation of types.AuditLog.
type AuditSink struct{}

// NewAuditSink creates an audit sink that writes human-readable lines
// through the component logger at info level.
func NewAuditSink() *AuditSink {
	return &AuditSink{}
}

// Logf implements types.AuditLog.
func (a *AuditSink) Logf(format string, args ...any) {
	log.WithComponent("audit").Info().Msgf(format, args...)
}
