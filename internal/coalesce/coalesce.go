// Package coalesce rate-limits change notifications emitted to the event
// bus: at most one emission per second while activity is continuous, but
// never later than ~200ms after a burst of activity ceases.
package coalesce

import (
	"sync"
	"time"

	"github.com/nullvine/vpnsupervisor/internal/metrics"
	"github.com/nullvine/vpnsupervisor/internal/types"
)

const (
	minInterval  = time.Second
	debounceWait = 200 * time.Millisecond
)

// Coalescer coalesces repeated Notify calls for the same (type, resource)
// pair into leading-edge + trailing-edge emissions.
type Coalescer struct {
	bus types.EventBus

	mu        sync.Mutex
	lastEmit  time.Time
	token     uint64
	timer     *time.Timer
}

// New creates a Coalescer that publishes through bus.
func New(bus types.EventBus) *Coalescer {
	return &Coalescer{bus: bus}
}

// Notify records activity for (eventType, resourceID). If at least
// minInterval has elapsed since the last emission it emits immediately;
// otherwise it schedules (or reschedules) a debounced emission debounceWait
// later, which only fires if no newer Notify call has superseded it.
func (c *Coalescer) Notify(eventType types.EventType, resourceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if now.Sub(c.lastEmit) >= minInterval {
		c.lastEmit = now
		c.token++
		if c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}
		c.bus.Publish(eventType, resourceID)
		metrics.CoalescedEventsTotal.WithLabelValues(string(eventType)).Inc()
		return
	}

	c.token++
	myToken := c.token
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(debounceWait, func() {
		c.fireIfCurrent(myToken, eventType, resourceID)
	})
}

func (c *Coalescer) fireIfCurrent(token uint64, eventType types.EventType, resourceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != token {
		// superseded by newer activity
		return
	}
	c.lastEmit = time.Now()
	c.bus.Publish(eventType, resourceID)
	metrics.CoalescedEventsTotal.WithLabelValues(string(eventType)).Inc()
}
