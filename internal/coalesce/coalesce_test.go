package coalesce

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nullvine/vpnsupervisor/internal/types"
)

type recordingBus struct {
	mu        sync.Mutex
	published []types.EventType
}

func (b *recordingBus) Publish(eventType types.EventType, resourceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, eventType)
}

func (b *recordingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

func TestNotifyEmitsImmediatelyOnFirstCall(t *testing.T) {
	bus := &recordingBus{}
	c := New(bus)

	c.Notify(types.EventServersUpdated, "srv1")

	assert.Equal(t, 1, bus.count(), "expected 1 immediate emission")
}

func TestNotifyDebouncesBurst(t *testing.T) {
	bus := &recordingBus{}
	c := New(bus)

	c.Notify(types.EventServersUpdated, "srv1") // immediate
	for i := 0; i < 5; i++ {
		c.Notify(types.EventServersUpdated, "srv1")
		time.Sleep(20 * time.Millisecond)
	}

	assert.Equal(t, 1, bus.count(), "expected burst to still show only 1 emission before debounce fires")

	time.Sleep(debounceWait + 100*time.Millisecond)

	assert.Equal(t, 2, bus.count(), "expected trailing-edge emission after debounce window")
}

func TestNotifySupersedesPendingDebounce(t *testing.T) {
	bus := &recordingBus{}
	c := New(bus)

	c.Notify(types.EventServersUpdated, "srv1") // immediate, resets lastEmit

	c.Notify(types.EventServersUpdated, "srv1") // schedules a debounce
	time.Sleep(debounceWait / 2)
	c.Notify(types.EventServersUpdated, "srv1") // supersedes the first debounce

	time.Sleep(debounceWait + 100*time.Millisecond)

	assert.Equal(t, 2, bus.count(), "expected exactly one trailing emission after superseding")
}

func TestNotifyEmitsImmediatelyAfterQuietPeriod(t *testing.T) {
	bus := &recordingBus{}
	c := New(bus)

	c.Notify(types.EventServersUpdated, "srv1")
	time.Sleep(minInterval + 50*time.Millisecond)
	c.Notify(types.EventServersUpdated, "srv1")

	assert.Equal(t, 2, bus.count(), "expected two immediate emissions after waiting past minInterval")
}
