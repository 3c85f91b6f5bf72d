package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nullvine/vpnsupervisor/internal/types"
)

func TestStatusDefaultsToStopped(t *testing.T) {
	r := New()
	assert.Equal(t, types.StatusStopped, r.Status("missing"))
}

func TestInsertGetRemove(t *testing.T) {
	r := New()
	state := &RuntimeState{Status: types.StatusRunning}
	r.Insert("srv1", state)

	got, ok := r.Get("srv1")
	assert.True(t, ok)
	assert.Same(t, state, got)

	r.Remove("srv1")
	_, ok = r.Get("srv1")
	assert.False(t, ok)
}

func TestSetStatus(t *testing.T) {
	r := New()
	r.Insert("srv1", &RuntimeState{Status: types.StatusStarting})
	r.SetStatus("srv1", types.StatusRunning)
	assert.Equal(t, types.StatusRunning, r.Status("srv1"))
}

func TestSetStatusOnMissingIDIsNoOp(t *testing.T) {
	r := New()
	r.SetStatus("missing", types.StatusRunning) // must not panic
	assert.Equal(t, types.StatusStopped, r.Status("missing"))
}

func TestUptimeZeroWhenNotRunning(t *testing.T) {
	r := New()
	r.Insert("srv1", &RuntimeState{Status: types.StatusStopping, StartTime: time.Now()})
	assert.Zero(t, r.Uptime("srv1"))
}

func TestUptimeReflectsElapsedTime(t *testing.T) {
	r := New()
	r.Insert("srv1", &RuntimeState{
		Status:    types.StatusRunning,
		StartTime: time.Now().Add(-5 * time.Second),
	})
	assert.InDelta(t, 5, r.Uptime("srv1"), 1)
}

func TestInterruptFlag(t *testing.T) {
	f := NewInterruptFlag()
	assert.False(t, f.Get())
	f.Set()
	assert.True(t, f.Get())
}
