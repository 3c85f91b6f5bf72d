// Package registry owns the process-wide RuntimeState for every running
// server, replacing the original's scattered global maps (thread handles,
// handshakes, child handles, start times, output buffers) with a single
// locked RuntimeRegistry, per spec.md §9 "Global per-id registries".
package registry

import (
	"os/exec"
	"sync"
	"time"

	"github.com/nullvine/vpnsupervisor/internal/metrics"
	"github.com/nullvine/vpnsupervisor/internal/types"
)

// RuntimeState is the non-persistent, per-running-server state described
// in spec.md §3. Registry entries either all exist together (server is or
// has just been running) or none do.
type RuntimeState struct {
	Status    types.Status
	StartTime time.Time

	Output    *types.OutputBuffer
	Handshake *types.Handshake

	// Cmd is the spawned daemon's process handle: capable of sending
	// signals and of being waited on.
	Cmd *exec.Cmd

	// Interrupt, once set, tells the status-poll loop to exit promptly.
	Interrupt *InterruptFlag
}

// InterruptFlag is a tiny lock-guarded boolean; spec.md §5 describes
// cancellation as "a boolean interrupt flag" delivered to the status
// worker.
type InterruptFlag struct {
	mu  sync.Mutex
	set bool
}

// NewInterruptFlag creates an unset interrupt flag.
func NewInterruptFlag() *InterruptFlag {
	return &InterruptFlag{}
}

func (f *InterruptFlag) Set() {
	f.mu.Lock()
	f.set = true
	f.mu.Unlock()
}

func (f *InterruptFlag) Get() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set
}

// Registry maps server id to its RuntimeState, serializing all mutation
// under a single lock. Insert, Remove and SetStatus are the only methods
// that mutate entries.
type Registry struct {
	mu     sync.Mutex
	states map[string]*RuntimeState
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{states: make(map[string]*RuntimeState)}
}

// Get returns the RuntimeState for id, if any.
func (r *Registry) Get(id string) (*RuntimeState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[id]
	return st, ok
}

// Insert installs a RuntimeState for id, replacing any prior entry. At
// most one RuntimeState exists per server id at any instant, per spec.md
// §3's invariant.
func (r *Registry) Insert(id string, st *RuntimeState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.states[id]; ok {
		metrics.ServersRunning.WithLabelValues(string(prev.Status)).Dec()
	}
	r.states[id] = st
	metrics.ServersRunning.WithLabelValues(string(st.Status)).Inc()
}

// Remove deletes the RuntimeState for id, if present.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[id]; ok {
		metrics.ServersRunning.WithLabelValues(string(st.Status)).Dec()
		delete(r.states, id)
	}
}

// SetStatus updates the status field of id's RuntimeState, if present,
// moving its ServersRunning gauge entry from the old status label to the
// new one.
func (r *Registry) SetStatus(id string, status types.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[id]; ok {
		metrics.ServersRunning.WithLabelValues(string(st.Status)).Dec()
		st.Status = status
		metrics.ServersRunning.WithLabelValues(string(st.Status)).Inc()
	}
}

// Status returns the derived run state for id: stopped if no RuntimeState
// exists.
func (r *Registry) Status(id string) types.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[id]
	if !ok {
		return types.StatusStopped
	}
	return st.Status
}

// Uptime returns seconds elapsed since id's RuntimeState entered running,
// or 0 if the server isn't running. StartTime is recorded one second in
// the past at Start, so the first tick already reports uptime >= 1.
func (r *Registry) Uptime(id string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[id]
	if !ok || st.Status != types.StatusRunning {
		return 0
	}
	return int64(time.Since(st.StartTime).Seconds())
}
