package supervisor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullvine/vpnsupervisor/internal/coalesce"
	"github.com/nullvine/vpnsupervisor/internal/netplumb"
	"github.com/nullvine/vpnsupervisor/internal/registry"
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

func newTestConfig(serverID, daemonPath, ovpnConfPath string) (Config, *registry.RuntimeState, *registry.Registry) {
	reg := registry.New()
	bus := &recordingBus{}
	state := &registry.RuntimeState{
		Status:    types.StatusStarting,
		Output:    &types.OutputBuffer{},
		Handshake: types.NewHandshake(),
		Interrupt: registry.NewInterruptFlag(),
	}
	reg.Insert(serverID, state)

	cfg := Config{
		ServerID:       serverID,
		DaemonPath:     daemonPath,
		OVPNConfPath:   ovpnConfPath,
		StatusFilePath: ovpnConfPath + ".status",
		Registry:       reg,
		Plumber:        netplumb.New("10.8.0.0/24", nil),
		Coalescer:      coalesce.New(bus),
		Bus:            bus,
		State:          state,
	}
	return cfg, state, reg
}

func TestRunSpawnFailureFiresHandshakeAndTearsDown(t *testing.T) {
	cfg, state, reg := newTestConfig("srv1", "/nonexistent/openvpn-binary", "/tmp/openvpn.conf")

	done := make(chan struct{})
	go func() {
		Run(cfg)
		close(done)
	}()

	select {
	case <-state.Handshake.Wait():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handshake on spawn failure")
	}

	assert.Nil(t, state.Cmd, "expected Cmd to remain nil after a failed spawn")
	assert.Contains(t, state.Output.String(), "failed to start openvpn process")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run to return")
	}

	_, ok := reg.Get("srv1")
	assert.False(t, ok, "expected registry entry to be removed after teardown")
}

func TestRunSuccessfulSpawnCapturesOutput(t *testing.T) {
	cfg, state, reg := newTestConfig("srv2", "/bin/echo", "hello-from-daemon")

	done := make(chan struct{})
	go func() {
		Run(cfg)
		close(done)
	}()

	select {
	case <-state.Handshake.Wait():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handshake on successful spawn")
	}

	require.NotNil(t, state.Cmd, "expected Cmd to be set after a successful spawn")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run to return")
	}

	assert.Contains(t, state.Output.String(), "hello-from-daemon")
	_, ok := reg.Get("srv2")
	assert.False(t, ok, "expected registry entry to be removed after teardown")
}
