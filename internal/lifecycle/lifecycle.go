// Package lifecycle implements the Lifecycle Controller: the
// start/stop/force-stop/restart/reload/remove state machine with
// handshake synchronization between the caller and the process
// supervisor. Grounded on pkg/manager/fsm.go's small explicit
// state/command dispatch shape and
// original_source/pritunl/server.py's start/stop/force_stop/restart/
// reload/remove methods for exact preconditions, timeouts, and ordering.
package lifecycle

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nullvine/vpnsupervisor/internal/coalesce"
	"github.com/nullvine/vpnsupervisor/internal/log"
	"github.com/nullvine/vpnsupervisor/internal/metrics"
	"github.com/nullvine/vpnsupervisor/internal/netplumb"
	"github.com/nullvine/vpnsupervisor/internal/ovpnconf"
	"github.com/nullvine/vpnsupervisor/internal/recordstore"
	"github.com/nullvine/vpnsupervisor/internal/registry"
	"github.com/nullvine/vpnsupervisor/internal/supervisor"
	"github.com/nullvine/vpnsupervisor/internal/types"
)

// DefaultEventTimeout is THREAD_EVENT_TIMEOUT: the bounded wait for a
// handshake from the process supervisor.
const DefaultEventTimeout = 10 * time.Second

// DefaultDaemonPath is the external daemon binary invoked at spawn.
const DefaultDaemonPath = "openvpn"

// removeGracefulWindow and removeForcePause are the Remove operation's
// literal poll/grace windows, per spec.md §4.F and §9's open question on
// the original's xrange(20) @ 0.1s.
const (
	removeGracefulWindow = 2 * time.Second
	removeForcePause     = 500 * time.Millisecond
	removePollInterval   = 100 * time.Millisecond
)

// Config parameterizes a Controller.
type Config struct {
	DataDir      string
	DHParamBits  int
	DaemonPath   string
	Templates    types.Templates
	Inline       bool
	EventTimeout time.Duration
}

// Controller drives one server's run-state machine, serializing
// start/stop on the same server id via a per-id lock.
type Controller struct {
	cfg       Config
	store     *recordstore.Store
	registry  *registry.Registry
	orgs      types.OrganizationStore
	bus       types.EventBus
	audit     types.AuditLog
	coalescer *coalesce.Coalescer

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates a Controller.
func New(cfg Config, store *recordstore.Store, reg *registry.Registry, orgs types.OrganizationStore, bus types.EventBus, audit types.AuditLog) *Controller {
	if cfg.EventTimeout == 0 {
		cfg.EventTimeout = DefaultEventTimeout
	}
	if cfg.DaemonPath == "" {
		cfg.DaemonPath = DefaultDaemonPath
	}
	return &Controller{
		cfg:       cfg,
		store:     store,
		registry:  reg,
		orgs:      orgs,
		bus:       bus,
		audit:     audit,
		coalescer: coalesce.New(bus),
		locks:     make(map[string]*sync.Mutex),
	}
}

func (c *Controller) lockFor(id string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	l, ok := c.locks[id]
	if !ok {
		l = &sync.Mutex{}
		c.locks[id] = l
	}
	return l
}

// Start renders the config, prepares the host network, spawns the
// supervisor worker, and blocks until the handshake confirms the daemon
// is alive (or has failed to spawn). Two concurrent Starts on the same id
// never spawn two daemons: the second observes the server already
// starting/running and is a no-op, per spec.md §8 invariant 2.
func (c *Controller) Start(rec *types.ServerRecord, silent bool) error {
	lock := c.lockFor(rec.ID)
	lock.Lock()
	defer lock.Unlock()
	return c.startLocked(rec, silent)
}

func (c *Controller) startLocked(rec *types.ServerRecord, silent bool) error {
	if c.registry.Status(rec.ID) != types.StatusStopped {
		return nil
	}

	orgs := c.store.Organizations(rec)
	if len(orgs) == 0 {
		return fmt.Errorf("lifecycle: server cannot be started without any organizations")
	}

	logger := log.WithServerID(rec.ID)
	logger.Debug().Msg("starting server")

	paths := c.store.Paths(rec.ID)
	commit := func() error { return c.store.Commit(rec) }
	if err := ovpnconf.Render(rec, orgs, paths, c.cfg.Templates, c.cfg.DataDir, c.cfg.DHParamBits, c.cfg.Inline, commit); err != nil {
		return err
	}

	plumber := netplumb.New(rec.Network, rec.LocalNetworks)
	if err := plumber.EnableForwarding(); err != nil {
		return err
	}
	if err := plumber.Install(); err != nil {
		return err
	}

	handshake := types.NewHandshake()
	state := &registry.RuntimeState{
		Status:    types.StatusStarting,
		StartTime: time.Now().Add(-time.Second),
		Output:    &types.OutputBuffer{},
		Handshake: handshake,
		Interrupt: registry.NewInterruptFlag(),
	}
	c.registry.Insert(rec.ID, state)

	go supervisor.Run(supervisor.Config{
		ServerID:       rec.ID,
		DaemonPath:     c.cfg.DaemonPath,
		OVPNConfPath:   paths.OVPNConfPath,
		StatusFilePath: paths.StatusFilePath,
		Registry:       c.registry,
		Plumber:        plumber,
		Coalescer:      c.coalescer,
		Bus:            c.bus,
		State:          state,
	})

	select {
	case <-handshake.Wait():
	case <-time.After(c.cfg.EventTimeout):
		metrics.HandshakeTimeoutsTotal.WithLabelValues("start").Inc()
		return fmt.Errorf("lifecycle: server thread failed to return start event")
	}
	handshake.Clear()

	if state.Cmd == nil {
		// Spawn failed; the supervisor already captured the traceback
		// into the output buffer and will tear down the registry entry.
		return fmt.Errorf("lifecycle: server failed to start: %s", state.Output.String())
	}

	c.registry.SetStatus(rec.ID, types.StatusRunning)

	if !silent {
		c.bus.Publish(types.EventServersUpdated, rec.ID)
		c.audit.Logf("Started server %q.", rec.Name)
	}
	return nil
}

// Stop sends SIGINT and blocks until the handshake confirms teardown.
func (c *Controller) Stop(rec *types.ServerRecord, silent bool) error {
	lock := c.lockFor(rec.ID)
	lock.Lock()
	defer lock.Unlock()
	return c.signalAndWait(rec, silent, unix.SIGINT, "Stopped", "stop")
}

// ForceStop sends SIGKILL and blocks until the handshake confirms
// teardown.
func (c *Controller) ForceStop(rec *types.ServerRecord, silent bool) error {
	lock := c.lockFor(rec.ID)
	lock.Lock()
	defer lock.Unlock()
	return c.signalAndWait(rec, silent, unix.SIGKILL, "Stopped", "force_stop")
}

func (c *Controller) signalAndWait(rec *types.ServerRecord, silent bool, sig unix.Signal, verb, op string) error {
	state, ok := c.registry.Get(rec.ID)
	if !ok || c.registry.Status(rec.ID) != types.StatusRunning {
		return nil
	}

	c.registry.SetStatus(rec.ID, types.StatusStopping)

	if err := state.Cmd.Process.Signal(sig); err != nil {
		return fmt.Errorf("lifecycle: signal server: %w", err)
	}

	select {
	case <-state.Handshake.Wait():
	case <-time.After(c.cfg.EventTimeout):
		metrics.HandshakeTimeoutsTotal.WithLabelValues(op).Inc()
		return fmt.Errorf("lifecycle: server thread failed to return stop event")
	}

	if !silent {
		c.bus.Publish(types.EventServersUpdated, rec.ID)
		c.audit.Logf("%s server %q.", verb, rec.Name)
	}
	return nil
}

// Restart is a silenced stop followed by a silenced start, with a single
// combined event/log. Restart from an already-stopped server is a single
// silenced Start, per spec.md §9's resolution of the original's
// restart-from-stopped ambiguity.
func (c *Controller) Restart(rec *types.ServerRecord) error {
	lock := c.lockFor(rec.ID)
	lock.Lock()
	defer lock.Unlock()

	if c.registry.Status(rec.ID) == types.StatusStopped {
		if err := c.startLocked(rec, true); err != nil {
			return err
		}
	} else {
		if err := c.signalAndWait(rec, true, unix.SIGINT, "Stopped", "restart_stop"); err != nil {
			return err
		}
		if err := c.startLocked(rec, true); err != nil {
			return err
		}
	}

	c.bus.Publish(types.EventServersUpdated, rec.ID)
	c.audit.Logf("Restarted server %q.", rec.Name)
	return nil
}

// Reload sends SIGUSR1, a non-disruptive nudge with no handshake wait. If
// the server is currently stopped it is started first.
func (c *Controller) Reload(rec *types.ServerRecord) error {
	lock := c.lockFor(rec.ID)
	lock.Lock()
	defer lock.Unlock()

	if c.registry.Status(rec.ID) == types.StatusStopped {
		if err := c.startLocked(rec, false); err != nil {
			return err
		}
	}

	state, ok := c.registry.Get(rec.ID)
	if !ok {
		return fmt.Errorf("lifecycle: server not running")
	}

	log.WithServerID(rec.ID).Debug().Msg("reloading server")
	if err := state.Cmd.Process.Signal(unix.SIGUSR1); err != nil {
		return fmt.Errorf("lifecycle: reload signal: %w", err)
	}
	c.audit.Logf("Reloaded server %q.", rec.Name)
	return nil
}

// Remove stops a running server, clears the primary user, erases the
// working directory, and emits SERVERS_UPDATED plus an audit log line.
// The graceful stop sends SIGINT and waits for the handshake, returning an
// error if it does not arrive within the event timeout; if the registry
// entry has still not cleared within removeGracefulWindow after that, the
// daemon is sent SIGKILL and Remove waits a further removeForcePause.
func (c *Controller) Remove(rec *types.ServerRecord) error {
	lock := c.lockFor(rec.ID)
	lock.Lock()

	if c.registry.Status(rec.ID) != types.StatusStopped {
		if err := c.signalAndWait(rec, true, unix.SIGINT, "Stopped", "remove_stop"); err != nil {
			lock.Unlock()
			return err
		}

		deadline := time.Now().Add(removeGracefulWindow)
		for c.registry.Status(rec.ID) != types.StatusStopped && time.Now().Before(deadline) {
			time.Sleep(removePollInterval)
		}

		if c.registry.Status(rec.ID) != types.StatusStopped {
			// The status is "stopping" here, so signalAndWait would be a
			// no-op; signal the child directly.
			if state, ok := c.registry.Get(rec.ID); ok && state.Cmd != nil {
				if err := state.Cmd.Process.Signal(unix.SIGKILL); err != nil {
					log.WithServerID(rec.ID).Debug().Err(err).Msg("force kill during remove")
				}
			}
			time.Sleep(removeForcePause)
		}
	}
	lock.Unlock()

	logger := log.WithServerID(rec.ID)
	logger.Info().Msg("removing server")

	if err := ovpnconf.RemovePrimaryUser(rec, c.orgs); err != nil {
		logger.Error().Err(err).Msg("failed to remove primary user")
	} else if err := c.store.Commit(rec); err != nil {
		logger.Error().Err(err).Msg("failed to commit server conf after removing primary user")
	}

	if err := c.store.Delete(rec.ID); err != nil {
		return fmt.Errorf("lifecycle: erase server directory: %w", err)
	}

	c.bus.Publish(types.EventServersUpdated, rec.ID)
	c.audit.Logf("Deleted server %q.", rec.Name)
	return nil
}
