// Package supervisor spawns the OpenVPN daemon, streams its combined
// output into a buffer, runs a status-poll side loop, and guarantees
// registry/NAT teardown regardless of exit path. Grounded on
// original_source/pritunl/server.py's _run/_status_thread pair.
package supervisor

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/nullvine/vpnsupervisor/internal/coalesce"
	"github.com/nullvine/vpnsupervisor/internal/log"
	"github.com/nullvine/vpnsupervisor/internal/netplumb"
	"github.com/nullvine/vpnsupervisor/internal/ovpnstatus"
	"github.com/nullvine/vpnsupervisor/internal/registry"
	"github.com/nullvine/vpnsupervisor/internal/types"
)

const (
	statusPollInterval = 100 * time.Millisecond
	statusReadEvery    = 10 // every tenth 100ms tick ~= 1s
)

// Config parameterizes one Run invocation.
type Config struct {
	ServerID       string
	DaemonPath     string // e.g. "openvpn"
	OVPNConfPath   string
	StatusFilePath string

	Registry  *registry.Registry
	Plumber   *netplumb.Plumber
	Coalescer *coalesce.Coalescer
	Bus       types.EventBus

	State *registry.RuntimeState
}

// Run spawns the daemon and drives both sub-loops until the daemon exits
// or is signaled. It must be invoked in its own goroutine; it returns once
// teardown is complete. The registry entry for ServerID and the interrupt
// flag are always cleared/set before Run returns, per spec.md §4.E's
// teardown guarantee.
func Run(cfg Config) {
	logger := log.WithServerID(cfg.ServerID)

	statusDone := make(chan struct{})
	go runStatusLoop(cfg, statusDone)

	// Teardown guarantee (spec.md §4.E): the interrupt flag is set so the
	// status loop exits promptly and runs its own NAT-clear/handshake
	// teardown, then the registry entry for this server id is removed.
	// Order matters: Interrupt must be set before waiting on statusDone,
	// or the status loop would never observe it and this would deadlock.
	defer func() {
		cfg.State.Interrupt.Set()
		<-statusDone
		cfg.Registry.Remove(cfg.ServerID)
	}()

	cmd := exec.Command(cfg.DaemonPath, cfg.OVPNConfPath)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		failSpawn(cfg, logger, fmt.Errorf("create stdout pipe: %w", err))
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		failSpawn(cfg, logger, fmt.Errorf("create stderr pipe: %w", err))
		return
	}

	if err := cmd.Start(); err != nil {
		failSpawn(cfg, logger, err)
		return
	}

	cfg.State.Cmd = cmd
	cfg.State.Handshake.Fire()

	lines := make(chan string, 64)
	done := make(chan struct{}, 2)
	go readLines(stdout, lines, done)
	go readLines(stderr, lines, done)

	go func() {
		<-done
		<-done
		close(lines)
	}()

	for line := range lines {
		cfg.State.Output.Append(line + "\n")
		cfg.Coalescer.Notify(types.EventServerOutputUpdated, cfg.ServerID)
	}

	if err := cmd.Wait(); err != nil {
		logger.Debug().Err(err).Msg("openvpn process exited")
	} else {
		logger.Debug().Msg("openvpn process has ended")
	}
}

// failSpawn captures the spawn error into the output buffer, notifies the
// output event, and fires the handshake so a blocked caller unblocks with
// a deterministic failure. Per spec.md §4.E "Spawn failure". No NAT
// cleanup is triggered here directly — the status loop's teardown path
// (driven by the Interrupt flag set in Run's deferred block) still clears
// the rules installed before spawn.
func failSpawn(cfg Config, logger zerolog.Logger, err error) {
	logger.Error().Err(err).Msg("failed to start openvpn process")
	cfg.State.Output.Append(fmt.Sprintf("failed to start openvpn process: %v\n", err))
	cfg.Coalescer.Notify(types.EventServerOutputUpdated, cfg.ServerID)
	cfg.State.Handshake.Fire()
}

// readLines scans r line by line and forwards each to lines, signaling
// done on EOF or error. It never busy-spins: bufio.Scanner blocks on read.
func readLines(r io.Reader, lines chan<- string, done chan<- struct{}) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
	done <- struct{}{}
}

// runStatusLoop polls at statusPollInterval; every statusReadEvery ticks
// it reads the status file and compares the live client count with the
// last observed count, emitting USERS_UPDATED and SERVERS_UPDATED via the
// bus on change. It exits when the interrupt flag is set, then clears NAT
// rules and fires the handshake, per spec.md §4.E "Status loop".
func runStatusLoop(cfg Config, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()

	tick := 0
	lastCount := 0
	for !cfg.State.Interrupt.Get() {
		<-ticker.C
		if cfg.State.Interrupt.Get() {
			break
		}
		tick++
		if tick < statusReadEvery {
			continue
		}
		tick = 0

		clients, err := ovpnstatus.Read(cfg.StatusFilePath)
		if err != nil {
			log.WithServerID(cfg.ServerID).Warn().Err(err).Msg("failed to read status file")
			continue
		}
		count := len(clients)
		if count != lastCount {
			cfg.Bus.Publish(types.EventUsersUpdated, cfg.ServerID)
			cfg.Bus.Publish(types.EventServersUpdated, cfg.ServerID)
		}
		lastCount = count
	}

	if err := cfg.Plumber.Clear(); err != nil {
		log.WithServerID(cfg.ServerID).Error().Err(err).Msg("failed to clear nat rules on teardown")
	}
	cfg.State.Handshake.Fire()
}
