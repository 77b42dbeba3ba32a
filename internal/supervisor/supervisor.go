// Package supervisor owns the lifecycle of the single application process.
package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/devreload/internal/domain"
)

// killGrace is how long to wait for the reaper after a forced kill.
const killGrace = time.Second

// State is the supervisor state.
type State int

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Config holds supervisor configuration.
type Config struct {
	StopTimeout time.Duration // How long to wait for a graceful exit
	ForceKill   bool          // Kill the process tree when StopTimeout elapses
}

// DefaultConfig returns default supervisor configuration.
func DefaultConfig() Config {
	return Config{
		StopTimeout: 5 * time.Second,
		ForceKill:   false,
	}
}

// Supervisor starts, stops and restarts the application process.
// Lifecycle operations are serialized; at most one process exists at a time.
type Supervisor struct {
	config         Config
	spawner        domain.Spawner
	processManager domain.ProcessManager
	logger         *zap.Logger

	opMu    sync.Mutex  // serializes Start, Stop, Restart
	pending atomic.Bool // a Restart is waiting for opMu

	mu       sync.Mutex
	state    State
	proc     domain.Process
	current  *domain.SupervisedProcess
	exited   chan struct{}
	restarts int
}

// New creates a supervisor in the Stopped state.
func New(config Config, spawner domain.Spawner, pm domain.ProcessManager, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		config:         config,
		spawner:        spawner,
		processManager: pm,
		logger:         logger,
		state:          StateStopped,
	}
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current returns the running process, or nil when stopped.
func (s *Supervisor) Current() *domain.SupervisedProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	cp := *s.current
	return &cp
}

// Restarts returns how many restarts have completed.
func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// Start spawns the application. Failure is a *domain.SpawnError.
func (s *Supervisor) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.startLocked(ctx)
}

// Stop interrupts the application and waits up to timeout for it to exit.
// Returns domain.ErrSupervisorTimeout when it is still alive afterwards.
// Stopping a stopped supervisor is a no-op.
func (s *Supervisor) Stop(ctx context.Context, timeout time.Duration) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.stopLocked(ctx, timeout)
}

// Restart stops the application (if running) and starts it again as one
// operation. One restart may wait behind a running one; any further
// overlapping call returns domain.ErrRestartQueued.
func (s *Supervisor) Restart(ctx context.Context) error {
	if !s.pending.CompareAndSwap(false, true) {
		return domain.ErrRestartQueued
	}
	s.opMu.Lock()
	s.pending.Store(false)
	defer s.opMu.Unlock()

	// A restart that queued behind shutdown must not bring the app back
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.stopLocked(ctx, s.config.StopTimeout); err != nil {
		if !errors.Is(err, domain.ErrSupervisorTimeout) {
			return err
		}
		// Baseline behavior: start the replacement anyway
		s.logger.Warn("application did not stop in time, starting a new one anyway",
			zap.Duration("timeout", s.config.StopTimeout))
	}
	if err := s.startLocked(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.restarts++
	s.mu.Unlock()
	return nil
}

// Kill terminates the application process tree immediately.
func (s *Supervisor) Kill() error {
	s.mu.Lock()
	proc := s.proc
	s.state = StateStopped
	s.proc = nil
	s.current = nil
	s.mu.Unlock()

	if proc == nil {
		return nil
	}
	s.logger.Warn("killing application", zap.Int("pid", proc.PID()))
	return s.processManager.KillTree(proc.PID())
}

func (s *Supervisor) startLocked(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return domain.ErrAlreadyRunning
	}
	s.mu.Unlock()

	proc, err := s.spawner.Spawn(ctx)
	if err != nil {
		var spawnErr *domain.SpawnError
		if !errors.As(err, &spawnErr) {
			err = &domain.SpawnError{Err: err}
		}
		s.logger.Error("failed to start application", zap.Error(err))
		return err
	}

	exited := make(chan struct{})
	current := &domain.SupervisedProcess{PID: proc.PID(), StartedAt: time.Now()}

	s.mu.Lock()
	s.state = StateRunning
	s.proc = proc
	s.current = current
	s.exited = exited
	s.mu.Unlock()

	go s.reap(proc, exited)

	s.logger.Info("application started", zap.Int("pid", proc.PID()))
	return nil
}

// reap waits for proc to exit and releases it. An exit nobody asked for
// moves the supervisor to Stopped; the next code change starts the app again.
func (s *Supervisor) reap(proc domain.Process, exited chan struct{}) {
	err := proc.Wait()

	s.mu.Lock()
	if s.proc == proc {
		if s.state == StateRunning {
			s.logger.Warn("application exited", zap.Int("pid", proc.PID()), zap.Error(err))
		}
		s.state = StateStopped
		s.proc = nil
		s.current = nil
	}
	s.mu.Unlock()

	close(exited)
}

// stopLocked interrupts the process and waits for it. A cancelled ctx
// leaves the process in place, in Stopping, so a later Stop interrupts it
// again and waits; only a confirmed exit, a forced kill or an abandoned
// timeout releases it.
func (s *Supervisor) stopLocked(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	if s.state == StateStopped || s.proc == nil {
		s.mu.Unlock()
		s.logger.Debug("application not running, nothing to stop")
		return nil
	}
	s.state = StateStopping
	pid := s.proc.PID()
	exited := s.exited
	s.mu.Unlock()

	s.logger.Debug("stopping application", zap.Int("pid", pid))
	if err := s.processManager.Interrupt(pid); err != nil {
		s.logger.Warn("failed to interrupt application", zap.Int("pid", pid), zap.Error(err))
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var result error
	select {
	case <-exited:
		s.logger.Debug("application stopped", zap.Int("pid", pid))
	case <-timer.C:
		result = domain.ErrSupervisorTimeout
	case <-ctx.Done():
		result = ctx.Err()
	}

	if result != nil && s.config.ForceKill {
		s.logger.Warn("application still alive, killing process tree", zap.Int("pid", pid))
		if err := s.processManager.KillTree(pid); err != nil {
			s.logger.Warn("failed to kill application", zap.Int("pid", pid), zap.Error(err))
		}
		select {
		case <-exited:
		case <-time.After(killGrace):
		}
	} else if result != nil && !errors.Is(result, domain.ErrSupervisorTimeout) {
		s.logger.Warn("stop cancelled before application exited", zap.Int("pid", pid))
		return result
	}

	s.mu.Lock()
	s.state = StateStopped
	s.proc = nil
	s.current = nil
	s.mu.Unlock()
	return result
}

// Ensure Supervisor implements domain.Supervisor.
var _ domain.Supervisor = (*Supervisor)(nil)
