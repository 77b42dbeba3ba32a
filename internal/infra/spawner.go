package infra

import (
	"context"
	"io"
	"os"
	"syscall"

	"go.uber.org/zap"

	"github.com/eliteGoblin/devreload/internal/domain"
)

// CommandSpawner starts application processes built by an AppFactory.
type CommandSpawner struct {
	factory domain.AppFactory
	config  domain.Config
	stdout  io.Writer
	stderr  io.Writer
	logger  *zap.Logger
}

// NewCommandSpawner creates a spawner whose processes share our stdout/stderr.
func NewCommandSpawner(factory domain.AppFactory, cfg domain.Config, logger *zap.Logger) *CommandSpawner {
	return &CommandSpawner{
		factory: factory,
		config:  cfg,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		logger:  logger,
	}
}

// Spawn starts a new application process in its own process group.
// The context is not bound to the process: stopping it is the supervisor's job.
func (s *CommandSpawner) Spawn(_ context.Context) (domain.Process, error) {
	cmd, err := s.factory.Command(s.config)
	if err != nil {
		return nil, &domain.SpawnError{Command: s.factory.Describe(), Err: err}
	}
	cmd.Stdin = nil
	cmd.Stdout = s.stdout
	cmd.Stderr = s.stderr
	// Own process group so an interrupt reaches "go run" and its child
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, &domain.SpawnError{Command: s.factory.Describe(), Err: err}
	}
	s.logger.Debug("spawned application",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("command", s.factory.Describe()))
	return &execProcess{pid: cmd.Process.Pid, wait: cmd.Wait}, nil
}

type execProcess struct {
	pid  int
	wait func() error
}

func (p *execProcess) PID() int    { return p.pid }
func (p *execProcess) Wait() error { return p.wait() }

// Ensure CommandSpawner implements domain.Spawner.
var _ domain.Spawner = (*CommandSpawner)(nil)
