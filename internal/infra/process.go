// Package infra implements infrastructure concerns (processes, filesystem,
// file watching, application loading).
package infra

import (
	"errors"
	"os"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/devreload/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// Interrupt sends SIGINT to the process group led by pid, falling back to
// the single process when pid is not a group leader. Signalling the group
// reaches the binary started by "go run" as well as the go command itself.
func (pm *ProcessManagerImpl) Interrupt(pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGINT); err == nil {
		return nil
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.SendSignal(syscall.SIGINT)
}

// KillTree terminates pid and all of its descendants using SIGKILL.
// Children are killed first so none of them is re-parented mid-walk.
func (pm *ProcessManagerImpl) KillTree(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return killTree(p)
}

func killTree(p *process.Process) error {
	var errs []error
	children, err := p.Children()
	if err == nil {
		for _, child := range children {
			if err := killTree(child); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) && !errors.Is(err, syscall.ESRCH) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// IsRunning checks if a PID exists and is running.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	// On Unix, FindProcess always succeeds
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Send signal 0 to check if process exists
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
