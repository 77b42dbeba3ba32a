package domain

import (
	"context"
	"os/exec"
	"time"
)

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// Interrupt asks the process (and its group) to shut down gracefully.
	Interrupt(pid int) error

	// KillTree terminates a process and all of its descendants (SIGKILL).
	KillTree(pid int) error

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool
}

// Process is a started application process.
type Process interface {
	// PID returns the OS process id.
	PID() int

	// Wait blocks until the process exits and returns its exit error.
	Wait() error
}

// Spawner creates application processes.
type Spawner interface {
	// Spawn starts a new instance of the application.
	Spawn(ctx context.Context) (Process, error)
}

// AppFactory builds the command that runs one application instance.
type AppFactory interface {
	// Command returns a fresh, unstarted command for the application.
	Command(cfg Config) (*exec.Cmd, error)

	// Describe returns a short human-readable form of the command.
	Describe() string
}

// AppLoader resolves an application path specifier.
type AppLoader interface {
	// Resolve returns the factory for the app and the directory to watch
	// for code changes.
	Resolve(spec string) (AppFactory, string, error)
}

// FileSystemManager handles filesystem lookups.
type FileSystemManager interface {
	// Exists checks if a path exists.
	Exists(path string) bool

	// IsDir checks if a path is a readable directory.
	IsDir(path string) bool

	// ReadFile reads a whole file.
	ReadFile(path string) ([]byte, error)

	// ExpandHome expands ~ to the user's home directory.
	ExpandHome(path string) string
}

// ChangeFilter classifies and debounces raw watch events.
type ChangeFilter interface {
	// Dispatch returns the accepted change, or false when the event is dropped.
	Dispatch(ev WatchEvent) (Change, bool)

	// Class returns the class of changes this filter produces.
	Class() ChangeClass
}

// Supervisor owns the lifecycle of the application process.
type Supervisor interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context, timeout time.Duration) error
	Restart(ctx context.Context) error
	Kill() error
}

// Reloader notifies browser sessions about changed assets.
type Reloader interface {
	// StaticReload tells every session to reload the given asset path.
	StaticReload(path string)
}

// SessionConn is the transport of one live-reload session.
// *websocket.Conn from gorilla/websocket satisfies it.
type SessionConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}
