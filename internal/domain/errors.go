package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSupervisorTimeout means the application did not exit within the
	// stop timeout. Not fatal.
	ErrSupervisorTimeout = errors.New("supervised process did not exit before timeout")

	// ErrProtocolMismatch means a client did not offer livereload protocol 7.
	ErrProtocolMismatch = errors.New("live reload protocol 7 not supported by client")

	// ErrAlreadyRunning is returned by Start while the application runs.
	ErrAlreadyRunning = errors.New("application is already running")

	// ErrRestartQueued means a restart is already waiting behind the one in
	// progress and covers this request.
	ErrRestartQueued = errors.New("restart already queued")
)

// SpawnError means the application process could not be created. Fatal.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// WatchSetupError means a watch root is missing or unreadable. Fatal at startup.
type WatchSetupError struct {
	Root string
	Err  error
}

func (e *WatchSetupError) Error() string {
	return fmt.Sprintf("cannot watch %s: %v", e.Root, e.Err)
}

func (e *WatchSetupError) Unwrap() error { return e.Err }

// LoaderError means the application path could not be resolved. Fatal at startup.
type LoaderError struct {
	Spec string
	Err  error
}

func (e *LoaderError) Error() string {
	return fmt.Sprintf("cannot load application %q: %v", e.Spec, e.Err)
}

func (e *LoaderError) Unwrap() error { return e.Err }

// MalformedMessageError is a session frame that is not valid JSON.
type MalformedMessageError struct {
	Data []byte
	Err  error
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("JSON decode error: %v", e.Err)
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

// IsFatal reports whether err must terminate the tool.
func IsFatal(err error) bool {
	var spawnErr *SpawnError
	var watchErr *WatchSetupError
	var loaderErr *LoaderError
	return errors.As(err, &spawnErr) || errors.As(err, &watchErr) || errors.As(err, &loaderErr)
}
