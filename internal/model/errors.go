package model

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a session is not found.
	ErrSessionNotFound = errors.New("session not found")

	// ErrProjectNotFound is returned when a project identifier does not resolve.
	ErrProjectNotFound = errors.New("project not found")

	// ErrProjectRequired is returned when a handshake carries no project.
	ErrProjectRequired = errors.New("no project specified")

	// ErrSessionOccupied is returned when a key already has a live session
	// and the collision policy rejects the handshake.
	ErrSessionOccupied = errors.New("a terminal is already open for this project")

	// ErrMalformedFrame is returned for inbound frames that cannot be decoded.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrWriteAfterExit is reported when input targets a dead process.
	ErrWriteAfterExit = errors.New("write after process exit")

	// ErrProcessExited is returned by operations on a handle whose process is gone.
	ErrProcessExited = errors.New("process has exited")

	// ErrUnauthorized is returned when a request carries no valid identity.
	ErrUnauthorized = errors.New("unauthorized")
)

// ResolutionError reports a project identifier that could not be mapped
// to a workspace directory.
type ResolutionError struct {
	Project string
	Err     error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve project %q: %v", e.Project, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// SpawnError reports a shell process that could not be started.
type SpawnError struct {
	Shell string
	Dir   string
	Err   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s in %s: %v", e.Shell, e.Dir, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ResizeError reports a geometry change that could not be applied.
type ResizeError struct {
	Cols int
	Rows int
	Err  error
}

func (e *ResizeError) Error() string {
	return fmt.Sprintf("resize to %dx%d: %v", e.Cols, e.Rows, e.Err)
}

func (e *ResizeError) Unwrap() error { return e.Err }

// TransportError wraps a WebSocket-level failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
