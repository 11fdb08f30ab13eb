// Package model defines the domain types shared by the terminal gateway.
package model

import (
	"time"
)

// SessionStatus represents the lifecycle state of a terminal session.
type SessionStatus string

const (
	SessionStatusRunning SessionStatus = "running"
	SessionStatusExited  SessionStatus = "exited"
	SessionStatusKilled  SessionStatus = "killed"
	SessionStatusFailed  SessionStatus = "failed"
)

// SessionKey identifies a live session: at most one shell runs per key.
type SessionKey struct {
	UserID  string
	Project string
}

// String renders the key as "<user>-<project>".
func (k SessionKey) String() string {
	return k.UserID + "-" + k.Project
}

// Session is the persisted record of one shell process bound to a project.
type Session struct {
	ID            string        `json:"id"`
	UserID        string        `json:"userId"`
	Project       string        `json:"project"`
	Workdir       string        `json:"workdir"`
	Shell         string        `json:"shell"`
	Status        SessionStatus `json:"status"`
	ExitCode      *int          `json:"exitCode,omitempty"`
	PID           *int          `json:"pid,omitempty"`
	Cols          int           `json:"cols"`
	Rows          int           `json:"rows"`
	PreviewLine   string        `json:"previewLine,omitempty"`
	RecordingPath string        `json:"recordingPath,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Key returns the registry key of the session.
func (s *Session) Key() SessionKey {
	return SessionKey{UserID: s.UserID, Project: s.Project}
}

// Duration returns how long the session has been alive, or how long it
// lived once it is no longer running.
func (s *Session) Duration() time.Duration {
	if s.Status != SessionStatusRunning && !s.UpdatedAt.IsZero() {
		return s.UpdatedAt.Sub(s.CreatedAt)
	}
	return time.Since(s.CreatedAt)
}

// Project maps a project identifier to a workspace directory.
type Project struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
