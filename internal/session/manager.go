// Package session owns the live terminal sessions: it spawns shells for
// (user, project) keys, keeps the registry consistent and records every
// session in the audit store.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/remote-agent-terminal/workspace-terminal/internal/config"
	"github.com/remote-agent-terminal/workspace-terminal/internal/metrics"
	"github.com/remote-agent-terminal/workspace-terminal/internal/model"
	"github.com/remote-agent-terminal/workspace-terminal/internal/pty"
	"github.com/remote-agent-terminal/workspace-terminal/internal/repository"
)

const persistTimeout = 5 * time.Second

// Config holds configuration for the session manager.
type Config struct {
	// Collision is config.CollisionReplace or config.CollisionReject.
	Collision string
}

// OpenRequest asks for a shell bound to a project workspace.
type OpenRequest struct {
	UserID  string
	Project string
	Dir     string
	Cols    int
	Rows    int
}

// Manager manages terminal sessions.
type Manager struct {
	pty      *pty.Manager
	registry *Registry
	repo     *repository.SessionRepository
	metrics  *metrics.Metrics
	logger   *zap.Logger
	policy   string
}

// NewManager creates a new session manager.
func NewManager(ptyManager *pty.Manager, repo *repository.SessionRepository, m *metrics.Metrics, logger *zap.Logger, cfg Config) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Collision == "" {
		cfg.Collision = config.CollisionReplace
	}
	return &Manager{
		pty:      ptyManager,
		registry: NewRegistry(),
		repo:     repo,
		metrics:  m,
		logger:   logger.With(zap.String("component", "session")),
		policy:   cfg.Collision,
	}
}

// Registry returns the live-session registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Open spawns a shell for req and registers it under (user, project).
// Under the replace policy a live session on the same key is killed;
// under the reject policy Open fails with model.ErrSessionOccupied.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*Entry, error) {
	key := model.SessionKey{UserID: req.UserID, Project: req.Project}
	logger := m.logger.With(zap.String("key", key.String()))

	if m.policy == config.CollisionReject {
		if existing, ok := m.registry.Get(key); ok && existing.Handle.Alive() {
			logger.Info("rejecting handshake for occupied key", zap.String("session_id", existing.Session.ID))
			return nil, model.ErrSessionOccupied
		}
	}

	handle, err := m.pty.Spawn(ctx, pty.SpawnOptions{
		Dir:   req.Dir,
		Cols:  req.Cols,
		Rows:  req.Rows,
		Title: key.String(),
	})
	if err != nil {
		m.metrics.SpawnFailed()
		return nil, err
	}

	cols, rows := handle.Size()
	pid := handle.PID()
	now := time.Now()
	sess := &model.Session{
		ID:            handle.ID(),
		UserID:        req.UserID,
		Project:       req.Project,
		Workdir:       req.Dir,
		Shell:         handle.Shell(),
		Status:        model.SessionStatusRunning,
		PID:           &pid,
		Cols:          cols,
		Rows:          rows,
		RecordingPath: handle.RecordingPath(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := m.repo.Create(ctx, sess); err != nil {
		handle.Kill()
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	entry := &Entry{Session: sess, Handle: handle}

	if m.policy == config.CollisionReject {
		if _, ok := m.registry.PutIfAbsent(key, entry); !ok {
			handle.Kill()
			m.finalize(sess.ID, model.SessionStatusFailed, nil, "")
			return nil, model.ErrSessionOccupied
		}
	} else if prev := m.registry.Put(key, entry); prev != nil {
		logger.Info("replacing live session", zap.String("previous_session_id", prev.Session.ID))
		m.metrics.SessionReplaced()
		if err := prev.Handle.Kill(); err != nil {
			logger.Warn("killing replaced session", zap.Error(err))
		}
	}

	m.metrics.SessionStarted()
	handle.OnExit(func(status pty.ExitStatus) {
		m.registry.Remove(key, handle)
		m.recordExit(sess, handle, status)
	})

	logger.Info("session opened",
		zap.String("session_id", sess.ID),
		zap.String("dir", req.Dir),
		zap.Int("pid", pid),
	)
	return entry, nil
}

// Close kills the process of entry and removes it from the registry. It
// is idempotent and never touches a newer session under the same key.
func (m *Manager) Close(entry *Entry) {
	if entry == nil {
		return
	}
	m.registry.Remove(entry.Session.Key(), entry.Handle)
	if err := entry.Handle.Kill(); err != nil {
		m.logger.Warn("killing session", zap.String("session_id", entry.Session.ID), zap.Error(err))
	}
}

// Resize applies a new geometry to a live session and records it.
func (m *Manager) Resize(ctx context.Context, entry *Entry, cols, rows int) error {
	if err := entry.Handle.Resize(cols, rows); err != nil {
		return err
	}
	if err := m.repo.UpdateGeometry(ctx, entry.Session.ID, cols, rows); err != nil {
		m.logger.Warn("recording geometry", zap.String("session_id", entry.Session.ID), zap.Error(err))
	}
	return nil
}

// Lookup returns the live session of a key.
func (m *Manager) Lookup(key model.SessionKey) (*Entry, bool) {
	return m.registry.Get(key)
}

// IsLive reports whether the session with the given ID has a running process.
func (m *Manager) IsLive(id string) bool {
	_, entry, ok := m.registry.FindBySessionID(id)
	return ok && entry.Handle.Alive()
}

// Get returns a session of userID from the audit store.
func (m *Manager) Get(ctx context.Context, userID, id string) (*model.Session, error) {
	sess, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, model.ErrSessionNotFound
	}
	return sess, nil
}

// List returns every session of userID, newest first.
func (m *Manager) List(ctx context.Context, userID string) ([]*model.Session, error) {
	return m.repo.ListByUser(ctx, userID)
}

// Kill terminates the live process of a session owned by userID. The
// owning connection observes the exit and closes itself.
func (m *Manager) Kill(ctx context.Context, userID, id string) error {
	key, entry, ok := m.registry.FindBySessionID(id)
	if !ok {
		if _, err := m.Get(ctx, userID, id); err != nil {
			return err
		}
		return model.ErrProcessExited
	}
	if key.UserID != userID {
		return model.ErrSessionNotFound
	}

	m.logger.Info("killing session on request", zap.String("session_id", id))
	return entry.Handle.Kill()
}

// Recover marks sessions left running by a previous server process as failed.
func (m *Manager) Recover(ctx context.Context) error {
	n, err := m.repo.MarkOrphaned(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		m.logger.Info("marked orphaned sessions", zap.Int64("count", n))
	}
	return nil
}

// Shutdown kills every registered session and waits for them to exit or
// for ctx to be done.
func (m *Manager) Shutdown(ctx context.Context) error {
	entries := m.registry.Entries()
	m.logger.Info("shutting down sessions", zap.Int("live", len(entries)))

	var firstErr error
	for _, e := range entries {
		if err := e.Handle.Kill(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, e := range entries {
		select {
		case <-e.Handle.Exited():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return firstErr
}

func (m *Manager) recordExit(sess *model.Session, handle *pty.Handle, status pty.ExitStatus) {
	final := model.SessionStatusExited
	switch {
	case status.Killed:
		final = model.SessionStatusKilled
	case status.Err != nil:
		final = model.SessionStatusFailed
	}

	m.metrics.SessionEnded(string(final), time.Since(handle.StartedAt()))
	code := status.Code
	m.finalize(sess.ID, final, &code, handle.PreviewLine())
}

func (m *Manager) finalize(id string, status model.SessionStatus, exitCode *int, preview string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	err := m.repo.UpdateStatus(ctx, id, status, exitCode, preview)
	if err != nil && !errors.Is(err, model.ErrSessionNotFound) {
		m.logger.Warn("recording session exit", zap.String("session_id", id), zap.Error(err))
	}
}
