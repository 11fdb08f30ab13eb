package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/remote-agent-terminal/workspace-terminal/internal/model"
)

const sessionColumns = `id, user_id, project, workdir, shell, status, exit_code, pid, cols, rows, preview_line, recording_path, created_at, updated_at`

// SessionRepository provides data access for the session audit trail.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session row.
func (r *SessionRepository) Create(ctx context.Context, session *model.Session) error {
	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		session.Project,
		session.Workdir,
		session.Shell,
		session.Status,
		session.ExitCode,
		session.PID,
		session.Cols,
		session.Rows,
		nullString(session.PreviewLine),
		nullString(session.RecordingPath),
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`

	session, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// ListByUser returns every session of a user, newest first.
func (r *SessionRepository) ListByUser(ctx context.Context, userID string) ([]*model.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

// UpdateStatus records the terminal state of a session.
func (r *SessionRepository) UpdateStatus(ctx context.Context, id string, status model.SessionStatus, exitCode *int, previewLine string) error {
	query := `
		UPDATE sessions
		SET status = ?, exit_code = ?, preview_line = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, status, exitCode, nullString(previewLine), time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	return expectOneRow(result, model.ErrSessionNotFound)
}

// UpdateGeometry records the latest window size of a session.
func (r *SessionRepository) UpdateGeometry(ctx context.Context, id string, cols, rows int) error {
	query := `
		UPDATE sessions
		SET cols = ?, rows = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, cols, rows, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update session geometry: %w", err)
	}
	return expectOneRow(result, model.ErrSessionNotFound)
}

// MarkOrphaned flags sessions left running by a previous process as failed.
// It returns the number of rows changed.
func (r *SessionRepository) MarkOrphaned(ctx context.Context) (int64, error) {
	query := `
		UPDATE sessions
		SET status = ?, updated_at = ?
		WHERE status = ?
	`

	result, err := r.db.ExecContext(ctx, query, model.SessionStatusFailed, time.Now(), model.SessionStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to mark orphaned sessions: %w", err)
	}
	return result.RowsAffected()
}

// Delete removes a session row.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return expectOneRow(result, model.ErrSessionNotFound)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.Session, error) {
	session := &model.Session{}
	var exitCode sql.NullInt64
	var pid sql.NullInt64
	var previewLine sql.NullString
	var recordingPath sql.NullString

	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.Project,
		&session.Workdir,
		&session.Shell,
		&session.Status,
		&exitCode,
		&pid,
		&session.Cols,
		&session.Rows,
		&previewLine,
		&recordingPath,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if exitCode.Valid {
		code := int(exitCode.Int64)
		session.ExitCode = &code
	}
	if pid.Valid {
		p := int(pid.Int64)
		session.PID = &p
	}
	session.PreviewLine = previewLine.String
	session.RecordingPath = recordingPath.String

	return session, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func expectOneRow(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}
