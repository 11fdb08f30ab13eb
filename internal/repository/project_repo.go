package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/remote-agent-terminal/workspace-terminal/internal/model"
)

// ProjectRepository stores the project catalogue.
type ProjectRepository struct {
	db *sql.DB
}

// NewProjectRepository creates a new ProjectRepository.
func NewProjectRepository(db *sql.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// Upsert creates or replaces the directory bound to a project name.
func (r *ProjectRepository) Upsert(ctx context.Context, project *model.Project) error {
	now := time.Now()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	project.UpdatedAt = now

	query := `
		INSERT INTO projects (name, path, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET path = excluded.path, updated_at = excluded.updated_at
	`

	if _, err := r.db.ExecContext(ctx, query, project.Name, project.Path, project.CreatedAt, project.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert project: %w", err)
	}
	return nil
}

// Get returns the project with the given name.
func (r *ProjectRepository) Get(ctx context.Context, name string) (*model.Project, error) {
	query := `SELECT name, path, created_at, updated_at FROM projects WHERE name = ?`

	project := &model.Project{}
	err := r.db.QueryRowContext(ctx, query, name).Scan(&project.Name, &project.Path, &project.CreatedAt, &project.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return project, nil
}

// List returns every catalogued project ordered by name.
func (r *ProjectRepository) List(ctx context.Context) ([]*model.Project, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, path, created_at, updated_at FROM projects ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*model.Project
	for rows.Next() {
		project := &model.Project{}
		if err := rows.Scan(&project.Name, &project.Path, &project.CreatedAt, &project.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}
	return projects, nil
}

// Delete removes a project from the catalogue.
func (r *ProjectRepository) Delete(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return expectOneRow(result, model.ErrProjectNotFound)
}
