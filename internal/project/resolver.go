// Package project maps project identifiers to workspace directories.
package project

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/remote-agent-terminal/workspace-terminal/internal/model"
)

// Resolver maps a project identifier to an existing directory. Failures
// are reported as *model.ResolutionError wrapping model.ErrProjectNotFound
// when the project is simply unknown.
type Resolver interface {
	Resolve(ctx context.Context, project string) (string, error)
}

// Catalogue is the lookup a CatalogResolver reads from.
type Catalogue interface {
	Get(ctx context.Context, name string) (*model.Project, error)
}

// CatalogResolver resolves projects registered in the catalogue.
type CatalogResolver struct {
	catalogue Catalogue
}

// NewCatalogResolver creates a resolver backed by catalogue.
func NewCatalogResolver(catalogue Catalogue) *CatalogResolver {
	return &CatalogResolver{catalogue: catalogue}
}

// Resolve returns the catalogued path of project.
func (r *CatalogResolver) Resolve(ctx context.Context, project string) (string, error) {
	p, err := r.catalogue.Get(ctx, project)
	if err != nil {
		return "", &model.ResolutionError{Project: project, Err: err}
	}
	if err := CheckDir(p.Path); err != nil {
		return "", &model.ResolutionError{Project: project, Err: err}
	}
	return p.Path, nil
}

// DirResolver resolves a project to the directory of the same name under Root.
type DirResolver struct {
	Root string
}

// Resolve returns Root/project if it is an existing directory. Names that
// would escape Root are unknown.
func (r *DirResolver) Resolve(_ context.Context, project string) (string, error) {
	if r.Root == "" || !ValidName(project) {
		return "", &model.ResolutionError{Project: project, Err: model.ErrProjectNotFound}
	}
	path := filepath.Join(r.Root, project)
	if err := CheckDir(path); err != nil {
		return "", &model.ResolutionError{Project: project, Err: err}
	}
	return path, nil
}

// Chain tries each resolver in order and returns the first success. When
// every resolver fails the last error is returned.
type Chain []Resolver

// Resolve implements Resolver.
func (c Chain) Resolve(ctx context.Context, project string) (string, error) {
	if project == "" {
		return "", &model.ResolutionError{Project: project, Err: model.ErrProjectRequired}
	}
	err := error(&model.ResolutionError{Project: project, Err: model.ErrProjectNotFound})
	for _, r := range c {
		path, rerr := r.Resolve(ctx, project)
		if rerr == nil {
			return path, nil
		}
		err = rerr
		if !errors.Is(rerr, model.ErrProjectNotFound) {
			// A catalogued but broken project should not fall through.
			break
		}
	}
	return "", err
}

// ValidName reports whether name can be used as a single path element.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.ContainsRune(name, 0)
}

// CheckDir reports model.ErrProjectNotFound unless path is an existing directory.
func CheckDir(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return model.ErrProjectNotFound
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory: %w", path, model.ErrProjectNotFound)
	}
	return nil
}
