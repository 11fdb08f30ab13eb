package handlers

import (
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/remote-agent-terminal/workspace-terminal/internal/model"
	"github.com/remote-agent-terminal/workspace-terminal/internal/project"
	"github.com/remote-agent-terminal/workspace-terminal/internal/repository"
)

// ProjectHandler manages the project catalogue.
type ProjectHandler struct {
	repo   *repository.ProjectRepository
	logger *zap.Logger
}

// NewProjectHandler creates a new ProjectHandler.
func NewProjectHandler(repo *repository.ProjectRepository, logger *zap.Logger) *ProjectHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProjectHandler{repo: repo, logger: logger}
}

// PutProjectRequest is the request body of PUT /api/projects/:name.
type PutProjectRequest struct {
	Path string `json:"path" binding:"required"`
}

// ProjectResponse represents a catalogued project.
type ProjectResponse struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func toProjectResponse(p *model.Project) *ProjectResponse {
	return &ProjectResponse{
		Name:      p.Name,
		Path:      p.Path,
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
		UpdatedAt: p.UpdatedAt.Format(time.RFC3339),
	}
}

// Put handles PUT /api/projects/:name - binds a project name to an
// existing absolute directory.
func (h *ProjectHandler) Put(c *gin.Context) {
	name := c.Param("name")
	if !project.ValidName(name) {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid project name")
		return
	}

	var req PutProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}
	if !filepath.IsAbs(req.Path) {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Project path must be absolute")
		return
	}
	path := filepath.Clean(req.Path)
	if err := project.CheckDir(path); err != nil {
		if errors.Is(err, model.ErrProjectNotFound) {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Project path is not an existing directory")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to check project path: "+err.Error())
		return
	}

	p := &model.Project{Name: name, Path: path}
	if err := h.repo.Upsert(c.Request.Context(), p); err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to save project: "+err.Error())
		return
	}
	saved, err := h.repo.Get(c.Request.Context(), name)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load project: "+err.Error())
		return
	}

	h.logger.Info("project registered", zap.String("project", name), zap.String("path", path))
	c.JSON(http.StatusOK, toProjectResponse(saved))
}

// List handles GET /api/projects - lists the catalogue.
func (h *ProjectHandler) List(c *gin.Context) {
	projects, err := h.repo.List(c.Request.Context())
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list projects: "+err.Error())
		return
	}

	response := make([]*ProjectResponse, len(projects))
	for i, p := range projects {
		response[i] = toProjectResponse(p)
	}
	c.JSON(http.StatusOK, response)
}

// RegisterRoutes registers the project routes on a Gin router group.
func (h *ProjectHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/projects", h.List)
	rg.PUT("/projects/:name", h.Put)
}
