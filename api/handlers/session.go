// Package handlers provides HTTP API request handlers.
package handlers

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/remote-agent-terminal/workspace-terminal/internal/auth"
	"github.com/remote-agent-terminal/workspace-terminal/internal/model"
	"github.com/remote-agent-terminal/workspace-terminal/internal/session"
)

// SessionHandler handles HTTP requests for session management.
type SessionHandler struct {
	sessionManager *session.Manager
	logger         *zap.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessionManager *session.Manager, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		sessionManager: sessionManager,
		logger:         logger,
	}
}

// SessionResponse represents a session in API responses.
type SessionResponse struct {
	ID           string `json:"id"`
	Project      string `json:"project"`
	Workdir      string `json:"workdir"`
	Shell        string `json:"shell"`
	Status       string `json:"status"`
	ExitCode     *int   `json:"exitCode,omitempty"`
	PID          *int   `json:"pid,omitempty"`
	Cols         int    `json:"cols"`
	Rows         int    `json:"rows"`
	PreviewLine  string `json:"previewLine,omitempty"`
	HasRecording bool   `json:"hasRecording"`
	Duration     string `json:"duration"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// toSessionResponse converts a model.Session to SessionResponse.
func toSessionResponse(s *model.Session) *SessionResponse {
	return &SessionResponse{
		ID:           s.ID,
		Project:      s.Project,
		Workdir:      s.Workdir,
		Shell:        s.Shell,
		Status:       string(s.Status),
		ExitCode:     s.ExitCode,
		PID:          s.PID,
		Cols:         s.Cols,
		Rows:         s.Rows,
		PreviewLine:  s.PreviewLine,
		HasRecording: s.RecordingPath != "",
		Duration:     formatDuration(s.Duration()),
		CreatedAt:    s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    s.UpdatedAt.Format(time.RFC3339),
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return time.Duration(h*time.Hour + m*time.Minute + s*time.Second).String()
	}
	if m > 0 {
		return time.Duration(m*time.Minute + s*time.Second).String()
	}
	return time.Duration(s * time.Second).String()
}

// getUserID extracts the user ID set by the auth middleware.
func getUserID(c *gin.Context) string {
	if id, ok := auth.UserID(c); ok {
		return id
	}
	return ""
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// correctStatus reports a row still marked running whose process is gone
// as exited. The exit callback persists the final status shortly after.
func (h *SessionHandler) correctStatus(sess *model.Session) {
	if sess.Status == model.SessionStatusRunning && !h.sessionManager.IsLive(sess.ID) {
		sess.Status = model.SessionStatusExited
	}
}

// List handles GET /api/sessions - lists all sessions for the user.
func (h *SessionHandler) List(c *gin.Context) {
	userID := getUserID(c)

	sessions, err := h.sessionManager.List(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("listing sessions", zap.String("user_id", userID), zap.Error(err))
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list sessions: "+err.Error())
		return
	}

	response := make([]*SessionResponse, len(sessions))
	for i, sess := range sessions {
		h.correctStatus(sess)
		response[i] = toSessionResponse(sess)
	}

	c.JSON(http.StatusOK, response)
}

// lookup fetches the caller's session named by the :id parameter, writing
// the error response itself when it fails.
func (h *SessionHandler) lookup(c *gin.Context) (*model.Session, bool) {
	sessionID := c.Param("id")
	if sessionID == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Session ID is required")
		return nil, false
	}

	sess, err := h.sessionManager.Get(c.Request.Context(), getUserID(c), sessionID)
	if err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+sessionID+" not found")
			return nil, false
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get session: "+err.Error())
		return nil, false
	}
	return sess, true
}

// Get handles GET /api/sessions/:id - gets a specific session.
func (h *SessionHandler) Get(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	h.correctStatus(sess)
	c.JSON(http.StatusOK, toSessionResponse(sess))
}

// Delete handles DELETE /api/sessions/:id - kills the live process of a
// session. The connection bound to it observes the exit and closes.
func (h *SessionHandler) Delete(c *gin.Context) {
	sessionID := c.Param("id")
	if sessionID == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Session ID is required")
		return
	}

	err := h.sessionManager.Kill(c.Request.Context(), getUserID(c), sessionID)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, model.ErrSessionNotFound):
		sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+sessionID+" not found")
	case errors.Is(err, model.ErrProcessExited):
		sendError(c, http.StatusConflict, "SESSION_NOT_RUNNING", "Session is not running")
	default:
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to kill session: "+err.Error())
	}
}

// GetRecording handles GET /api/sessions/:id/recording - downloads the
// asciicast recording of a session.
func (h *SessionHandler) GetRecording(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}

	if sess.RecordingPath == "" {
		sendError(c, http.StatusNotFound, "RECORDING_NOT_FOUND", "No recording for session "+sess.ID)
		return
	}
	if _, err := os.Stat(sess.RecordingPath); err != nil {
		h.logger.Warn("recording missing", zap.String("session_id", sess.ID), zap.Error(err))
		sendError(c, http.StatusNotFound, "RECORDING_NOT_FOUND", "No recording for session "+sess.ID)
		return
	}

	c.Header("Content-Type", "application/x-asciicast")
	c.Header("Content-Disposition", "attachment; filename="+sess.ID+".cast")
	c.File(sess.RecordingPath)
}

// RegisterRoutes registers the session handler routes on a Gin router group.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sessions := rg.Group("/sessions")
	{
		sessions.GET("", h.List)
		sessions.GET("/:id", h.Get)
		sessions.DELETE("/:id", h.Delete)
		sessions.GET("/:id/recording", h.GetRecording)
	}
}
