package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/remote-agent-terminal/workspace-terminal/internal/ws"
)

// TerminalHandler serves the terminal WebSocket endpoint.
type TerminalHandler struct {
	gateway *ws.Gateway
	logger  *zap.Logger
}

// NewTerminalHandler creates a new TerminalHandler.
func NewTerminalHandler(gateway *ws.Gateway, logger *zap.Logger) *TerminalHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TerminalHandler{gateway: gateway, logger: logger}
}

// Attach handles GET /terminal?project=<id> - upgrades to a WebSocket bound
// to a fresh shell in the project's directory.
func (h *TerminalHandler) Attach(c *gin.Context) {
	if err := h.gateway.Serve(c.Writer, c.Request, getUserID(c)); err != nil {
		// The upgrader has already written the HTTP error.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
	}
}

// RegisterRoutes registers the terminal route.
func (h *TerminalHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/terminal", h.Attach)
}
