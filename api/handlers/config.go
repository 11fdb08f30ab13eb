package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ConfigResponse is the body of GET /api/config.
type ConfigResponse struct {
	WSURL string `json:"wsUrl"`
}

// ConfigHandler tells clients where the terminal endpoint lives.
type ConfigHandler struct {
	publicWSURL string
}

// NewConfigHandler creates a ConfigHandler. An empty publicWSURL derives
// the URL from each request.
func NewConfigHandler(publicWSURL string) *ConfigHandler {
	return &ConfigHandler{publicWSURL: strings.TrimRight(publicWSURL, "/")}
}

// Get handles GET /api/config.
func (h *ConfigHandler) Get(c *gin.Context) {
	url := h.publicWSURL
	if url == "" {
		url = requestWSURL(c.Request)
	}
	c.JSON(http.StatusOK, ConfigResponse{WSURL: url})
}

// RegisterRoutes registers the config route.
func (h *ConfigHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/config", h.Get)
}

func requestWSURL(r *http.Request) string {
	scheme := "ws"
	proto := r.Header.Get("X-Forwarded-Proto")
	if r.TLS != nil || strings.EqualFold(proto, "https") || strings.EqualFold(proto, "wss") {
		scheme = "wss"
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return scheme + "://" + host
}
