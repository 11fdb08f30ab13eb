package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const configTimeout = 5 * time.Second

// configResponse mirrors the body of GET /api/config.
type configResponse struct {
	WSURL string `json:"wsUrl"`
}

// ResolveEndpoint asks the server at baseURL (http or https) for its
// WebSocket endpoint. When the lookup fails the endpoint is derived from
// baseURL itself. rc may be nil.
func ResolveEndpoint(ctx context.Context, rc *resty.Client, baseURL string, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fallback, err := deriveEndpoint(baseURL)
	if err != nil {
		return "", err
	}
	if rc == nil {
		rc = resty.New().
			SetTimeout(configTimeout).
			SetHeader("User-Agent", "termclient/1.0")
	}

	var cfg configResponse
	resp, err := rc.R().
		SetContext(ctx).
		SetResult(&cfg).
		Get(strings.TrimRight(baseURL, "/") + "/api/config")
	switch {
	case err != nil:
		logger.Debug("endpoint lookup failed, using base url", zap.Error(err))
		return fallback, nil
	case resp.IsError():
		logger.Debug("endpoint lookup failed, using base url", zap.Int("status", resp.StatusCode()))
		return fallback, nil
	}

	ws := strings.TrimRight(cfg.WSURL, "/")
	if !strings.HasPrefix(ws, "ws://") && !strings.HasPrefix(ws, "wss://") {
		logger.Debug("server returned no usable endpoint, using base url", zap.String("ws_url", cfg.WSURL))
		return fallback, nil
	}
	return ws, nil
}

// deriveEndpoint maps http(s)://host/prefix to ws(s)://host/prefix.
func deriveEndpoint(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid server url %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server url %q: missing host", baseURL)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimRight(u.String(), "/"), nil
}
