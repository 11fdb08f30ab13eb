// Package config loads gateway settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Collision policies for a handshake whose key already has a live session.
const (
	CollisionReplace = "replace"
	CollisionReject  = "reject"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Terminal TerminalConfig
	Storage  StorageConfig
	Auth     AuthConfig
	Logging  LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	Port            string        `envconfig:"PORT" default:"3001"`
	PublicWSURL     string        `envconfig:"PUBLIC_WS_URL"`
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS" default:"*"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	MetricsEnabled  bool          `envconfig:"METRICS_ENABLED" default:"true"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// TerminalConfig holds shell and session settings.
type TerminalConfig struct {
	DefaultShell string        `envconfig:"DEFAULT_SHELL"`
	ProjectsRoot string        `envconfig:"PROJECTS_ROOT"`
	Collision    string        `envconfig:"SESSION_COLLISION" default:"replace"`
	DefaultCols  int           `envconfig:"DEFAULT_COLS" default:"80"`
	DefaultRows  int           `envconfig:"DEFAULT_ROWS" default:"30"`
	RecordingDir string        `envconfig:"RECORDING_DIR"`
	DrainTimeout time.Duration `envconfig:"DRAIN_TIMEOUT" default:"500ms"`
	PongWait     time.Duration `envconfig:"PONG_WAIT" default:"60s"`
}

// StorageConfig holds database settings.
type StorageConfig struct {
	DBPath string `envconfig:"DB_PATH" default:"./data/terminal.db"`
}

// AuthConfig holds token verification settings. An empty secret disables
// verification and every request acts as the development user.
type AuthConfig struct {
	JWTSecret string `envconfig:"JWT_SECRET"`
	DevUser   string `envconfig:"DEV_USER" default:"default-user"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the gateway cannot run with.
func (c *Config) Validate() error {
	switch c.Terminal.Collision {
	case CollisionReplace, CollisionReject:
	default:
		return fmt.Errorf("invalid SESSION_COLLISION %q: want %q or %q", c.Terminal.Collision, CollisionReplace, CollisionReject)
	}
	if c.Terminal.DefaultCols <= 0 || c.Terminal.DefaultRows <= 0 {
		return fmt.Errorf("default geometry must be positive, got %dx%d", c.Terminal.DefaultCols, c.Terminal.DefaultRows)
	}
	if c.Terminal.PongWait < time.Second {
		return fmt.Errorf("PONG_WAIT must be at least 1s, got %s", c.Terminal.PongWait)
	}
	if c.Server.Port == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	if u := c.Server.PublicWSURL; u != "" && !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
		return fmt.Errorf("PUBLIC_WS_URL must use ws:// or wss://, got %q", u)
	}
	return nil
}
