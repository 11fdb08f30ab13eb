package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/remote-agent-terminal/workspace-terminal/api/handlers"
	"github.com/remote-agent-terminal/workspace-terminal/internal/auth"
	"github.com/remote-agent-terminal/workspace-terminal/internal/config"
	"github.com/remote-agent-terminal/workspace-terminal/internal/db"
	"github.com/remote-agent-terminal/workspace-terminal/internal/logging"
	"github.com/remote-agent-terminal/workspace-terminal/internal/metrics"
	"github.com/remote-agent-terminal/workspace-terminal/internal/project"
	"github.com/remote-agent-terminal/workspace-terminal/internal/pty"
	"github.com/remote-agent-terminal/workspace-terminal/internal/repository"
	"github.com/remote-agent-terminal/workspace-terminal/internal/session"
	"github.com/remote-agent-terminal/workspace-terminal/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "terminal-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()
	defer logging.RedirectStdLog(logger)()

	// Ensure data directories exist
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	if cfg.Terminal.RecordingDir != "" {
		if err := os.MkdirAll(cfg.Terminal.RecordingDir, 0o755); err != nil {
			return fmt.Errorf("failed to create recording directory: %w", err)
		}
	}

	database, err := db.InitDB(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer db.CloseDB()

	sessionRepo := repository.NewSessionRepository(database)
	projectRepo := repository.NewProjectRepository(database)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	ptyManager := pty.NewManager(logger)
	ptyManager.DefaultShell = cfg.Terminal.DefaultShell
	ptyManager.RecordingDir = cfg.Terminal.RecordingDir
	ptyManager.DrainTimeout = cfg.Terminal.DrainTimeout
	ptyManager.DefaultCols = cfg.Terminal.DefaultCols
	ptyManager.DefaultRows = cfg.Terminal.DefaultRows

	sessionManager := session.NewManager(ptyManager, sessionRepo, m, logger, session.Config{
		Collision: cfg.Terminal.Collision,
	})
	if err := sessionManager.Recover(context.Background()); err != nil {
		logger.Warn("recovering orphaned sessions", zap.Error(err))
	}

	resolver := project.Chain{project.NewCatalogResolver(projectRepo)}
	if cfg.Terminal.ProjectsRoot != "" {
		resolver = append(resolver, &project.DirResolver{Root: cfg.Terminal.ProjectsRoot})
	}

	gateway := ws.NewGateway(sessionManager, resolver, m, logger, ws.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		PongWait:       cfg.Terminal.PongWait,
	})

	router := setupRouter(cfg, logger, m, registry, routes{
		sessions: handlers.NewSessionHandler(sessionManager, logger),
		projects: handlers.NewProjectHandler(projectRepo, logger),
		config:   handlers.NewConfigHandler(cfg.Server.PublicWSURL),
		terminal: handlers.NewTerminalHandler(gateway, logger),
	})

	srv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr), zap.String("collision", cfg.Terminal.Collision))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Killing the shells first lets every connection close itself.
	if err := sessionManager.Shutdown(ctx); err != nil {
		logger.Warn("killing sessions", zap.Error(err))
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("stopping http server", zap.Error(err))
	}
	logger.Info("server stopped")
	return nil
}

type routes struct {
	sessions *handlers.SessionHandler
	projects *handlers.ProjectHandler
	config   *handlers.ConfigHandler
	terminal *handlers.TerminalHandler
}

func setupRouter(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics, gatherer prometheus.Gatherer, h routes) *gin.Engine {
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))
	r.Use(metrics.Middleware(m))
	r.Use(corsMiddleware(cfg.Server.AllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})
	if cfg.Server.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	validator := auth.NewValidator(cfg.Auth.JWTSecret, cfg.Auth.DevUser)
	if !validator.Enabled() {
		logger.Warn("JWT_SECRET not set, all requests run as the dev user", zap.String("user", cfg.Auth.DevUser))
	}
	authMiddleware := auth.Middleware(validator, logger)

	// The endpoint lookup happens before the client holds a token.
	api := r.Group("/api")
	h.config.RegisterRoutes(api)

	protected := api.Group("", authMiddleware)
	{
		h.sessions.RegisterRoutes(protected)
		h.projects.RegisterRoutes(protected)
	}

	h.terminal.RegisterRoutes(r.Group("", authMiddleware))
	return r
}

// requestLogger logs one line per request. Query strings are left out
// since they may carry tokens.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// corsMiddleware answers preflight requests for the allowed origins.
func corsMiddleware(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && ws.OriginAllowed(origin, allowed) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, PUT, DELETE, OPTIONS")
			c.Writer.Header().Add("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
