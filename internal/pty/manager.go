package pty

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/remote-agent-terminal/workspace-terminal/internal/buffer"
	"github.com/remote-agent-terminal/workspace-terminal/internal/model"
	"github.com/remote-agent-terminal/workspace-terminal/internal/recording"
)

const (
	// DefaultCols and DefaultRows are used when a spawn request carries no geometry.
	DefaultCols = 80
	DefaultRows = 30

	// DefaultTailSize is the capacity of the per-process tail buffer used
	// for the preview line.
	DefaultTailSize = 4 * 1024

	maxDimension = 65535
)

// passthroughEnv are inherited unmodified; callers cannot override them.
var passthroughEnv = []string{"USER", "HOME", "PATH"}

// SpawnOptions describes a shell to start.
type SpawnOptions struct {
	// Shell is the binary to run. Empty selects the manager default.
	Shell string

	// Dir is the working directory. It must exist and be a directory.
	Dir string

	// Env holds extra KEY=VALUE entries layered over the inherited environment.
	Env []string

	Cols int
	Rows int

	// Title labels the recording, if one is made.
	Title string
}

// Manager spawns shell processes. Callers own the returned handles.
type Manager struct {
	logger *zap.Logger

	// DefaultShell overrides $SHELL when set.
	DefaultShell string

	// RecordingDir enables asciicast recording when non-empty.
	RecordingDir string

	// TailSize is the tail buffer capacity of each process.
	TailSize int

	// DrainTimeout bounds output draining after exit.
	DrainTimeout time.Duration

	// DefaultCols and DefaultRows apply to spawns without a geometry.
	DefaultCols int
	DefaultRows int
}

// NewManager creates a new PTY manager.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:       logger.With(zap.String("component", "pty")),
		TailSize:     DefaultTailSize,
		DrainTimeout: DefaultDrainTimeout,
		DefaultCols:  DefaultCols,
		DefaultRows:  DefaultRows,
	}
}

// ResolveShell picks the shell binary: the explicit value, then the
// manager default, then $SHELL, then /bin/bash.
func (m *Manager) ResolveShell(shell string) string {
	if shell != "" {
		return shell
	}
	if m.DefaultShell != "" {
		return m.DefaultShell
	}
	if env := os.Getenv("SHELL"); env != "" {
		return env
	}
	return FallbackShell
}

// Spawn starts a shell on a new PTY in opts.Dir.
func (m *Manager) Spawn(ctx context.Context, opts SpawnOptions) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts.Shell = m.ResolveShell(opts.Shell)
	if opts.Cols <= 0 || opts.Cols > maxDimension {
		opts.Cols = orDefault(m.DefaultCols, DefaultCols)
	}
	if opts.Rows <= 0 || opts.Rows > maxDimension {
		opts.Rows = orDefault(m.DefaultRows, DefaultRows)
	}

	info, err := os.Stat(opts.Dir)
	if err != nil {
		return nil, &model.SpawnError{Shell: opts.Shell, Dir: opts.Dir, Err: err}
	}
	if !info.IsDir() {
		return nil, &model.SpawnError{Shell: opts.Shell, Dir: opts.Dir, Err: errors.New("not a directory")}
	}
	if _, err := exec.LookPath(opts.Shell); err != nil {
		return nil, &model.SpawnError{Shell: opts.Shell, Dir: opts.Dir, Err: err}
	}

	id := uuid.New().String()
	logger := m.logger.With(zap.String("handle_id", id))

	var rec *recording.Recorder
	var recPath string
	if m.RecordingDir != "" {
		recPath = filepath.Join(m.RecordingDir, id+".cast")
		rec, err = recording.Create(recPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create recording: %w", err)
		}
		if err := rec.WriteHeader(opts.Cols, opts.Rows, opts.Title); err != nil {
			rec.Close()
			return nil, fmt.Errorf("failed to write recording header: %w", err)
		}
	}

	proc, err := Start(StartOptions{
		Command: opts.Shell,
		Env:     BuildEnv(os.Environ(), opts.Env),
		Dir:     opts.Dir,
		Cols:    uint16(opts.Cols),
		Rows:    uint16(opts.Rows),
	})
	if err != nil {
		if rec != nil {
			rec.Close()
			os.Remove(recPath)
		}
		return nil, &model.SpawnError{Shell: opts.Shell, Dir: opts.Dir, Err: err}
	}

	tailSize := m.TailSize
	if tailSize <= 0 {
		tailSize = DefaultTailSize
	}
	drain := m.DrainTimeout
	if drain <= 0 {
		drain = DefaultDrainTimeout
	}

	h := newHandle(id, proc, opts, logger.With(zap.Int("pid", proc.PID())), buffer.NewRingBuffer(tailSize), rec, recPath, drain)

	go h.readLoop()
	go h.waitLoop()

	logger.Info("spawned shell",
		zap.String("shell", opts.Shell),
		zap.String("dir", opts.Dir),
		zap.Int("pid", proc.PID()),
		zap.Int("cols", opts.Cols),
		zap.Int("rows", opts.Rows),
	)
	return h, nil
}

func orDefault(v, fallback int) int {
	if v <= 0 || v > maxDimension {
		return fallback
	}
	return v
}

// BuildEnv layers extra over base, drops any inherited TERM/COLORTERM and
// forces a 256-colour truecolor terminal. USER, HOME and PATH keep their
// inherited values.
func BuildEnv(base, extra []string) []string {
	protected := make(map[string]bool, len(passthroughEnv))
	for _, k := range passthroughEnv {
		protected[k] = true
	}

	env := make([]string, 0, len(base)+len(extra)+2)
	index := make(map[string]int, len(base)+len(extra))
	set := func(kv string, fromBase bool) {
		key, _, ok := strings.Cut(kv, "=")
		if !ok || key == "" || key == "TERM" || key == "COLORTERM" {
			return
		}
		if protected[key] && !fromBase {
			return
		}
		if i, seen := index[key]; seen {
			env[i] = kv
			return
		}
		index[key] = len(env)
		env = append(env, kv)
	}

	for _, kv := range base {
		set(kv, true)
	}
	for _, kv := range extra {
		set(kv, false)
	}
	return append(env, "TERM=xterm-256color", "COLORTERM=truecolor")
}
