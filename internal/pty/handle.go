package pty

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/remote-agent-terminal/workspace-terminal/internal/buffer"
	"github.com/remote-agent-terminal/workspace-terminal/internal/model"
	"github.com/remote-agent-terminal/workspace-terminal/internal/recording"
)

const (
	// DefaultReadBufferSize is the buffer size for reading PTY output.
	DefaultReadBufferSize = 4096

	// DefaultDrainTimeout bounds how long output is drained after the
	// process exits. Background jobs can keep the slave open indefinitely.
	DefaultDrainTimeout = 500 * time.Millisecond

	// killGrace is how long Kill waits after the hangup before forcing
	// the session down.
	killGrace = 250 * time.Millisecond
)

// ErrOutputClaimed is returned when a second consumer asks for the output stream.
var ErrOutputClaimed = errors.New("pty: output already has a consumer")

// ExitStatus describes how a process terminated.
type ExitStatus struct {
	// Code is the exit code, or -1 when the process died from a signal.
	Code int

	// Killed reports whether termination was requested through Kill.
	Killed bool

	// Err is set when waiting on the process failed.
	Err error
}

// Handle is a live shell process behind a PTY. Output is produced on a
// single stream that must be drained by exactly one consumer, either
// Output or OnData.
type Handle struct {
	id        string
	proc      *Process
	shell     string
	dir       string
	logger    *zap.Logger
	tail      *buffer.RingBuffer
	rec       *recording.Recorder
	recPath   string
	drainWait time.Duration
	startedAt time.Time

	output   chan []byte
	abandon  chan struct{}
	readDone chan struct{}
	reaped   chan struct{}
	exited   chan struct{}

	outMu     sync.Mutex
	outClosed bool
	abandonMu sync.Once

	mu         sync.Mutex
	dead       bool
	killed     bool
	cols       int
	rows       int
	status     ExitStatus
	claimed    bool
	dataDone   chan struct{}
	exitCbs    []func(ExitStatus)
	dispatched bool
}

// newHandle wraps a started process. The caller starts readLoop and waitLoop.
func newHandle(id string, proc *Process, opts SpawnOptions, logger *zap.Logger, tail *buffer.RingBuffer, rec *recording.Recorder, recPath string, drainWait time.Duration) *Handle {
	return &Handle{
		id:        id,
		proc:      proc,
		shell:     opts.Shell,
		dir:       opts.Dir,
		logger:    logger,
		tail:      tail,
		rec:       rec,
		recPath:   recPath,
		drainWait: drainWait,
		startedAt: time.Now(),
		cols:      opts.Cols,
		rows:      opts.Rows,
		output:    make(chan []byte),
		abandon:   make(chan struct{}),
		readDone:  make(chan struct{}),
		reaped:    make(chan struct{}),
		exited:    make(chan struct{}),
	}
}

// ID returns the unique identifier of the handle.
func (h *Handle) ID() string { return h.id }

// PID returns the process ID of the shell.
func (h *Handle) PID() int { return h.proc.PID() }

// Shell returns the binary the handle runs.
func (h *Handle) Shell() string { return h.shell }

// Dir returns the working directory the shell was started in.
func (h *Handle) Dir() string { return h.dir }

// RecordingPath returns the asciicast file of the session, if any.
func (h *Handle) RecordingPath() string { return h.recPath }

// StartedAt returns the spawn time.
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Size returns the current geometry.
func (h *Handle) Size() (cols, rows int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cols, h.rows
}

// Alive reports whether the process is still running.
func (h *Handle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.dead
}

// PreviewLine returns the last non-blank line the process printed.
func (h *Handle) PreviewLine() string {
	return h.tail.LastLine()
}

// Status returns the exit status. It is only meaningful once Exited is closed.
func (h *Handle) Status() ExitStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Output returns the output stream. The channel is closed once the
// process has exited and its output has been drained. It fails if the
// stream already has a consumer.
func (h *Handle) Output() (<-chan []byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.claimed {
		return nil, ErrOutputClaimed
	}
	h.claimed = true
	return h.output, nil
}

// Exited is closed after the process has terminated and its output stream
// has been closed.
func (h *Handle) Exited() <-chan struct{} {
	return h.exited
}

// OnData delivers every output chunk to cb, in emission order, from a
// dedicated goroutine. It fails if the output stream is already consumed.
func (h *Handle) OnData(cb func([]byte)) error {
	h.mu.Lock()
	if h.claimed {
		h.mu.Unlock()
		return ErrOutputClaimed
	}
	h.claimed = true
	done := make(chan struct{})
	h.dataDone = done
	h.mu.Unlock()

	go func() {
		defer close(done)
		for chunk := range h.output {
			cb(chunk)
		}
	}()
	return nil
}

// OnExit registers cb to run once the process has terminated and all
// output has been delivered. Registering after exit runs cb immediately.
func (h *Handle) OnExit(cb func(ExitStatus)) {
	h.mu.Lock()
	if h.dispatched {
		status := h.status
		h.mu.Unlock()
		cb(status)
		return
	}
	h.exitCbs = append(h.exitCbs, cb)
	h.mu.Unlock()
}

// Write forwards p to the process stdin. Writes to a dead process are
// dropped and logged, never returned as errors.
func (h *Handle) Write(p []byte) error {
	h.mu.Lock()
	dead := h.dead
	h.mu.Unlock()

	if dead {
		h.logger.Debug("dropping input", zap.Error(model.ErrWriteAfterExit), zap.Int("bytes", len(p)))
		return nil
	}

	if _, err := h.proc.PTY.Write(p); err != nil {
		if !h.Alive() {
			h.logger.Debug("dropping input", zap.Error(model.ErrWriteAfterExit), zap.Int("bytes", len(p)))
			return nil
		}
		return err
	}

	if h.rec != nil {
		if err := h.rec.Input(p); err != nil {
			h.logger.Warn("recording input failed", zap.Error(err))
		}
	}
	return nil
}

// Resize propagates a new geometry to the process. It fails without side
// effects when the geometry is not positive or the process has exited.
func (h *Handle) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 || cols > maxDimension || rows > maxDimension {
		return &model.ResizeError{Cols: cols, Rows: rows, Err: errors.New("geometry must be positive")}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.dead {
		return &model.ResizeError{Cols: cols, Rows: rows, Err: model.ErrProcessExited}
	}
	if err := h.proc.PTY.Resize(uint16(cols), uint16(rows)); err != nil {
		return &model.ResizeError{Cols: cols, Rows: rows, Err: err}
	}
	h.cols, h.rows = cols, rows

	if h.rec != nil {
		if err := h.rec.Resize(cols, rows); err != nil {
			h.logger.Warn("recording resize failed", zap.Error(err))
		}
	}
	return nil
}

// Kill hangs up the shell and every process in its session, then forces
// whatever is left down after a short grace period. It is idempotent and
// safe to call after the process has exited on its own.
func (h *Handle) Kill() error {
	h.mu.Lock()
	if h.dead || h.killed {
		h.mu.Unlock()
		return nil
	}
	h.killed = true
	h.mu.Unlock()

	h.logger.Debug("hanging up process", zap.Int("pid", h.PID()))
	err := h.proc.Hangup()
	go h.escalate()
	return err
}

// escalate kills the session if the process is still running after killGrace.
func (h *Handle) escalate() {
	timer := time.NewTimer(killGrace)
	defer timer.Stop()

	select {
	case <-h.reaped:
		// waitLoop sweeps the rest of the session.
	case <-timer.C:
		h.logger.Debug("process survived hangup, killing")
		if err := h.proc.Kill(); err != nil {
			h.logger.Warn("killing process", zap.Error(err))
		}
	}
}

// readLoop copies PTY output onto the output stream until the master
// reports an error, which happens once every holder of the slave is gone.
func (h *Handle) readLoop() {
	defer close(h.readDone)
	defer h.closeOutput()

	buf := make([]byte, DefaultReadBufferSize)
	for {
		n, err := h.proc.PTY.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			h.tail.Write(chunk)
			if h.rec != nil {
				if rerr := h.rec.Output(chunk); rerr != nil {
					h.logger.Warn("recording output failed", zap.Error(rerr))
				}
			}
			if !h.emit(chunk) {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// emit hands chunk to the consumer. It reports false once the stream is
// closed or abandoned.
func (h *Handle) emit(chunk []byte) bool {
	h.outMu.Lock()
	defer h.outMu.Unlock()

	if h.outClosed {
		return false
	}
	select {
	case h.output <- chunk:
		return true
	case <-h.abandon:
		return false
	}
}

// closeOutput closes the output stream once.
func (h *Handle) closeOutput() {
	h.outMu.Lock()
	defer h.outMu.Unlock()

	if !h.outClosed {
		h.outClosed = true
		close(h.output)
	}
}

// abandonOutput unblocks a pending emit and closes the stream.
func (h *Handle) abandonOutput() {
	h.abandonMu.Do(func() { close(h.abandon) })
	h.closeOutput()
}

// waitLoop reaps the process, kills anything it left behind, drains its
// output and fires exit callbacks.
func (h *Handle) waitLoop() {
	code, err := h.proc.Wait()

	h.mu.Lock()
	h.dead = true
	h.status = ExitStatus{Code: code, Killed: h.killed, Err: err}
	h.mu.Unlock()
	close(h.reaped)

	// Background jobs must not outlive the shell.
	if kerr := h.proc.Kill(); kerr != nil {
		h.logger.Debug("sweeping session", zap.Error(kerr))
	}

	timer := time.NewTimer(h.drainWait)
	select {
	case <-h.readDone:
		timer.Stop()
	case <-timer.C:
		h.logger.Debug("output still open after exit, abandoning drain")
		h.abandonOutput()
	}

	if cerr := h.proc.Close(); cerr != nil {
		h.logger.Debug("closing pty master", zap.Error(cerr))
	}
	if h.rec != nil {
		if cerr := h.rec.Close(); cerr != nil {
			h.logger.Warn("closing recording", zap.Error(cerr))
		}
	}

	close(h.exited)

	h.mu.Lock()
	dataDone := h.dataDone
	h.mu.Unlock()
	if dataDone != nil {
		<-dataDone
	}

	h.mu.Lock()
	h.dispatched = true
	callbacks := h.exitCbs
	h.exitCbs = nil
	status := h.status
	h.mu.Unlock()

	h.logger.Info("process exited",
		zap.Int("exit_code", status.Code),
		zap.Bool("killed", status.Killed),
		zap.Duration("uptime", time.Since(h.startedAt)),
	)

	for _, cb := range callbacks {
		cb(status)
	}
}
