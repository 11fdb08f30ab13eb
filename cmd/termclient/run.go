package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/remote-agent-terminal/workspace-terminal/internal/client"
	"github.com/remote-agent-terminal/workspace-terminal/internal/logging"
)

const (
	fallbackCols = 120
	fallbackRows = 30
)

type runOptions struct {
	server   string
	project  string
	token    string
	logLevel string
}

func run(ctx context.Context, opts runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	logger, err := logging.New(logging.Config{
		Level:       opts.logLevel,
		Development: true,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		return err
	}
	defer logger.Sync()

	endpoint, err := client.ResolveEndpoint(ctx, nil, opts.server, logger)
	if err != nil {
		return err
	}

	surface := newTTYSurface(os.Stdout, int(os.Stdout.Fd()))
	adapter := client.New(surface, client.Options{
		Endpoint: endpoint,
		Project:  opts.project,
		Token:    opts.token,
		Logger:   logger,
	})

	restore, err := makeStdinRaw()
	if err != nil {
		return fmt.Errorf("failed to set raw mode: %w", err)
	}
	defer restore()

	if err := adapter.Connect(ctx); err != nil {
		return err
	}
	defer adapter.Close()

	stopResize := watchResize(func() {
		cols, rows := surface.Size()
		if err := adapter.Resize(cols, rows); err != nil && !errors.Is(err, client.ErrNotConnected) {
			logger.Debug("resize not sent", zap.Error(err))
		}
	})
	defer stopResize()

	keys := readStdin(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-keys:
			if !ok {
				return nil
			}
			if adapter.Status() == client.StatusConnected {
				if err := adapter.SendInput(chunk); err == nil {
					continue
				}
			}
			// Disconnected: keystrokes drive the reconnect prompt.
			switch promptAction(chunk) {
			case actionReconnect:
				if err := adapter.Reconnect(ctx); err != nil {
					surface.WriteError(err.Error())
					surface.prompt()
				}
			case actionQuit:
				return nil
			}
		}
	}
}

type action int

const (
	actionNone action = iota
	actionReconnect
	actionQuit
)

func promptAction(chunk []byte) action {
	for _, b := range chunk {
		switch b {
		case 'r', 'R':
			return actionReconnect
		case 'q', 'Q', 0x03, 0x04:
			return actionQuit
		}
	}
	return actionNone
}

func readStdin(r io.Reader) <-chan []byte {
	ch := make(chan []byte)
	go func() {
		defer close(ch)
		buf := make([]byte, 1024)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				ch <- chunk
			}
			if err != nil {
				return
			}
		}
	}()
	return ch
}

func makeStdinRaw() (func(), error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, nil
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() { _ = term.Restore(fd, oldState) }, nil
}

// ttySurface renders the remote terminal on the local one.
type ttySurface struct {
	mu  sync.Mutex
	out io.Writer
	fd  int
}

func newTTYSurface(out io.Writer, fd int) *ttySurface {
	return &ttySurface{out: out, fd: fd}
}

func (s *ttySurface) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Write(p)
}

func (s *ttySurface) WriteError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "\r\n\x1b[31m[error] %s\x1b[0m\r\n", message)
}

func (s *ttySurface) Size() (int, int) {
	if !term.IsTerminal(s.fd) {
		return fallbackCols, fallbackRows
	}
	c, r, err := term.GetSize(s.fd)
	if err != nil || c <= 0 || r <= 0 {
		return fallbackCols, fallbackRows
	}
	return c, r
}

func (s *ttySurface) SetStatus(st client.Status) {
	if st == client.StatusDisconnected {
		s.prompt()
	}
}

func (s *ttySurface) prompt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprint(s.out, "\r\n\x1b[33m[disconnected] press r to reconnect, q to quit\x1b[0m\r\n")
}
