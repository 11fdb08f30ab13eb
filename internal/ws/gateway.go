package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/remote-agent-terminal/workspace-terminal/internal/metrics"
	"github.com/remote-agent-terminal/workspace-terminal/internal/model"
	"github.com/remote-agent-terminal/workspace-terminal/internal/project"
	"github.com/remote-agent-terminal/workspace-terminal/internal/protocol"
	"github.com/remote-agent-terminal/workspace-terminal/internal/session"
)

const (
	// DefaultPongWait is the time allowed to read the next pong from the peer.
	DefaultPongWait = 60 * time.Second

	announceFormat = "\x1b[32m➜\x1b[0m Connected to terminal in %s\r\n"
	endedBanner    = "\r\n\x1b[31mTerminal session ended\x1b[0m\r\n"

	msgNoProject       = "No project specified"
	msgProjectNotFound = "Project not found"
	msgInitFailed      = "Failed to initialize terminal: %v"
)

// Connection states.
const (
	stateInitializing int32 = iota
	stateConnected
	stateClosed
)

// Options configures a Gateway.
type Options struct {
	AllowedOrigins []string
	PongWait       time.Duration
}

// Gateway upgrades terminal requests and binds each connection to one
// shell session.
type Gateway struct {
	sessions *session.Manager
	resolver project.Resolver
	metrics  *metrics.Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader
	pongWait time.Duration
}

// NewGateway creates a new Gateway.
func NewGateway(sessions *session.Manager, resolver project.Resolver, m *metrics.Metrics, logger *zap.Logger, opts Options) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PongWait <= 0 {
		opts.PongWait = DefaultPongWait
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Gateway{
		sessions: sessions,
		resolver: resolver,
		metrics:  m,
		logger:   logger.With(zap.String("component", "gateway")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     OriginChecker(opts.AllowedOrigins),
		},
		pongWait: opts.PongWait,
	}
}

// Serve upgrades the request and runs the terminal until the connection
// is closed. userID is the identity attached by the authentication layer.
func (g *Gateway) Serve(w http.ResponseWriter, r *http.Request, userID string) error {
	wsConn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	query := r.URL.Query()
	t := &terminal{
		gateway: g,
		userID:  userID,
		project: query.Get("project"),
		cols:    queryInt(query.Get("cols")),
		rows:    queryInt(query.Get("rows")),
		logger: g.logger.With(
			zap.String("user_id", userID),
			zap.String("project", query.Get("project")),
			zap.String("remote", r.RemoteAddr),
		),
	}
	t.conn = newConn(wsConn, t.logger, g.pongWait)
	t.conn.onFrame = g.metrics.FrameSent

	g.metrics.ConnectionOpened()
	defer g.metrics.ConnectionClosed()

	go t.conn.writePump()
	t.run(r.Context())
	<-t.conn.Done()
	return nil
}

// terminal is the per-connection state machine.
type terminal struct {
	gateway *Gateway
	conn    *Conn
	logger  *zap.Logger
	userID  string
	project string
	cols    int
	rows    int

	state atomic.Int32
	entry *session.Entry
}

func (t *terminal) run(ctx context.Context) {
	if t.project == "" {
		t.reject(msgNoProject, model.ErrProjectRequired)
		return
	}

	dir, err := t.gateway.resolver.Resolve(ctx, t.project)
	if err != nil {
		msg := fmt.Sprintf(msgInitFailed, err)
		if errors.Is(err, model.ErrProjectNotFound) {
			msg = msgProjectNotFound
		}
		t.reject(msg, err)
		return
	}

	entry, err := t.gateway.sessions.Open(ctx, session.OpenRequest{
		UserID:  t.userID,
		Project: t.project,
		Dir:     dir,
		Cols:    t.cols,
		Rows:    t.rows,
	})
	if err != nil {
		msg := fmt.Sprintf(msgInitFailed, err)
		if errors.Is(err, model.ErrSessionOccupied) {
			msg = err.Error()
		}
		t.reject(msg, err)
		return
	}
	t.entry = entry
	t.logger = t.logger.With(zap.String("session_id", entry.Session.ID))

	output, err := entry.Handle.Output()
	if err != nil {
		t.gateway.sessions.Close(entry)
		t.reject(fmt.Sprintf(msgInitFailed, err), err)
		return
	}

	// Announce before starting the pump so it precedes any shell output.
	t.conn.Send(protocol.Data{Data: fmt.Sprintf(announceFormat, dir)})
	t.state.Store(stateConnected)
	go t.pumpOutput(output)

	t.conn.readPump(t.dispatch)
	t.closeFromTransport()
}

// reject reports an initialization failure once and closes the connection.
func (t *terminal) reject(message string, cause error) {
	t.logger.Info("terminal handshake rejected", zap.String("reason", message), zap.Error(cause))
	t.state.Store(stateClosed)
	t.conn.Send(protocol.Error{Message: message})
	t.conn.Close()
}

// dispatch handles one inbound frame. Bad frames are logged and dropped;
// they never close the connection.
func (t *terminal) dispatch(frame []byte) {
	env, err := protocol.Decode(frame)
	if err != nil {
		t.gateway.metrics.FrameMalformed()
		t.logger.Warn("dropping frame", zap.Error(err), zap.Int("size", len(frame)))
		return
	}
	t.gateway.metrics.FrameReceived(env.Type())

	if t.state.Load() != stateConnected {
		return
	}

	switch e := env.(type) {
	case protocol.Input:
		if err := t.entry.Handle.Write([]byte(e.Data)); err != nil {
			t.logger.Warn("writing input", zap.Error(err))
		}
	case protocol.Resize:
		if !e.Valid() {
			t.logger.Debug("ignoring resize", zap.Int("cols", e.Cols), zap.Int("rows", e.Rows))
			return
		}
		if err := t.gateway.sessions.Resize(context.Background(), t.entry, e.Cols, e.Rows); err != nil {
			t.logger.Debug("resize not applied", zap.Error(err))
		}
	case protocol.Data, protocol.Error:
		t.logger.Debug("ignoring server envelope from client", zap.String("type", env.Type()))
	case protocol.Unknown:
		t.logger.Debug("ignoring unknown envelope", zap.String("type", e.Kind))
	}
}

// pumpOutput is the only producer of data envelopes for the connection.
// It forwards output in emission order and, when the process exits while
// the connection is up, sends the closing banner and closes the socket.
func (t *terminal) pumpOutput(output <-chan []byte) {
	var carry []byte
	for chunk := range output {
		var text []byte
		text, carry = splitUTF8(append(carry, chunk...))
		if len(text) > 0 {
			t.conn.Send(protocol.Data{Data: string(text)})
		}
	}
	<-t.entry.Handle.Exited()

	if len(carry) > 0 {
		t.conn.Send(protocol.Data{Data: string(carry)})
	}
	if !t.state.CompareAndSwap(stateConnected, stateClosed) {
		return
	}
	status := t.entry.Handle.Status()
	t.logger.Info("shell exited, closing connection", zap.Int("exit_code", status.Code))
	t.conn.Send(protocol.Data{Data: endedBanner})
	t.conn.Close()
}

// closeFromTransport releases the session after the socket went away.
func (t *terminal) closeFromTransport() {
	t.conn.Close()
	if !t.state.CompareAndSwap(stateConnected, stateClosed) {
		return
	}
	if err := t.conn.Err(); err != nil {
		t.logger.Debug("transport closed", zap.Error(err))
	}
	t.logger.Info("connection closed, killing shell")
	t.gateway.sessions.Close(t.entry)
}

// splitUTF8 splits p before a trailing incomplete UTF-8 sequence so that
// multi-byte characters straddling reads are not mangled.
func splitUTF8(p []byte) (complete, rest []byte) {
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(p[i]) {
			continue
		}
		if utf8.FullRune(p[i:]) {
			return p, nil
		}
		return p[:i], append([]byte(nil), p[i:]...)
	}
	return p, nil
}

func queryInt(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > protocol.MaxDimension {
		return 0
	}
	return n
}
