// Package client is the terminal-side counterpart of the gateway: it
// renders output envelopes onto a local surface and turns keystrokes and
// viewport changes into input and resize envelopes.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/remote-agent-terminal/workspace-terminal/internal/protocol"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 15 * time.Second
	sendBuffer  = 256
)

var (
	// ErrNotConnected is returned when sending without an open connection.
	ErrNotConnected = errors.New("client: not connected")

	// ErrAlreadyConnected is returned by Connect while a connection is open.
	ErrAlreadyConnected = errors.New("client: already connected")
)

// Status is the connection state shown to the user.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Surface is where the adapter renders the remote terminal.
type Surface interface {
	// Write renders process output.
	Write(p []byte) (int, error)

	// WriteError renders a gateway error distinctly from process output.
	WriteError(message string)

	// Size returns the current viewport geometry.
	Size() (cols, rows int)

	// SetStatus is called on every status transition.
	SetStatus(Status)
}

// Options configures an Adapter.
type Options struct {
	// Endpoint is the gateway base URL, e.g. "wss://host". See ResolveEndpoint.
	Endpoint string
	Project  string
	Token    string

	Header http.Header
	Dialer *websocket.Dialer
	Logger *zap.Logger
}

// Adapter binds a Surface to one gateway connection at a time.
type Adapter struct {
	opts    Options
	surface Surface
	logger  *zap.Logger

	status atomic.Int32

	mu   sync.Mutex
	conn *connection
}

// New creates an Adapter. It does not connect.
func New(surface Surface, opts Options) *Adapter {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: dialTimeout,
		}
	}
	return &Adapter{
		opts:    opts,
		surface: surface,
		logger:  opts.Logger.With(zap.String("component", "client"), zap.String("project", opts.Project)),
	}
}

// Status returns the current connection status.
func (a *Adapter) Status() Status {
	return Status(a.status.Load())
}

func (a *Adapter) setStatus(s Status) {
	if Status(a.status.Swap(int32(s))) != s {
		a.surface.SetStatus(s)
	}
}

// Connect opens a connection and immediately reports the surface
// geometry so the shell starts with the right size.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn != nil && !a.conn.closed() {
		return ErrAlreadyConnected
	}

	target, err := a.terminalURL()
	if err != nil {
		return err
	}

	a.setStatus(StatusConnecting)
	wsConn, resp, err := a.opts.Dialer.DialContext(ctx, target, a.opts.Header)
	if err != nil {
		a.setStatus(StatusDisconnected)
		if resp != nil {
			return fmt.Errorf("dial gateway: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial gateway: %w", err)
	}

	c := newConnection(wsConn, a.logger)
	a.conn = c
	go c.writeLoop()
	go a.readLoop(c)
	a.setStatus(StatusConnected)

	if cols, rows := a.surface.Size(); cols > 0 && rows > 0 {
		c.send(protocol.Resize{Cols: cols, Rows: rows})
	}
	a.logger.Info("connected", zap.String("url", redact(target)))
	return nil
}

// Reconnect drops the current connection, if any, and opens a fresh one.
// The new connection runs a new shell; nothing of the previous one carries over.
func (a *Adapter) Reconnect(ctx context.Context) error {
	if err := a.Close(); err != nil {
		return err
	}
	if done := a.Done(); done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return a.Connect(ctx)
}

// SendInput sends p as one input envelope.
func (a *Adapter) SendInput(p []byte) error {
	return a.send(protocol.Input{Data: string(p)})
}

// Resize reports a new viewport geometry.
func (a *Adapter) Resize(cols, rows int) error {
	r := protocol.Resize{Cols: cols, Rows: rows}
	if !r.Valid() {
		return fmt.Errorf("client: invalid geometry %dx%d", cols, rows)
	}
	return a.send(r)
}

func (a *Adapter) send(env protocol.Envelope) error {
	a.mu.Lock()
	c := a.conn
	a.mu.Unlock()

	if c == nil || !c.send(env) {
		return ErrNotConnected
	}
	return nil
}

// Close closes the current connection. The gateway kills its shell.
func (a *Adapter) Close() error {
	a.mu.Lock()
	c := a.conn
	a.mu.Unlock()

	if c != nil {
		c.close()
	}
	return nil
}

// Done returns a channel closed once the current connection has ended,
// or nil if Connect was never called.
func (a *Adapter) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil
	}
	return a.conn.done
}

// readLoop applies inbound envelopes in arrival order.
func (a *Adapter) readLoop(c *connection) {
	defer func() {
		c.close()
		<-c.writerDone

		a.mu.Lock()
		current := a.conn == c
		a.mu.Unlock()
		if current {
			a.setStatus(StatusDisconnected)
		}
		close(c.done)
	}()

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.closed() {
				a.logger.Warn("connection lost", zap.Error(err))
			}
			return
		}

		env, err := protocol.Decode(frame)
		if err != nil {
			// Frames that are not envelopes are shown as they are.
			a.logger.Debug("rendering undecodable frame raw", zap.Error(err))
			a.surface.Write(frame)
			continue
		}

		switch e := env.(type) {
		case protocol.Data:
			a.surface.Write([]byte(e.Data))
		case protocol.Error:
			a.surface.WriteError(e.Message)
		default:
			a.logger.Debug("ignoring envelope", zap.String("type", env.Type()))
		}
	}
}

func (a *Adapter) terminalURL() (string, error) {
	u, err := url.Parse(a.opts.Endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", a.opts.Endpoint, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid endpoint %q: scheme must be ws or wss", a.opts.Endpoint)
	}

	u.Path = singleSlashJoin(u.Path, "/terminal")
	q := u.Query()
	q.Set("project", a.opts.Project)
	if a.opts.Token != "" {
		q.Set("token", a.opts.Token)
	}
	if cols, rows := a.surface.Size(); cols > 0 && rows > 0 {
		q.Set("cols", strconv.Itoa(cols))
		q.Set("rows", strconv.Itoa(rows))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func singleSlashJoin(base, suffix string) string {
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return base + suffix
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// connection owns one WebSocket. writeLoop is its only writer.
type connection struct {
	ws     *websocket.Conn
	logger *zap.Logger

	out        chan []byte
	closing    chan struct{}
	writerDone chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
}

func newConnection(ws *websocket.Conn, logger *zap.Logger) *connection {
	return &connection{
		ws:         ws,
		logger:     logger,
		out:        make(chan []byte, sendBuffer),
		closing:    make(chan struct{}),
		writerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (c *connection) send(env protocol.Envelope) bool {
	frame, err := protocol.Encode(env)
	if err != nil {
		c.logger.Error("encoding envelope", zap.Error(err))
		return false
	}
	select {
	case <-c.closing:
		return false
	default:
	}
	select {
	case c.out <- frame:
		return true
	case <-c.closing:
		return false
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() { close(c.closing) })
}

func (c *connection) closed() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

func (c *connection) writeLoop() {
	defer close(c.writerDone)

	for {
		select {
		case frame := <-c.out:
			if err := c.write(frame); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				c.close()
				c.ws.Close()
				return
			}
		case <-c.closing:
			c.flush()
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			c.ws.Close()
			return
		}
	}
}

// flush writes frames queued before the close.
func (c *connection) flush() {
	for {
		select {
		case frame := <-c.out:
			if err := c.write(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *connection) write(frame []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}
