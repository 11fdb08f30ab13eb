package client

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remote-agent-terminal/workspace-terminal/internal/protocol"
)

type fakeSurface struct {
	mu       sync.Mutex
	out      bytes.Buffer
	errors   []string
	statuses []Status
	cols     int
	rows     int
}

func (s *fakeSurface) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Write(p)
}

func (s *fakeSurface) WriteError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, message)
}

func (s *fakeSurface) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

func (s *fakeSurface) SetStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, st)
}

func (s *fakeSurface) output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.String()
}

func (s *fakeSurface) errorList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.errors...)
}

// fakeGateway accepts connections and hands them to the test.
type fakeGateway struct {
	srv     *httptest.Server
	conns   chan *websocket.Conn
	queries chan url.Values
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	g := &fakeGateway{
		conns:   make(chan *websocket.Conn, 4),
		queries: make(chan url.Values, 4),
	}
	upgrader := websocket.Upgrader{}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/terminal" {
			http.NotFound(w, r)
			return
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		g.queries <- r.URL.Query()
		g.conns <- c
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) endpoint() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func (g *fakeGateway) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-g.conns:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func readFrame(t *testing.T, c *websocket.Conn) protocol.Envelope {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, frame, err := c.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.Decode(frame)
	require.NoError(t, err)
	return env
}

func writeFrame(t *testing.T, c *websocket.Conn, env protocol.Envelope) {
	t.Helper()
	frame, err := protocol.Encode(env)
	require.NoError(t, err)
	require.NoError(t, c.WriteMessage(websocket.TextMessage, frame))
}

func connect(t *testing.T, g *fakeGateway, surface *fakeSurface) *Adapter {
	t.Helper()
	a := New(surface, Options{Endpoint: g.endpoint(), Project: "web", Token: "tok"})
	require.NoError(t, a.Connect(context.Background()))
	t.Cleanup(func() { a.Close() })
	return a
}

func TestAdapter_ConnectSendsGeometryFirst(t *testing.T) {
	g := newFakeGateway(t)
	surface := &fakeSurface{cols: 132, rows: 43}
	a := connect(t, g, surface)
	server := g.accept(t)

	q := <-g.queries
	assert.Equal(t, "web", q.Get("project"))
	assert.Equal(t, "tok", q.Get("token"))
	assert.Equal(t, "132", q.Get("cols"))
	assert.Equal(t, "43", q.Get("rows"))

	assert.Equal(t, protocol.Resize{Cols: 132, Rows: 43}, readFrame(t, server))
	assert.Equal(t, StatusConnected, a.Status())
	surface.mu.Lock()
	assert.Equal(t, []Status{StatusConnecting, StatusConnected}, surface.statuses)
	surface.mu.Unlock()

	assert.ErrorIs(t, a.Connect(context.Background()), ErrAlreadyConnected)
}

func TestAdapter_InputOrderPreserved(t *testing.T) {
	g := newFakeGateway(t)
	a := connect(t, g, &fakeSurface{cols: 80, rows: 24})
	server := g.accept(t)
	readFrame(t, server)

	const n = 100
	for i := 0; i < n; i++ {
		require.NoError(t, a.SendInput([]byte(fmt.Sprintf("k%d", i))))
	}
	for i := 0; i < n; i++ {
		assert.Equal(t, protocol.Input{Data: fmt.Sprintf("k%d", i)}, readFrame(t, server))
	}

	require.NoError(t, a.Resize(100, 30))
	require.NoError(t, a.Resize(100, 30))
	assert.Equal(t, protocol.Resize{Cols: 100, Rows: 30}, readFrame(t, server))
	assert.Equal(t, protocol.Resize{Cols: 100, Rows: 30}, readFrame(t, server))
	assert.Error(t, a.Resize(0, 30))
}

func TestAdapter_RendersInbound(t *testing.T) {
	g := newFakeGateway(t)
	surface := &fakeSurface{}
	a := connect(t, g, surface)
	server := g.accept(t)

	writeFrame(t, server, protocol.Data{Data: "one "})
	writeFrame(t, server, protocol.Error{Message: "Project not found"})
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte("raw text ")))
	writeFrame(t, server, protocol.Data{Data: "two"})

	require.Eventually(t, func() bool {
		return surface.output() == "one raw text two"
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"Project not found"}, surface.errorList())
	assert.Equal(t, StatusConnected, a.Status())
}

func TestAdapter_ServerCloseAndReconnect(t *testing.T) {
	g := newFakeGateway(t)
	surface := &fakeSurface{cols: 80, rows: 24}
	a := connect(t, g, surface)
	server := g.accept(t)
	readFrame(t, server)

	server.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	server.Close()

	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("adapter did not notice the close")
	}
	assert.Equal(t, StatusDisconnected, a.Status())
	assert.ErrorIs(t, a.SendInput([]byte("x")), ErrNotConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Reconnect(ctx))
	second := g.accept(t)
	assert.Equal(t, protocol.Resize{Cols: 80, Rows: 24}, readFrame(t, second))
	assert.Equal(t, StatusConnected, a.Status())

	require.NoError(t, a.SendInput([]byte("again")))
	assert.Equal(t, protocol.Input{Data: "again"}, readFrame(t, second))
}

func TestAdapter_CloseNotifiesServer(t *testing.T) {
	g := newFakeGateway(t)
	a := connect(t, g, &fakeSurface{})
	server := g.accept(t)

	require.NoError(t, a.Close())
	server.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := server.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "err = %v", err)

	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("adapter did not finish closing")
	}
	assert.Equal(t, StatusDisconnected, a.Status())
}

func TestAdapter_CloseFlushesQueuedInput(t *testing.T) {
	g := newFakeGateway(t)
	a := connect(t, g, &fakeSurface{})
	server := g.accept(t)

	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, a.SendInput([]byte(fmt.Sprintf("q%d", i))))
	}
	require.NoError(t, a.Close())

	for i := 0; i < n; i++ {
		assert.Equal(t, protocol.Input{Data: fmt.Sprintf("q%d", i)}, readFrame(t, server))
	}
	server.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := server.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "err = %v", err)
}

func TestAdapter_DialFailure(t *testing.T) {
	surface := &fakeSurface{}
	a := New(surface, Options{Endpoint: "ws://127.0.0.1:1", Project: "web"})
	assert.Error(t, a.Connect(context.Background()))
	assert.Equal(t, StatusDisconnected, a.Status())
	assert.Nil(t, a.Done())

	bad := New(surface, Options{Endpoint: "http://host", Project: "web"})
	assert.Error(t, bad.Connect(context.Background()))
}

func TestRedact(t *testing.T) {
	got := redact("wss://h/terminal?project=web&token=secret")
	assert.NotContains(t, got, "secret")
	assert.Contains(t, got, "project=web")
}
