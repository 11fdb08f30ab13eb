package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/remote-agent-terminal/workspace-terminal/internal/model"
	"github.com/remote-agent-terminal/workspace-terminal/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Outbound frames buffered per connection. A full queue blocks the
	// sender, which in turn stalls the shell's output.
	sendBuffer = 256
)

// Conn wraps one WebSocket. All writes go through a single writePump
// goroutine fed by the send channel, so the input path and the output
// pump never write to the socket concurrently.
type Conn struct {
	ws       *websocket.Conn
	logger   *zap.Logger
	pongWait time.Duration
	onFrame  func(typ string, size int)

	send    chan []byte
	closing chan struct{}
	done    chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

func newConn(ws *websocket.Conn, logger *zap.Logger, pongWait time.Duration) *Conn {
	return &Conn{
		ws:       ws,
		logger:   logger,
		pongWait: pongWait,
		send:     make(chan []byte, sendBuffer),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Send queues env for delivery, blocking while the queue is full. It
// reports false once the connection is closing.
func (c *Conn) Send(env protocol.Envelope) bool {
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
	case c.send <- frame:
		if c.onFrame != nil {
			c.onFrame(env.Type(), payloadSize(env))
		}
		return true
	case <-c.closing:
		return false
	}
}

// Close stops accepting frames. Frames already queued are flushed before
// the close frame is written. It is idempotent.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.closing) })
}

// Done is closed once the writer has stopped and the socket is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the transport failure that ended the connection, if any.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) fail(op string, err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = &model.TransportError{Op: op, Err: err}
	}
	c.mu.Unlock()
	c.Close()
}

// writePump drains the send channel onto the socket and keeps the peer
// alive with pings. It owns every write to ws.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.pongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.ws.Close()
		close(c.done)
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.fail("write", err)
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.fail("ping", err)
				return
			}
		case <-c.closing:
			c.flush()
			c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Conn) flush() {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(messageType int, data []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(messageType, data)
}

// readPump delivers inbound frames to handle until the peer goes
// away or misses a pong. It returns the read error.
func (c *Conn) readPump(handle func(frame []byte)) error {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			c.fail("read", err)
			return err
		}
		handle(frame)
	}
}

func payloadSize(env protocol.Envelope) int {
	switch e := env.(type) {
	case protocol.Data:
		return len(e.Data)
	case protocol.Error:
		return len(e.Message)
	}
	return 0
}
