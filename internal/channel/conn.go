package channel

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrConnectionGone reports an operation on a connection in the
// closing or closed state. Callers treat it as non-fatal.
var ErrConnectionGone = errors.New("channel: connection gone")

// errSendBufferFull is internal: the manager reacts by disconnecting
// the slow client rather than surfacing the condition.
var errSendBufferFull = errors.New("channel: send buffer full")

// State is the per-connection lifecycle.
type State int

const (
	StateConnecting State = iota
	StateEstablished
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateEstablished:
		return "established"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Conn is one live client association. It is owned exclusively by the
// Manager and destroyed on disconnect.
type Conn struct {
	id      string
	subject string
	ws      *websocket.Conn
	send    chan []byte

	mu     sync.Mutex
	state  State
	topics map[string]struct{}
}

func newConn(ws *websocket.Conn, subject string, sendBuffer int) *Conn {
	return &Conn{
		id:      uuid.NewString(),
		subject: subject,
		ws:      ws,
		send:    make(chan []byte, sendBuffer),
		state:   StateConnecting,
		topics:  make(map[string]struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

// Subject is the authenticated session subject, empty when the client
// connected without a session.
func (c *Conn) Subject() string { return c.subject }

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) establish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateConnecting {
		c.state = StateEstablished
	}
}

func (c *Conn) subscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateEstablished {
		return ErrConnectionGone
	}
	c.topics[topic] = struct{}{}
	return nil
}

func (c *Conn) unsubscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateEstablished {
		return ErrConnectionGone
	}
	delete(c.topics, topic)
	return nil
}

func (c *Conn) subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateEstablished {
		return false
	}
	_, ok := c.topics[topic]
	return ok
}

// enqueue hands data to the write pump. The state check and channel
// send happen under one lock so a concurrent close cannot race the
// send into a closed channel.
func (c *Conn) enqueue(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateEstablished {
		return ErrConnectionGone
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

// close transitions to closed and releases the send channel. Safe to
// call repeatedly; only the first call does anything.
func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	close(c.send)
}

// beginClose marks the connection closing so in-flight emits start
// no-opping before the transport teardown completes.
func (c *Conn) beginClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateEstablished || c.state == StateConnecting {
		c.state = StateClosing
	}
}

// writePump drains the send channel onto the transport. It exits when
// the channel closes or a write fails, closing the socket either way.
func (c *Conn) writePump(writeWait time.Duration, onDead func()) {
	defer c.ws.Close()
	for msg := range c.send {
		if writeWait > 0 {
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		}
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			onDead()
			return
		}
	}
}
