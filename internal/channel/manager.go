// Package channel maintains the live connection set and the
// emit/broadcast/subscribe semantics on top of the upgraded transport.
package channel

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Manager owns every Conn on this process. Broadcasts issued here
// reach local subscribers only; cross-process visibility is the
// fan-out bridge's job.
type Manager struct {
	mu    sync.RWMutex
	conns map[string]*Conn

	sendBuffer int
	writeWait  time.Duration
}

func NewManager(sendBuffer int, writeWait time.Duration) *Manager {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Manager{
		conns:      make(map[string]*Conn),
		sendBuffer: sendBuffer,
		writeWait:  writeWait,
	}
}

// Attach registers a freshly upgraded transport and starts its write
// pump. The connection starts in the connecting state; callers
// establish it with Establish once the upgrade handshake is done.
func (m *Manager) Attach(ws *websocket.Conn, subject string) *Conn {
	c := newConn(ws, subject, m.sendBuffer)

	m.mu.Lock()
	m.conns[c.id] = c
	m.mu.Unlock()

	go c.writePump(m.writeWait, func() { m.OnDisconnect(c.id) })
	return c
}

// Establish moves a connecting connection into the established state,
// the only state in which emit and subscribe succeed.
func (m *Manager) Establish(connID string) {
	m.mu.RLock()
	c, ok := m.conns[connID]
	m.mu.RUnlock()
	if ok {
		c.establish()
	}
}

// Emit delivers one event to one connection. An unknown ID is a
// no-op, not an error: the connection may have disconnected or be
// attached to another process. A known connection that is closing or
// closed reports ErrConnectionGone, which callers treat as non-fatal.
func (m *Manager) Emit(connID, event string, payload json.RawMessage) error {
	data, err := eventFrame("", event, payload)
	if err != nil {
		return err
	}
	return m.Send(connID, data)
}

// Send delivers a pre-encoded frame to one connection with Emit's
// semantics: unknown ID is a no-op, closing/closed reports
// ErrConnectionGone, a slow client is disconnected.
func (m *Manager) Send(connID string, data []byte) error {
	m.mu.RLock()
	c, ok := m.conns[connID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	if err := c.enqueue(data); err != nil {
		if errors.Is(err, errSendBufferFull) {
			log.Printf("channel: connection %s too slow, disconnecting", connID)
			m.OnDisconnect(connID)
			return nil
		}
		return err
	}
	return nil
}

// BroadcastLocal delivers payload to every established connection on
// this process subscribed to topic, in the order broadcasts are made.
func (m *Manager) BroadcastLocal(topic string, payload json.RawMessage) {
	data, err := eventFrame(topic, "", payload)
	if err != nil {
		log.Printf("channel: broadcast marshal error: %v", err)
		return
	}

	m.mu.RLock()
	targets := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		if c.subscribed(topic) {
			targets = append(targets, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range targets {
		if err := c.enqueue(data); err != nil {
			if errors.Is(err, errSendBufferFull) {
				log.Printf("channel: connection %s too slow, disconnecting", c.id)
				m.OnDisconnect(c.id)
			}
			// ErrConnectionGone: lost the race with a disconnect, skip.
		}
	}
}

// Subscribe adds topic to a connection's subscription set.
func (m *Manager) Subscribe(connID, topic string) error {
	m.mu.RLock()
	c, ok := m.conns[connID]
	m.mu.RUnlock()
	if !ok {
		return ErrConnectionGone
	}
	return c.subscribe(topic)
}

// Unsubscribe removes topic from a connection's subscription set.
func (m *Manager) Unsubscribe(connID, topic string) error {
	m.mu.RLock()
	c, ok := m.conns[connID]
	m.mu.RUnlock()
	if !ok {
		return ErrConnectionGone
	}
	return c.unsubscribe(topic)
}

// OnDisconnect releases everything held for a connection. Calling it
// twice for the same ID is harmless.
func (m *Manager) OnDisconnect(connID string) {
	m.mu.Lock()
	c, ok := m.conns[connID]
	if ok {
		delete(m.conns, connID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	c.beginClose()
	c.close()
}

// Count reports the number of attached connections.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// Shutdown closes every connection. Used during process teardown
// after the listener has stopped accepting.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	conns := make([]*Conn, 0, len(m.conns))
	for id, c := range m.conns {
		conns = append(conns, c)
		delete(m.conns, id)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.beginClose()
		c.close()
	}
}
