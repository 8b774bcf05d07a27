// Package fanout couples the local channel manager to a shared
// pub/sub backbone so broadcasts issued on one process reach clients
// connected to every other process.
package fanout

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaymesh/gateway/internal/apperr"
)

// LocalBroadcaster is the channel manager surface the bridge needs.
type LocalBroadcaster interface {
	BroadcastLocal(topic string, payload json.RawMessage)
}

type Options struct {
	PublishTimeout time.Duration
	QueueSize      int
	ReconnectMin   time.Duration
	ReconnectMax   time.Duration
}

func (o *Options) fillDefaults() {
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 2 * time.Second
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.ReconnectMin <= 0 {
		o.ReconnectMin = 500 * time.Millisecond
	}
	if o.ReconnectMax < o.ReconnectMin {
		o.ReconnectMax = 30 * time.Second
	}
}

// Health is a point-in-time snapshot of the bridge. Degraded means
// cross-process fan-out is paused; local delivery always continues.
type Health struct {
	Degraded   bool      `json:"degraded"`
	Reconnects int64     `json:"reconnects"`
	Dropped    int64     `json:"dropped"`
	LastError  string    `json:"last_error,omitempty"`
	Since      time.Time `json:"since,omitempty"`
}

// Bridge owns the two backbone connections: publishes go out on one,
// the receive loop reads the other and routes envelopes to the local
// manager, skipping this process's own.
type Bridge struct {
	origin   string
	backbone Backbone
	local    LocalBroadcaster
	opts     Options

	queue  chan Envelope
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	degraded   bool
	reconnects int64
	dropped    int64
	lastErr    string
	since      time.Time
}

func NewBridge(backbone Backbone, local LocalBroadcaster, opts Options) *Bridge {
	opts.fillDefaults()
	return &Bridge{
		origin:   uuid.NewString(),
		backbone: backbone,
		local:    local,
		opts:     opts,
		queue:    make(chan Envelope, opts.QueueSize),
	}
}

// Origin is this process's envelope tag.
func (b *Bridge) Origin() string { return b.origin }

// Start establishes both backbone connections and launches the
// receive and dispatch loops. It fails rather than degrades: the
// listener must not accept traffic until the bridge is ready, or
// early clients would silently see single-process events only.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.backbone.Ping(ctx); err != nil {
		return apperr.Wrap(apperr.FanOutDegraded, "backbone unreachable", err)
	}
	sub, err := b.backbone.Subscribe(ctx)
	if err != nil {
		return apperr.Wrap(apperr.FanOutDegraded, "backbone subscribe failed", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	b.wg.Add(2)
	go b.receiveLoop(runCtx, sub)
	go b.dispatchLoop(runCtx)
	return nil
}

// Stop tears the loops down. Safe to call after a failed Start.
func (b *Bridge) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
}

// Broadcast delivers locally and publishes the envelope under a
// bounded timeout. A backbone failure returns a FanOutDegraded error
// for the caller to log; local subscribers have already been served.
func (b *Bridge) Broadcast(topic string, payload json.RawMessage) error {
	b.local.BroadcastLocal(topic, payload)

	data, err := Envelope{Topic: topic, Payload: payload, Origin: b.origin}.encode()
	if err != nil {
		return apperr.Wrap(apperr.FanOutDegraded, "envelope encode failed", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.opts.PublishTimeout)
	defer cancel()
	if err := b.backbone.Publish(ctx, topic, data); err != nil {
		b.markDegraded(err)
		return apperr.Wrap(apperr.FanOutDegraded, "backbone publish failed", err)
	}
	b.markHealthy()
	return nil
}

// Health reports the current fan-out state for the health endpoint.
func (b *Bridge) Health() Health {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Health{
		Degraded:   b.degraded,
		Reconnects: b.reconnects,
		Dropped:    b.dropped,
		LastError:  b.lastErr,
		Since:      b.since,
	}
}

func (b *Bridge) receiveLoop(ctx context.Context, sub Subscription) {
	defer b.wg.Done()
	defer func() {
		if sub != nil {
			_ = sub.Close()
		}
	}()

	for {
		payload, err := sub.Receive(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			b.markDegraded(err)
			log.Printf("fanout: backbone receive failed, reconnecting: %v", err)
			_ = sub.Close()
			sub = b.reconnect(ctx)
			if sub == nil {
				return
			}
			b.markHealthy()
			continue
		}
		if payload == nil {
			continue
		}

		env, err := decodeEnvelope(payload)
		if err != nil {
			log.Printf("fanout: dropping malformed envelope: %v", err)
			continue
		}
		if env.Origin == b.origin {
			// Own echo; local delivery already happened at publish time.
			continue
		}
		b.enqueue(env)
	}
}

// enqueue applies the bounded-queue drop-oldest policy: under a burst
// the oldest pending envelope is evicted, counted, and surfaced
// through Health.
func (b *Bridge) enqueue(env Envelope) {
	for {
		select {
		case b.queue <- env:
			return
		default:
		}
		select {
		case <-b.queue:
			b.mu.Lock()
			b.dropped++
			b.mu.Unlock()
		default:
		}
	}
}

func (b *Bridge) dispatchLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-b.queue:
			b.local.BroadcastLocal(env.Topic, env.Payload)
		}
	}
}

// reconnect retries Subscribe with capped exponential backoff until
// it succeeds or the bridge stops.
func (b *Bridge) reconnect(ctx context.Context) Subscription {
	backoff := b.opts.ReconnectMin
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		sub, err := b.backbone.Subscribe(ctx)
		if err == nil {
			b.mu.Lock()
			b.reconnects++
			b.mu.Unlock()
			log.Printf("fanout: backbone resubscribed")
			return sub
		}
		log.Printf("fanout: resubscribe failed, retrying in %v: %v", backoff, err)
		backoff *= 2
		if backoff > b.opts.ReconnectMax {
			backoff = b.opts.ReconnectMax
		}
	}
}

func (b *Bridge) markDegraded(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.degraded {
		b.degraded = true
		b.since = time.Now()
	}
	b.lastErr = err.Error()
}

func (b *Bridge) markHealthy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.degraded {
		b.degraded = false
		b.since = time.Now()
	}
}
