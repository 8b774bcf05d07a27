package fanout

import (
	"context"
	"errors"
	"sync"
)

// errSubscriptionClosed makes a dropped memory subscription look like
// a backbone connection loss to the bridge's receive loop.
var errSubscriptionClosed = errors.New("fanout: subscription closed")

// MemoryBackbone is an in-process backbone for tests and single-node
// development runs. Several bridges subscribed to one MemoryBackbone
// behave like processes sharing a broker, and DropSubscriptions
// simulates a broker connection loss.
type MemoryBackbone struct {
	mu   sync.Mutex
	subs map[*memorySubscription]struct{}
}

func NewMemoryBackbone() *MemoryBackbone {
	return &MemoryBackbone{subs: make(map[*memorySubscription]struct{})}
}

func (b *MemoryBackbone) Ping(context.Context) error { return nil }

func (b *MemoryBackbone) Publish(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- payload:
		default:
			// Subscriber buffer full; the real backbone would drop too.
		}
	}
	return nil
}

func (b *MemoryBackbone) Subscribe(context.Context) (Subscription, error) {
	sub := &memorySubscription{
		parent: b,
		ch:     make(chan []byte, 1024),
		done:   make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub, nil
}

// DropSubscriptions severs every open subscription, as a broker
// restart would. Bridges observe the loss and reconnect.
func (b *MemoryBackbone) DropSubscriptions() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[*memorySubscription]struct{})
	b.mu.Unlock()

	for sub := range subs {
		sub.drop()
	}
}

type memorySubscription struct {
	parent *MemoryBackbone
	ch     chan []byte

	once sync.Once
	done chan struct{}
}

func (s *memorySubscription) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, errSubscriptionClosed
	case payload := <-s.ch:
		return payload, nil
	}
}

func (s *memorySubscription) Close() error {
	s.parent.mu.Lock()
	delete(s.parent.subs, s)
	s.parent.mu.Unlock()
	s.drop()
	return nil
}

func (s *memorySubscription) drop() {
	s.once.Do(func() { close(s.done) })
}
