package fanout

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Backbone is the shared pub/sub transport between processes.
// Channel name = topic; the payload is a serialized Envelope.
type Backbone interface {
	// Ping verifies the publish side is reachable.
	Ping(ctx context.Context) error
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe opens a fresh subscription covering every topic. The
	// bridge calls it again after a connection loss.
	Subscribe(ctx context.Context) (Subscription, error)
}

// Subscription yields backbone payloads until closed or broken.
type Subscription interface {
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// RedisBackbone talks to a redis server over two independent clients,
// one dedicated to publishing and one to subscribing, so a stalled
// subscriber never backpressures publishes.
type RedisBackbone struct {
	pub    *redis.Client
	sub    *redis.Client
	prefix string
}

func NewRedisBackbone(addr, prefix string) *RedisBackbone {
	return &RedisBackbone{
		pub:    redis.NewClient(&redis.Options{Addr: addr}),
		sub:    redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
	}
}

func (b *RedisBackbone) Ping(ctx context.Context) error {
	if err := b.pub.Ping(ctx).Err(); err != nil {
		return err
	}
	return b.sub.Ping(ctx).Err()
}

func (b *RedisBackbone) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.pub.Publish(ctx, b.prefix+topic, payload).Err()
}

func (b *RedisBackbone) Subscribe(ctx context.Context) (Subscription, error) {
	ps := b.sub.PSubscribe(ctx, b.prefix+"*")
	// Wait for the subscription confirmation so startup ordering is
	// real: the listener must not accept before this returns.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	return &redisSubscription{ps: ps, prefix: b.prefix}, nil
}

func (b *RedisBackbone) Close() error {
	perr := b.pub.Close()
	serr := b.sub.Close()
	if perr != nil {
		return perr
	}
	return serr
}

type redisSubscription struct {
	ps     *redis.PubSub
	prefix string
}

func (s *redisSubscription) Receive(ctx context.Context) ([]byte, error) {
	msg, err := s.ps.ReceiveMessage(ctx)
	if err != nil {
		return nil, err
	}
	// The envelope topic is authoritative; the channel name is only
	// checked for the prefix.
	if !strings.HasPrefix(msg.Channel, s.prefix) {
		return nil, nil
	}
	return []byte(msg.Payload), nil
}

func (s *redisSubscription) Close() error {
	return s.ps.Close()
}
