package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

const redisTopicPrefix = "chess:room:"

// RedisBroker fans frames out through Redis Pub/Sub so rooms span instances.
type RedisBroker struct {
	rdb    *redis.Client
	prefix string
	buffer int
}

func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb, prefix: redisTopicPrefix, buffer: defaultTopicBuffer}
}

func (b *RedisBroker) channel(topic string) string { return b.prefix + topic }

func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.rdb.Publish(ctx, b.channel(topic), payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription, so a publish
// issued after it returns is delivered.
func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := b.rdb.Subscribe(ctx, b.channel(topic))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}
	sub := &redisSub{ps: ps, ch: make(chan []byte, b.buffer)}
	go sub.pump()
	return sub, nil
}

// Close is a no-op; the client is owned by the caller.
func (b *RedisBroker) Close() error { return nil }

type redisSub struct {
	ps   *redis.PubSub
	ch   chan []byte
	once sync.Once
	err  error
}

func (s *redisSub) pump() {
	defer close(s.ch)
	for msg := range s.ps.Channel() {
		select {
		case s.ch <- []byte(msg.Payload):
		default:
		}
	}
}

func (s *redisSub) C() <-chan []byte { return s.ch }

func (s *redisSub) Close() error {
	s.once.Do(func() { s.err = s.ps.Close() })
	return s.err
}
