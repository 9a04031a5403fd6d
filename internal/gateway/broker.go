package gateway

import (
	"context"
	"errors"
	"sync"
)

var ErrBrokerClosed = errors.New("broker closed")

const defaultTopicBuffer = 64

// Broker fans out encoded frames by topic. A topic is a session id.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Close() error
}

// Subscription delivers payloads until Close; C is closed afterwards.
type Subscription interface {
	C() <-chan []byte
	Close() error
}

// MemoryBroker is the in-process broker. Slow subscribers lose frames rather
// than block publishers.
type MemoryBroker struct {
	buffer int

	mu     sync.RWMutex
	topics map[string]map[*memSub]struct{}
	closed bool
}

func NewMemoryBroker(buffer int) *MemoryBroker {
	if buffer <= 0 {
		buffer = defaultTopicBuffer
	}
	return &MemoryBroker{buffer: buffer, topics: make(map[string]map[*memSub]struct{})}
}

func (b *MemoryBroker) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBrokerClosed
	}
	for sub := range b.topics[topic] {
		select {
		case sub.ch <- payload:
		default:
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, topic string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}
	sub := &memSub{broker: b, topic: topic, ch: make(chan []byte, b.buffer)}
	subs := b.topics[topic]
	if subs == nil {
		subs = make(map[*memSub]struct{})
		b.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	return sub, nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.topics {
		for sub := range subs {
			sub.closeLocked()
		}
	}
	b.topics = make(map[string]map[*memSub]struct{})
	return nil
}

type memSub struct {
	broker *MemoryBroker
	topic  string
	ch     chan []byte
	done   bool
}

func (s *memSub) C() <-chan []byte { return s.ch }

func (s *memSub) Close() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	if subs, ok := s.broker.topics[s.topic]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.broker.topics, s.topic)
		}
	}
	s.closeLocked()
	return nil
}

// closeLocked requires the broker lock.
func (s *memSub) closeLocked() {
	if s.done {
		return
	}
	s.done = true
	close(s.ch)
}
