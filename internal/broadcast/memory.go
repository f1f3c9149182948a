package broadcast

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned when publishing to a closed MemoryBroadcaster.
var ErrClosed = errors.New("broadcaster is closed")

// Subscription receives the broadcasts published on one topic.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// MemoryBroadcaster is an in-process broadcast channel. It is used when no
// external channel is configured and by tests.
type MemoryBroadcaster struct {
	mu      sync.RWMutex
	subs    map[string][]*memSub // topic -> subscribers
	bufSize int
	closed  bool
}

// NewMemoryBroadcaster creates a MemoryBroadcaster. bufSize is the channel
// buffer per subscriber (default: 64).
func NewMemoryBroadcaster(bufSize int) *MemoryBroadcaster {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &MemoryBroadcaster{
		subs:    make(map[string][]*memSub),
		bufSize: bufSize,
	}
}

// Publish fans the message out to every subscriber of topic. Having no
// subscribers is not an error. A full subscriber buffer drops the message
// for that subscriber only.
func (b *MemoryBroadcaster) Publish(_ context.Context, topic, event string, payload Payload) (DeliveryStatus, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return StatusError, ErrClosed
	}

	msg := Message{Topic: topic, Event: event, Payload: payload}
	for _, sub := range b.subs[topic] {
		sub.send(msg)
	}
	return StatusOK, nil
}

// Subscribe registers a subscriber for topic. The returned Subscription must
// be closed when done.
func (b *MemoryBroadcaster) Subscribe(topic string) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &memSub{ch: make(chan Message, b.bufSize), topic: topic, owner: b}
	if b.closed {
		sub.close()
		return sub
	}
	b.subs[topic] = append(b.subs[topic], sub)
	return sub
}

// Close shuts the broadcaster down and closes every subscription.
func (b *MemoryBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for topic, subs := range b.subs {
		for _, sub := range subs {
			sub.close()
		}
		delete(b.subs, topic)
	}
	return nil
}

func (b *MemoryBroadcaster) remove(target *memSub) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[target.topic]
	for i, sub := range subs {
		if sub == target {
			b.subs[target.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[target.topic]) == 0 {
		delete(b.subs, target.topic)
	}
}

type memSub struct {
	ch     chan Message
	topic  string
	owner  *MemoryBroadcaster
	mu     sync.Mutex
	closed bool
}

func (s *memSub) Messages() <-chan Message {
	return s.ch
}

func (s *memSub) Close() error {
	s.owner.remove(s)
	s.close()
	return nil
}

// close is guarded against double-close.
func (s *memSub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *memSub) send(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.ch <- msg:
	default:
	}
}

var (
	_ Broadcaster  = (*MemoryBroadcaster)(nil)
	_ Subscription = (*memSub)(nil)
)
