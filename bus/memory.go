package bus

import (
	"context"
	"sync"
	"sync/atomic"
)

// MemoryBus implements Bus using in-memory channels.
// Suitable for a single bridge process and for tests.
type MemoryBus struct {
	bufferSize int

	mu     sync.RWMutex
	subs   map[string][]*memorySub
	closed atomic.Bool

	dropped atomic.Int64
}

type memorySub struct {
	subject string
	ch      chan *Message
	closed  atomic.Bool
	bus     *MemoryBus
}

// NewMemoryBus creates an in-memory bus. bufferSize <= 0 uses the default.
func NewMemoryBus(bufferSize int) *MemoryBus {
	if bufferSize <= 0 {
		bufferSize = DefaultConfig().BufferSize
	}
	return &MemoryBus{
		bufferSize: bufferSize,
		subs:       make(map[string][]*memorySub),
	}
}

// Publish delivers msg to every subscriber of its subject. Subscribers with
// a full buffer miss the message.
func (b *MemoryBus) Publish(ctx context.Context, msg *Message) error {
	if err := ValidateSubject(msg.Subject); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed.Load() {
		return errClosed()
	}

	for _, sub := range b.subs[msg.Subject] {
		if sub.closed.Load() {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (b *MemoryBus) Dropped() int64 {
	return b.dropped.Load()
}

// Subscribe creates a subscription to a subject.
func (b *MemoryBus) Subscribe(subject string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}

	sub := &memorySub{
		subject: subject,
		ch:      make(chan *Message, b.bufferSize),
		bus:     b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return nil, errClosed()
	}
	b.subs[subject] = append(b.subs[subject], sub)
	return sub, nil
}

// Close shuts down the bus.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed.Swap(true) {
		return nil
	}
	for _, subs := range b.subs {
		for _, sub := range subs {
			if !sub.closed.Swap(true) {
				close(sub.ch)
			}
		}
	}
	b.subs = nil
	return nil
}

// Messages returns the message channel.
func (s *memorySub) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe cancels the subscription.
func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if s.closed.Swap(true) {
		return nil
	}
	subs := s.bus.subs[s.subject]
	for i, sub := range subs {
		if sub == s {
			s.bus.subs[s.subject] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	close(s.ch)
	return nil
}
