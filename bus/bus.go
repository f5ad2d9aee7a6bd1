package bus

import (
	"context"
	"fmt"
	"strings"

	perrors "github.com/vinayprograms/editorbridge/errors"
)

// Backend kinds accepted by New.
const (
	KindMemory = "memory"
	KindNATS   = "nats"
)

// DefaultSubject carries bridge events when none is configured.
const DefaultSubject = "bridge.events"

// Message is one event on the bus.
type Message struct {
	// Subject the message was published to.
	Subject string

	// Origin identifies the publisher (a server session id). May be empty.
	Origin string

	// Data is the serialized event envelope.
	Data []byte
}

// Bus publishes and delivers events.
type Bus interface {
	// Publish sends msg to every subscriber of msg.Subject.
	Publish(ctx context.Context, msg *Message) error

	// Subscribe creates a subscription to a subject.
	Subscribe(subject string) (Subscription, error)

	// Close shuts the bus down and closes every subscription channel.
	Close() error
}

// Subscription represents an active subscription.
type Subscription interface {
	// Messages returns the channel for incoming messages.
	// Channel is closed when subscription ends.
	Messages() <-chan *Message

	// Unsubscribe cancels the subscription.
	Unsubscribe() error
}

// Config selects and configures a backend.
type Config struct {
	// Kind is KindMemory or KindNATS.
	// Default: KindMemory
	Kind string

	// BufferSize for subscription channels.
	// Default: 256
	BufferSize int

	// NATS settings, used when Kind is KindNATS.
	NATS NATSConfig
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Kind:       KindMemory,
		BufferSize: 256,
		NATS:       DefaultNATSConfig(),
	}
}

// New builds the backend named by cfg.Kind.
func New(cfg Config) (Bus, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	switch cfg.Kind {
	case "", KindMemory:
		return NewMemoryBus(cfg.BufferSize), nil
	case KindNATS:
		nc := cfg.NATS
		nc.BufferSize = cfg.BufferSize
		b, err := NewNATSBus(nc)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, perrors.InvalidRequest(fmt.Sprintf("unknown bus kind %q", cfg.Kind))
}

// ValidateSubject rejects empty subjects and wildcards; events are published
// to concrete subjects only.
func ValidateSubject(subject string) error {
	if subject == "" {
		return perrors.InvalidRequest("bus subject is empty")
	}
	if strings.ContainsAny(subject, "*> \t") {
		return perrors.InvalidRequest(fmt.Sprintf("bus subject %q must be concrete", subject),
			perrors.WithDetail("subject", subject))
	}
	return nil
}

func errClosed() error {
	return perrors.ConnectionLost("bus closed")
}
