package bus

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	perrors "github.com/vinayprograms/editorbridge/errors"
)

// originHeader carries Message.Origin on NATS messages.
const originHeader = "Bridge-Origin"

// NATSBus implements Bus using NATS.
type NATSBus struct {
	conn       *nats.Conn
	bufferSize int
	owned      bool
}

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for identification.
	Name string

	// Token for token-based auth.
	Token string

	// User and Password for basic auth.
	User     string
	Password string

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// MaxReconnects is the maximum number of reconnection attempts.
	// -1 = unlimited
	MaxReconnects int

	// ConnectTimeout for initial connection.
	ConnectTimeout time.Duration

	// BufferSize for subscription channels.
	BufferSize int
}

// DefaultNATSConfig returns configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            nats.DefaultURL,
		Name:           "editorbridge",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
		BufferSize:     256,
	}
}

// NewNATSBus connects to NATS.
func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}

	conn, err := nats.Connect(cfg.URL, buildNATSOptions(cfg)...)
	if err != nil {
		return nil, perrors.ConnectionFailed("nats connect", perrors.WithCause(err),
			perrors.WithDetail("url", cfg.URL))
	}
	return &NATSBus{conn: conn, bufferSize: cfg.BufferSize, owned: true}, nil
}

// NewNATSBusFromConn wraps an existing connection. Close leaves the
// connection open.
func NewNATSBusFromConn(conn *nats.Conn, bufferSize int) *NATSBus {
	if bufferSize <= 0 {
		bufferSize = DefaultConfig().BufferSize
	}
	return &NATSBus{conn: conn, bufferSize: bufferSize}
}

// buildNATSOptions constructs NATS connection options from config.
func buildNATSOptions(cfg NATSConfig) []nats.Option {
	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	return opts
}

// Publish sends msg, carrying Origin in a header.
func (b *NATSBus) Publish(ctx context.Context, msg *Message) error {
	if err := ValidateSubject(msg.Subject); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.conn.IsClosed() {
		return errClosed()
	}

	nm := nats.NewMsg(msg.Subject)
	nm.Data = msg.Data
	if msg.Origin != "" {
		nm.Header.Set(originHeader, msg.Origin)
	}
	if err := b.conn.PublishMsg(nm); err != nil {
		return perrors.ConnectionFailed("nats publish", perrors.WithCause(err),
			perrors.WithDetail("subject", msg.Subject))
	}
	return nil
}

// Subscribe creates a subscription to a subject.
func (b *NATSBus) Subscribe(subject string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	if b.conn.IsClosed() {
		return nil, errClosed()
	}

	s := &natsSubscription{ch: make(chan *Message, b.bufferSize)}
	natsSub, err := b.conn.Subscribe(subject, func(m *nats.Msg) {
		msg := &Message{Subject: m.Subject, Data: m.Data}
		if m.Header != nil {
			msg.Origin = m.Header.Get(originHeader)
		}
		s.deliver(msg)
	})
	if err != nil {
		return nil, perrors.ConnectionFailed("nats subscribe", perrors.WithCause(err),
			perrors.WithDetail("subject", subject))
	}
	s.sub = natsSub
	natsSub.SetClosedHandler(func(string) { s.close() })
	return s, nil
}

// Close drains and closes the connection when the bus opened it.
func (b *NATSBus) Close() error {
	if !b.owned {
		return nil
	}
	if err := b.conn.Drain(); err != nil && err != nats.ErrConnectionClosed {
		b.conn.Close()
	}
	return nil
}

// Conn returns the underlying NATS connection for advanced use.
func (b *NATSBus) Conn() *nats.Conn {
	return b.conn
}

// natsSubscription bridges the NATS callback to a channel. The channel is
// closed once, after which late callbacks are dropped.
type natsSubscription struct {
	sub *nats.Subscription

	mu     sync.Mutex
	ch     chan *Message
	closed bool
}

func (s *natsSubscription) deliver(msg *Message) {
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

func (s *natsSubscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Messages returns the message channel.
func (s *natsSubscription) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe cancels the subscription.
func (s *natsSubscription) Unsubscribe() error {
	err := s.sub.Unsubscribe()
	s.close()
	if err != nil && err != nats.ErrConnectionClosed && err != nats.ErrBadSubscription {
		return perrors.ConnectionFailed("nats unsubscribe", perrors.WithCause(err))
	}
	return nil
}
