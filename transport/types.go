package transport

import (
	"context"
	"time"

	"github.com/vinayprograms/editorbridge/protocol"
)

// State is the connection state.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateReconnecting State = "RECONNECTING"
	StateFailed       State = "FAILED"
)

// Config holds transport configuration shared by all strategies.
type Config struct {
	// Timeout bounds requests without their own timeout and WebSocket dials.
	// Default: 30s
	Timeout time.Duration

	// ReconnectDelay is the fixed wait before each reconnect attempt.
	// Default: 5s
	ReconnectDelay time.Duration

	// MaxReconnectAttempts before giving up (0 disables reconnection).
	// Default: 5
	MaxReconnectAttempts int

	// KeepAlive enables Heartbeat{ping} envelopes on persistent strategies.
	KeepAlive bool

	// KeepAliveInterval between pings.
	// Default: 30s
	KeepAliveInterval time.Duration

	// KeepAliveTimeout forces link loss when nothing arrives for this long
	// (0 = never).
	KeepAliveTimeout time.Duration

	// Compression and Encryption are carried for configuration parity but
	// not implemented; enabling them logs a warning.
	Compression bool
	Encryption  bool

	// IDPrefix prefixes generated message ids.
	// Default: "msg"
	IDPrefix string
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:              protocol.DefaultRequestTimeout,
		ReconnectDelay:       5 * time.Second,
		MaxReconnectAttempts: 5,
		KeepAliveInterval:    30 * time.Second,
		IDPrefix:             "msg",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.MaxReconnectAttempts < 0 {
		c.MaxReconnectAttempts = 0
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = d.KeepAliveInterval
	}
	if c.IDPrefix == "" {
		c.IDPrefix = d.IDPrefix
	}
	return c
}

// ConnectionInfo is a snapshot of the connection.
type ConnectionInfo struct {
	ID                string    `json:"id"`
	Transport         string    `json:"transport"`
	Endpoint          string    `json:"endpoint"`
	State             State     `json:"state"`
	ConnectedAt       time.Time `json:"connectedAt,omitempty"`
	LastActivity      time.Time `json:"lastActivity,omitempty"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
}

// Stats is a snapshot of traffic counters.
type Stats struct {
	MessagesSent     int64         `json:"messagesSent"`
	MessagesReceived int64         `json:"messagesReceived"`
	BytesSent        int64         `json:"bytesSent"`
	BytesReceived    int64         `json:"bytesReceived"`
	Reconnects       int64         `json:"reconnects"`
	Errors           int64         `json:"errors"`
	Uptime           time.Duration `json:"uptime"`
}

// NotificationKind identifies a notification.
type NotificationKind string

const (
	NotifyConnecting         NotificationKind = "connecting"
	NotifyConnected          NotificationKind = "connected"
	NotifyDisconnected       NotificationKind = "disconnected"
	NotifyReconnecting       NotificationKind = "reconnecting"
	NotifyReconnectExhausted NotificationKind = "reconnect_exhausted"
	NotifyError              NotificationKind = "error"
)

// Notification reports a state change or an error the transport could not
// return to a caller.
type Notification struct {
	Kind    NotificationKind
	State   State
	Err     error
	Attempt int // reconnect attempt, for reconnecting notifications
	Time    time.Time
}

// Handler processes an inbound envelope of the type it subscribed to.
type Handler func(ctx context.Context, msg *protocol.Message) error

// Sink receives what a strategy reads from the wire.
type Sink interface {
	// HandleRawMessage processes one inbound frame or response body.
	HandleRawMessage(data []byte)

	// LinkLost reports that a persistent link dropped.
	LinkLost(err error)
}

// Strategy performs the wire-level work for a Transport.
type Strategy interface {
	// Name identifies the strategy ("http", "websocket").
	Name() string

	// Endpoint is the configured endpoint.
	Endpoint() string

	// Persistent reports whether the strategy holds a live link that can be
	// lost and re-established.
	Persistent() bool

	// Connect establishes the link. Inbound data goes to sink.
	Connect(ctx context.Context, sink Sink) error

	// Disconnect tears the link down. It is safe to call more than once.
	Disconnect() error

	// SendRaw writes one serialized envelope.
	SendRaw(ctx context.Context, msg *protocol.Message, data []byte) error
}
