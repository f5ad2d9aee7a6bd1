package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	perrors "github.com/vinayprograms/editorbridge/errors"
	"github.com/vinayprograms/editorbridge/protocol"
)

// WebSocketOptions configures a WebSocketStrategy.
type WebSocketOptions struct {
	// Dialer opens the connection. Default: websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Header is sent with the upgrade request.
	Header http.Header

	// WriteTimeout for each frame.
	WriteTimeout time.Duration

	// MaxMessageSize limits incoming frames.
	MaxMessageSize int64
}

// DefaultWebSocketOptions returns options with sensible defaults.
func DefaultWebSocketOptions() WebSocketOptions {
	return WebSocketOptions{
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: protocol.MaxMessageSize,
	}
}

// WebSocketStrategy carries envelopes as text frames on one connection.
type WebSocketStrategy struct {
	endpoint string
	opts     WebSocketOptions

	mu   sync.Mutex
	conn *websocket.Conn

	writeMu sync.Mutex
}

// NewWebSocketStrategy validates endpoint and creates the strategy. The
// endpoint must use ws or wss.
func NewWebSocketStrategy(endpoint string, opts WebSocketOptions) (*WebSocketStrategy, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, perrors.InvalidRequest("invalid websocket endpoint", perrors.WithCause(err),
			perrors.WithDetail("endpoint", endpoint))
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, perrors.InvalidRequest(fmt.Sprintf("websocket endpoint must use ws or wss, got %q", u.Scheme),
			perrors.WithDetail("endpoint", endpoint))
	}
	if u.Host == "" {
		return nil, perrors.InvalidRequest("websocket endpoint has no host", perrors.WithDetail("endpoint", endpoint))
	}

	d := DefaultWebSocketOptions()
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = d.WriteTimeout
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = d.MaxMessageSize
	}

	return &WebSocketStrategy{endpoint: endpoint, opts: opts}, nil
}

func (s *WebSocketStrategy) Name() string     { return "websocket" }
func (s *WebSocketStrategy) Endpoint() string { return s.endpoint }
func (s *WebSocketStrategy) Persistent() bool { return true }

// Connect dials the endpoint. The dial is bounded by ctx; running out of
// time yields CONNECTION_TIMEOUT.
func (s *WebSocketStrategy) Connect(ctx context.Context, sink Sink) error {
	conn, resp, err := s.opts.Dialer.DialContext(ctx, s.endpoint, s.opts.Header)
	if err != nil {
		var netErr net.Error
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return perrors.New(perrors.ErrCodeConnectionTimeout, "websocket dial timed out",
				perrors.WithCause(err), perrors.WithDetail("endpoint", s.endpoint))
		}
		opts := []perrors.Option{perrors.WithCause(err), perrors.WithDetail("endpoint", s.endpoint)}
		if resp != nil {
			opts = append(opts, perrors.WithDetail("status", resp.StatusCode))
		}
		return perrors.ConnectionFailed("websocket dial failed", opts...)
	}
	conn.SetReadLimit(s.opts.MaxMessageSize)

	s.mu.Lock()
	old := s.conn
	s.conn = conn
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}

	go s.readLoop(conn, sink)
	return nil
}

// readLoop feeds frames to sink until the connection fails. Only the
// current connection reports link loss; one replaced or closed by
// Disconnect exits quietly.
func (s *WebSocketStrategy) readLoop(conn *websocket.Conn, sink Sink) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			current := s.conn == conn
			if current {
				s.conn = nil
			}
			s.mu.Unlock()

			conn.Close()
			if current {
				sink.LinkLost(err)
			}
			return
		}
		sink.HandleRawMessage(data)
	}
}

// Disconnect sends a close frame and closes the connection.
func (s *WebSocketStrategy) Disconnect() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}

	s.writeMu.Lock()
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	s.writeMu.Unlock()

	return conn.Close()
}

// SendRaw writes one text frame.
func (s *WebSocketStrategy) SendRaw(_ context.Context, _ *protocol.Message, data []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return perrors.ConnectionLost("websocket is not connected")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return perrors.ConnectionLost("websocket write failed", perrors.WithCause(err))
	}
	return nil
}

// NewWebSocketUpgrader creates an upgrader for the server side. With no
// allowed origins every origin is accepted.
func NewWebSocketUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			return allowed[r.Header.Get("Origin")]
		},
	}
}
