package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	perrors "github.com/vinayprograms/editorbridge/errors"
	"github.com/vinayprograms/editorbridge/protocol"
)

// Endpoint paths served by the bridge server.
const (
	PathRequest = "/api/request"
	PathEvent   = "/api/event"
	PathHealth  = "/health"
	PathWS      = "/ws"
)

// HTTPOptions configures an HTTPStrategy.
type HTTPOptions struct {
	// Client performs the POSTs. Default: a client with Timeout.
	Client *http.Client

	// Timeout caps each POST when Client is nil. Zero leaves the bound to
	// the request context, which carries the per-request timeout.
	Timeout time.Duration

	// Headers are added to every POST.
	Headers map[string]string
}

// DefaultHTTPOptions returns options with sensible defaults.
func DefaultHTTPOptions() HTTPOptions {
	return HTTPOptions{}
}

// HTTPStrategy sends each envelope as one POST.
type HTTPStrategy struct {
	base    string // endpoint without trailing slash
	client  *http.Client
	headers map[string]string

	mu   sync.Mutex
	sink Sink
}

// NewHTTPStrategy validates endpoint and creates the strategy. The endpoint
// must use http or https.
func NewHTTPStrategy(endpoint string, opts HTTPOptions) (*HTTPStrategy, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, perrors.InvalidRequest("invalid http endpoint", perrors.WithCause(err),
			perrors.WithDetail("endpoint", endpoint))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, perrors.InvalidRequest(fmt.Sprintf("http endpoint must use http or https, got %q", u.Scheme),
			perrors.WithDetail("endpoint", endpoint))
	}
	if u.Host == "" {
		return nil, perrors.InvalidRequest("http endpoint has no host", perrors.WithDetail("endpoint", endpoint))
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	return &HTTPStrategy{
		base:    strings.TrimRight(endpoint, "/"),
		client:  client,
		headers: opts.Headers,
	}, nil
}

func (s *HTTPStrategy) Name() string     { return "http" }
func (s *HTTPStrategy) Endpoint() string { return s.base }
func (s *HTTPStrategy) Persistent() bool { return false }

// Connect records the sink. No request is made.
func (s *HTTPStrategy) Connect(_ context.Context, sink Sink) error {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
	return nil
}

// Disconnect forgets the sink.
func (s *HTTPStrategy) Disconnect() error {
	s.mu.Lock()
	s.sink = nil
	s.mu.Unlock()
	return nil
}

// SendRaw POSTs requests to /api/request and everything else to
// /api/event. A non-empty response body is handed to the sink.
func (s *HTTPStrategy) SendRaw(ctx context.Context, msg *protocol.Message, data []byte) error {
	path := PathEvent
	if msg.Type == protocol.TypeRequest {
		path = PathRequest
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+path, bytes.NewReader(data))
	if err != nil {
		return perrors.Internal("building request", perrors.WithCause(err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return perrors.Wrap(ctx.Err(), "POST "+path)
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return perrors.New(perrors.ErrCodeConnectionTimeout, "POST "+path+" timed out",
				perrors.WithCause(err), perrors.WithDetail("endpoint", s.base))
		}
		return perrors.ConnectionFailed("POST "+path+" failed", perrors.WithCause(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, protocol.MaxMessageSize+1))
	if err != nil {
		return perrors.ConnectionLost("reading response body", perrors.WithCause(err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return perrors.ConnectionFailed(fmt.Sprintf("POST %s returned %d", path, resp.StatusCode),
			perrors.WithDetail("status", resp.StatusCode))
	}
	if len(body) > protocol.MaxMessageSize {
		return perrors.InvalidRequest("response body exceeds message size limit",
			perrors.WithDetail("limit", protocol.MaxMessageSize))
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink != nil {
		sink.HandleRawMessage(body)
	}
	return nil
}
