package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	perrors "github.com/vinayprograms/editorbridge/errors"
	"github.com/vinayprograms/editorbridge/protocol"
)

// HTTPBase converts a ws(s) endpoint into its http(s) base, dropping a
// trailing /ws path. http(s) endpoints are returned without a trailing slash.
func HTTPBase(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", perrors.InvalidRequest("invalid endpoint", perrors.WithCause(err))
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", perrors.InvalidRequest(fmt.Sprintf("unsupported endpoint scheme %q", u.Scheme))
	}
	u.Path = strings.TrimSuffix(strings.TrimRight(u.Path, "/"), PathWS)
	u.RawQuery = ""
	return strings.TrimRight(u.String(), "/"), nil
}

// CheckHealth probes GET <endpoint>/health. A nil client uses
// http.DefaultClient.
func CheckHealth(ctx context.Context, client *http.Client, endpoint string) (*protocol.HealthStatus, error) {
	if client == nil {
		client = http.DefaultClient
	}
	base, err := HTTPBase(endpoint)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+PathHealth, nil)
	if err != nil {
		return nil, perrors.Internal("building health request", perrors.WithCause(err))
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, perrors.Wrap(ctx.Err(), "health check")
		}
		return nil, perrors.ConnectionFailed("health check failed", perrors.WithCause(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, perrors.ConnectionFailed(fmt.Sprintf("health check returned %d", resp.StatusCode),
			perrors.WithDetail("status", resp.StatusCode))
	}

	var status protocol.HealthStatus
	if err := json.NewDecoder(io.LimitReader(resp.Body, protocol.MaxMessageSize)).Decode(&status); err != nil {
		return nil, perrors.WrapWithCode(err, perrors.ErrCodeInvalidRequest, "decoding health status")
	}
	return &status, nil
}

// NewStrategy builds the strategy named by kind ("http" or "websocket").
func NewStrategy(kind, endpoint string) (Strategy, error) {
	switch kind {
	case "http":
		s, err := NewHTTPStrategy(endpoint, DefaultHTTPOptions())
		if err != nil {
			return nil, err
		}
		return s, nil
	case "websocket", "ws":
		s, err := NewWebSocketStrategy(endpoint, DefaultWebSocketOptions())
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, perrors.InvalidRequest(fmt.Sprintf("unknown transport kind %q", kind))
}
