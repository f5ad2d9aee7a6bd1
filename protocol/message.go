// Package protocol defines the editor-agnostic message envelope exchanged
// between an editor process and remote web clients.
//
// Every message on the wire is a JSON object carrying the common envelope
// fields (id, type, timestamp, priority, version) plus the fields of its
// type. Construction goes through a Factory; untrusted input goes through
// Validate before anything acts on it. The package performs no I/O.
package protocol

import (
	"encoding/json"
	"time"

	perrors "github.com/vinayprograms/editorbridge/errors"
)

// ProtocolVersion is the envelope version this build speaks.
const ProtocolVersion = "1.0.0"

// Wire limits and defaults shared by transports and the bridge server.
const (
	DefaultRequestTimeout = 30 * time.Second
	MaxMessageSize        = 1024 * 1024 // 1MB
)

// MessageType discriminates the envelope union.
type MessageType string

const (
	TypeRequest    MessageType = "request"
	TypeResponse   MessageType = "response"
	TypeEvent      MessageType = "event"
	TypeHandshake  MessageType = "handshake"
	TypeHeartbeat  MessageType = "heartbeat"
	TypeDisconnect MessageType = "disconnect"
)

// MessageTypes lists every known discriminant.
func MessageTypes() []MessageType {
	return []MessageType{TypeRequest, TypeResponse, TypeEvent, TypeHandshake, TypeHeartbeat, TypeDisconnect}
}

// Known reports whether t is a known discriminant.
func (t MessageType) Known() bool {
	switch t {
	case TypeRequest, TypeResponse, TypeEvent, TypeHandshake, TypeHeartbeat, TypeDisconnect:
		return true
	}
	return false
}

// Priority is the delivery priority hint carried by every envelope.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Known reports whether p is one of the four levels.
func (p Priority) Known() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// HeartbeatStatus is the state carried by a heartbeat envelope.
type HeartbeatStatus string

const (
	HeartbeatPing HeartbeatStatus = "ping"
	HeartbeatPong HeartbeatStatus = "pong"
)

// Message is the envelope. Common fields are always set; the remaining
// fields are populated according to Type.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"` // ms since epoch
	Priority  Priority    `json:"priority"`
	Version   string      `json:"version"`

	// request
	Operation Operation         `json:"operation,omitempty"`
	Timeout   int64             `json:"timeout,omitempty"` // ms
	Metadata  map[string]string `json:"metadata,omitempty"`

	// request, response, event. JSON null counts as present.
	Payload json.RawMessage `json:"payload,omitempty"`

	// response
	RequestID string     `json:"requestId,omitempty"`
	Success   *bool      `json:"success,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`

	// event
	Event string `json:"event,omitempty"`

	// handshake
	ClientInfo   *PeerInfo `json:"clientInfo,omitempty"`
	ServerInfo   *PeerInfo `json:"serverInfo,omitempty"`
	Capabilities []string  `json:"capabilities,omitempty"`

	// heartbeat
	Status HeartbeatStatus `json:"status,omitempty"`

	// disconnect
	Reason string `json:"reason,omitempty"`
	Code   *int   `json:"code,omitempty"`
}

// TimeoutDuration returns the per-request timeout, zero when unset.
func (m *Message) TimeoutDuration() time.Duration {
	return time.Duration(m.Timeout) * time.Millisecond
}

// Succeeded reports whether a response envelope carries success=true.
func (m *Message) Succeeded() bool {
	return m.Success != nil && *m.Success
}

// DecodePayload unmarshals the payload into v.
func (m *Message) DecodePayload(v interface{}) error {
	if len(m.Payload) == 0 {
		return perrors.InvalidRequest("message has no payload")
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return perrors.WrapWithCode(err, perrors.ErrCodeInvalidRequest, "decoding payload")
	}
	return nil
}

// Marshal serializes the envelope to its wire form.
func (m *Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Parse decodes wire bytes into an envelope without validating it.
func Parse(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, perrors.WrapWithCode(err, perrors.ErrCodeInvalidRequest, "malformed message")
	}
	return &m, nil
}

// PeerInfo identifies one side of a handshake.
type PeerInfo struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Platform string `json:"platform,omitempty"`
}

// ErrorInfo is the structured error carried by a failed response.
type ErrorInfo struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// ErrorInfoFrom converts any error into its wire form. Errors outside the
// taxonomy are reported as INTERNAL_ERROR.
func ErrorInfoFrom(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	if pErr := perrors.As(err); pErr != nil {
		details := pErr.Details()
		if len(details) == 0 {
			details = nil
		}
		return &ErrorInfo{
			Code:      string(pErr.Code()),
			Message:   pErr.Error(),
			Details:   details,
			Timestamp: pErr.Timestamp().UnixMilli(),
		}
	}
	return &ErrorInfo{
		Code:      string(perrors.ErrCodeInternal),
		Message:   err.Error(),
		Timestamp: time.Now().UnixMilli(),
	}
}

// Err converts the wire error back into a taxonomy error.
func (e *ErrorInfo) Err() *perrors.Error {
	if e == nil {
		return nil
	}
	opts := []perrors.Option{perrors.WithDetails(e.Details)}
	if e.Timestamp > 0 {
		opts = append(opts, perrors.WithTimestamp(time.UnixMilli(e.Timestamp)))
	}
	return perrors.New(perrors.ErrorCode(e.Code), e.Message, opts...)
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status    string `json:"status"`
	Server    string `json:"server"`
	Version   string `json:"version"`
	Timestamp int64  `json:"timestamp"`
}
