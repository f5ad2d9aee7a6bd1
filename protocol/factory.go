package protocol

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	perrors "github.com/vinayprograms/editorbridge/errors"
)

// idSeq is shared by every Factory in the process so ids stay unique even
// when two factories use the same prefix or the clock moves backward.
var idSeq atomic.Uint64

// Factory builds envelopes with fresh ids and the common fields filled in.
type Factory struct {
	prefix  string
	version string
	now     func() time.Time
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithIDPrefix sets the id prefix (default "msg").
func WithIDPrefix(prefix string) FactoryOption {
	return func(f *Factory) {
		f.prefix = prefix
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) FactoryOption {
	return func(f *Factory) {
		f.now = now
	}
}

// WithVersion overrides the envelope version stamped on messages.
func WithVersion(version string) FactoryOption {
	return func(f *Factory) {
		f.version = version
	}
}

// NewFactory creates a Factory.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		prefix:  "msg",
		version: ProtocolVersion,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// DefaultFactory is used by package-level helpers.
var DefaultFactory = NewFactory()

// NextID returns a process-unique message id.
func (f *Factory) NextID() string {
	seq := idSeq.Add(1)
	return fmt.Sprintf("%s_%d_%d", f.prefix, f.now().UnixMilli(), seq)
}

func (f *Factory) envelope(t MessageType, priority Priority) *Message {
	if priority == "" {
		priority = PriorityNormal
	}
	return &Message{
		ID:        f.NextID(),
		Type:      t,
		Timestamp: f.now().UnixMilli(),
		Priority:  priority,
		Version:   f.version,
	}
}

// RequestOptions are the optional request fields.
type RequestOptions struct {
	Timeout  time.Duration
	Priority Priority
	Metadata map[string]string
}

// NewRequest builds a request for op carrying payload.
func (f *Factory) NewRequest(op Operation, payload interface{}, opts RequestOptions) (*Message, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	m := f.envelope(TypeRequest, opts.Priority)
	m.Operation = op
	m.Payload = raw
	m.Metadata = opts.Metadata
	if opts.Timeout > 0 {
		m.Timeout = opts.Timeout.Milliseconds()
	}
	return m, nil
}

// Result is the outcome a response reports. Build it with Success or
// Failure; a Result never holds both data and an error.
type Result struct {
	data interface{}
	err  error
	ok   bool
}

// Success reports a successful outcome carrying data.
func Success(data interface{}) Result {
	return Result{data: data, ok: true}
}

// Failure reports a failed outcome.
func Failure(err error) Result {
	if err == nil {
		err = perrors.Internal("failure without error")
	}
	return Result{err: err}
}

// NewResponse builds a response to requestID. Successful responses carry
// only payload; failed ones carry only error.
func (f *Factory) NewResponse(requestID string, result Result) (*Message, error) {
	m := f.envelope(TypeResponse, PriorityNormal)
	m.RequestID = requestID
	ok := result.ok
	m.Success = &ok
	if !ok {
		m.Error = ErrorInfoFrom(result.err)
		return m, nil
	}
	raw, err := marshalPayload(result.data)
	if err != nil {
		return nil, err
	}
	m.Payload = raw
	return m, nil
}

// NewEvent builds an event envelope.
func (f *Factory) NewEvent(name string, payload interface{}) (*Message, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	m := f.envelope(TypeEvent, PriorityNormal)
	m.Event = name
	m.Payload = raw
	return m, nil
}

// NewHandshake builds a handshake. server may be nil on the client side.
func (f *Factory) NewHandshake(client PeerInfo, server *PeerInfo, capabilities []string) *Message {
	m := f.envelope(TypeHandshake, PriorityHigh)
	m.ClientInfo = &client
	m.ServerInfo = server
	m.Capabilities = append([]string(nil), capabilities...)
	return m
}

// NewHeartbeat builds a ping or pong.
func (f *Factory) NewHeartbeat(status HeartbeatStatus) *Message {
	m := f.envelope(TypeHeartbeat, PriorityLow)
	m.Status = status
	return m
}

// NewDisconnect builds a disconnect notice. code is omitted when zero.
func (f *Factory) NewDisconnect(reason string, code int) *Message {
	m := f.envelope(TypeDisconnect, PriorityHigh)
	m.Reason = reason
	if code != 0 {
		c := code
		m.Code = &c
	}
	return m
}

func marshalPayload(payload interface{}) (json.RawMessage, error) {
	if raw, ok := payload.(json.RawMessage); ok && len(raw) > 0 {
		return raw, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, perrors.WrapWithCode(err, perrors.ErrCodeInvalidRequest, "encoding payload")
	}
	return data, nil
}
