package errors

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProtocolError is the interface for all structured errors in the bridge.
type ProtocolError interface {
	error

	// Code returns the taxonomy code identifying the failure.
	Code() ErrorCode

	// Category returns the error category for retry decisions.
	Category() ErrorCategory

	// Retryable returns true if the operation may succeed on retry.
	Retryable() bool

	// Details returns structured context carried alongside the message.
	Details() map[string]interface{}

	// Unwrap returns the underlying error, if any.
	Unwrap() error
}

// Error is the concrete implementation of ProtocolError.
type Error struct {
	code      ErrorCode
	category  ErrorCategory
	message   string
	cause     error
	details   map[string]interface{}
	retryable *bool // nil means use default based on category
	timestamp time.Time
}

var (
	_ ProtocolError    = (*Error)(nil)
	_ json.Marshaler   = (*Error)(nil)
	_ json.Unmarshaler = (*Error)(nil)
)

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() ErrorCategory {
	return e.category
}

// Message returns the message without the cause chain.
func (e *Error) Message() string {
	return e.message
}

// Retryable returns whether this error is retryable.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.category.IsRetryable()
}

// Details returns a copy of the error details.
func (e *Error) Details() map[string]interface{} {
	if e.details == nil {
		return make(map[string]interface{})
	}
	result := make(map[string]interface{}, len(e.details))
	for k, v := range e.details {
		result[k] = v
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Timestamp returns when the error occurred.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

type errorJSON struct {
	Code      ErrorCode              `json:"code"`
	Category  ErrorCategory          `json:"category"`
	Message   string                 `json:"message"`
	Cause     string                 `json:"cause,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Timestamp string                 `json:"timestamp,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	j := errorJSON{
		Code:      e.code,
		Category:  e.category,
		Message:   e.message,
		Details:   e.details,
		Retryable: e.Retryable(),
	}
	if e.cause != nil {
		j.Cause = e.cause.Error()
	}
	if !e.timestamp.IsZero() {
		j.Timestamp = e.timestamp.Format(time.RFC3339Nano)
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Error) UnmarshalJSON(data []byte) error {
	var j errorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	e.code = j.Code
	e.category = j.Category
	if e.category == "" {
		e.category = j.Code.DefaultCategory()
	}
	e.message = j.Message
	e.details = j.Details
	r := j.Retryable
	e.retryable = &r
	if j.Cause != "" {
		e.cause = fmt.Errorf("%s", j.Cause)
	}
	if j.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, j.Timestamp); err == nil {
			e.timestamp = t
		}
	}
	return nil
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithCategory overrides the default category.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) {
		e.category = cat
	}
}

// WithRetryable explicitly sets whether the error is retryable.
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithDetail adds a single detail entry.
func WithDetail(key string, value interface{}) Option {
	return func(e *Error) {
		if e.details == nil {
			e.details = make(map[string]interface{})
		}
		e.details[key] = value
	}
}

// WithDetails merges a map of detail entries.
func WithDetails(m map[string]interface{}) Option {
	return func(e *Error) {
		if len(m) == 0 {
			return
		}
		if e.details == nil {
			e.details = make(map[string]interface{}, len(m))
		}
		for k, v := range m {
			e.details[k] = v
		}
	}
}

// WithTimestamp sets a custom timestamp.
func WithTimestamp(t time.Time) Option {
	return func(e *Error) {
		e.timestamp = t
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// FromCode creates an error with the default description for the code.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// ConnectionFailed creates a connection failure error.
func ConnectionFailed(message string, opts ...Option) *Error {
	return New(ErrCodeConnectionFailed, message, opts...)
}

// ConnectionTimeout creates a timeout error naming the elapsed bound.
func ConnectionTimeout(bound time.Duration, opts ...Option) *Error {
	opts = append([]Option{WithDetail("timeout_ms", bound.Milliseconds())}, opts...)
	return New(ErrCodeConnectionTimeout, fmt.Sprintf("timed out after %s", bound), opts...)
}

// ConnectionLost creates a connection lost error.
func ConnectionLost(message string, opts ...Option) *Error {
	return New(ErrCodeConnectionLost, message, opts...)
}

// InvalidRequest creates an invalid request error.
func InvalidRequest(message string, opts ...Option) *Error {
	return New(ErrCodeInvalidRequest, message, opts...)
}

// UnsupportedOperation creates an error for an operation nobody serves.
func UnsupportedOperation(operation string, opts ...Option) *Error {
	opts = append([]Option{WithDetail("operation", operation)}, opts...)
	return New(ErrCodeUnsupportedOperation, fmt.Sprintf("operation %s is not supported", operation), opts...)
}

// VersionMismatch creates a protocol version mismatch error.
func VersionMismatch(got, want string, opts ...Option) *Error {
	opts = append([]Option{WithDetail("got", got), WithDetail("want", want)}, opts...)
	return New(ErrCodeVersionMismatch, fmt.Sprintf("protocol version %s is incompatible with %s", got, want), opts...)
}

// AlreadyExists creates a duplicate registration error.
func AlreadyExists(what string, opts ...Option) *Error {
	return New(ErrCodeAlreadyExists, fmt.Sprintf("%s already exists", what), opts...)
}

// AdapterNotFound creates an error for a missing adapter id or an operation
// no registered adapter serves.
func AdapterNotFound(message string, opts ...Option) *Error {
	return New(ErrCodeAdapterNotFound, message, opts...)
}

// Internal creates an internal error.
func Internal(message string, opts ...Option) *Error {
	return New(ErrCodeInternal, message, opts...)
}

// Cause returns the root cause of the error chain.
func Cause(err error) error {
	for {
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		inner := unwrapper.Unwrap()
		if inner == nil {
			return err
		}
		err = inner
	}
}

// RecoverPanic converts a recovered panic value into an Error.
func RecoverPanic(recovered interface{}) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(ErrCodeInternal, "panic: "+message, WithDetail("panic_type", fmt.Sprintf("%T", recovered)))
}
