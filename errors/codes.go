package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

const (
	// CategoryTransient indicates link-level failures where a retry or a
	// reconnect may succeed.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures a retry will not fix: malformed
	// envelopes, unsupported operations, denied access.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal indicates bugs or corrupted state inside the bridge.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies one failure in the closed protocol taxonomy.
type ErrorCode string

const (
	// Connection
	ErrCodeConnectionFailed  ErrorCode = "CONNECTION_FAILED"
	ErrCodeConnectionTimeout ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeConnectionLost    ErrorCode = "CONNECTION_LOST"

	// Protocol
	ErrCodeInvalidRequest       ErrorCode = "INVALID_REQUEST"
	ErrCodeUnsupportedOperation ErrorCode = "UNSUPPORTED_OPERATION"
	ErrCodeVersionMismatch      ErrorCode = "PROTOCOL_VERSION_MISMATCH"

	// Auth
	ErrCodeAuthenticationFailed ErrorCode = "AUTHENTICATION_FAILED"
	ErrCodeAuthorizationFailed  ErrorCode = "AUTHORIZATION_FAILED"
	ErrCodeTokenExpired         ErrorCode = "TOKEN_EXPIRED"

	// Resources served by editor contracts
	ErrCodeFileNotFound          ErrorCode = "FILE_NOT_FOUND"
	ErrCodeFileAccessDenied      ErrorCode = "FILE_ACCESS_DENIED"
	ErrCodeWorkspaceNotFound     ErrorCode = "WORKSPACE_NOT_FOUND"
	ErrCodeWorkspaceAccessDenied ErrorCode = "WORKSPACE_ACCESS_DENIED"
	ErrCodeContextNotFound       ErrorCode = "CONTEXT_NOT_FOUND"
	ErrCodeContextAccessDenied   ErrorCode = "CONTEXT_ACCESS_DENIED"

	// Registry
	ErrCodeAlreadyExists   ErrorCode = "ALREADY_EXISTS"
	ErrCodeAdapterNotFound ErrorCode = "ADAPTER_NOT_FOUND"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Codes returns every code in the taxonomy.
func Codes() []ErrorCode {
	return []ErrorCode{
		ErrCodeConnectionFailed, ErrCodeConnectionTimeout, ErrCodeConnectionLost,
		ErrCodeInvalidRequest, ErrCodeUnsupportedOperation, ErrCodeVersionMismatch,
		ErrCodeAuthenticationFailed, ErrCodeAuthorizationFailed, ErrCodeTokenExpired,
		ErrCodeFileNotFound, ErrCodeFileAccessDenied,
		ErrCodeWorkspaceNotFound, ErrCodeWorkspaceAccessDenied,
		ErrCodeContextNotFound, ErrCodeContextAccessDenied,
		ErrCodeAlreadyExists, ErrCodeAdapterNotFound,
		ErrCodeInternal,
	}
}

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// Known reports whether c belongs to the taxonomy.
func (c ErrorCode) Known() bool {
	_, ok := codeDescriptions[c]
	return ok
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeConnectionFailed, ErrCodeConnectionTimeout, ErrCodeConnectionLost:
		return CategoryTransient

	case ErrCodeInvalidRequest, ErrCodeUnsupportedOperation, ErrCodeVersionMismatch,
		ErrCodeAuthenticationFailed, ErrCodeAuthorizationFailed, ErrCodeTokenExpired,
		ErrCodeFileNotFound, ErrCodeFileAccessDenied,
		ErrCodeWorkspaceNotFound, ErrCodeWorkspaceAccessDenied,
		ErrCodeContextNotFound, ErrCodeContextAccessDenied,
		ErrCodeAlreadyExists, ErrCodeAdapterNotFound:
		return CategoryPermanent

	default:
		return CategoryInternal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
func (c ErrorCode) DefaultRetryable() bool {
	return c.DefaultCategory().IsRetryable()
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeConnectionFailed:      "connection failed",
	ErrCodeConnectionTimeout:     "connection timed out",
	ErrCodeConnectionLost:        "connection lost",
	ErrCodeInvalidRequest:        "invalid request",
	ErrCodeUnsupportedOperation:  "operation not supported",
	ErrCodeVersionMismatch:       "protocol version mismatch",
	ErrCodeAuthenticationFailed:  "authentication failed",
	ErrCodeAuthorizationFailed:   "authorization failed",
	ErrCodeTokenExpired:          "token expired",
	ErrCodeFileNotFound:          "file not found",
	ErrCodeFileAccessDenied:      "file access denied",
	ErrCodeWorkspaceNotFound:     "workspace not found",
	ErrCodeWorkspaceAccessDenied: "workspace access denied",
	ErrCodeContextNotFound:       "context not found",
	ErrCodeContextAccessDenied:   "context access denied",
	ErrCodeAlreadyExists:         "already exists",
	ErrCodeAdapterNotFound:       "adapter not found",
	ErrCodeInternal:              "internal error",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
