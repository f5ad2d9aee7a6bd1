// Package errors provides the closed error taxonomy shared by every layer of
// the editor bridge: transports, the adapter registry and the bridge server.
//
// # Error Categories
//
//   - Transient: link-level failures (connection failed, timed out, lost)
//   - Permanent: retry will not help (invalid request, unsupported operation,
//     auth failures, not-found and access-denied variants)
//   - Internal: unexpected failures inside the bridge
//
// # Usage
//
// Create an error:
//
//	err := errors.New(errors.ErrCodeConnectionTimeout, "request timed out after 30s")
//
// Attach details that travel in a Response envelope:
//
//	err := errors.New(errors.ErrCodeFileNotFound, "no such file",
//	    errors.WithDetail("path", "src/main.go"))
//
// Check a code anywhere in a wrapped chain:
//
//	if errors.Is(err, errors.ErrCodeConnectionLost) {
//	    // reconnect
//	}
//
// # JSON Serialization
//
// Errors marshal to {code, category, message, details, retryable, timestamp}
// and unmarshal back into *Error.
package errors
