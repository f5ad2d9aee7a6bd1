package protocol

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// ValidationResult reports every problem found in an envelope.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Error joins the problems into one message.
func (r ValidationResult) Error() string {
	return strings.Join(r.Errors, "; ")
}

// Validate checks an envelope. It never panics; a nil message is invalid.
func Validate(m *Message) ValidationResult {
	if m == nil {
		return ValidationResult{Errors: []string{"message is nil"}}
	}

	var errs []string
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if m.ID == "" {
		add("id is required")
	}
	if m.Timestamp <= 0 {
		add("timestamp is required")
	}
	if m.Version == "" {
		add("version is required")
	} else if !ValidVersion(m.Version) {
		add("version %q is not a semantic version", m.Version)
	}
	if m.Priority == "" {
		add("priority is required")
	} else if !m.Priority.Known() {
		add("unknown priority %q", m.Priority)
	}

	switch m.Type {
	case "":
		add("type is required")
	case TypeRequest:
		if m.Operation == "" {
			add("request requires operation")
		}
		if len(m.Payload) == 0 {
			add("request requires payload")
		}
		if m.Timeout < 0 {
			add("request timeout must not be negative")
		}
	case TypeResponse:
		if m.RequestID == "" {
			add("response requires requestId")
		}
		if m.Success == nil {
			add("response requires success")
		} else if !*m.Success && m.Error == nil {
			add("failed response requires error")
		}
		if m.Error != nil && len(m.Payload) > 0 {
			add("response must not carry both payload and error")
		}
		if m.Error != nil && m.Error.Code == "" {
			add("response error requires code")
		}
	case TypeEvent:
		if m.Event == "" {
			add("event requires event name")
		}
		if len(m.Payload) == 0 {
			add("event requires payload")
		}
	case TypeHandshake:
		if m.ClientInfo == nil {
			add("handshake requires clientInfo")
		} else if m.ClientInfo.Name == "" {
			add("handshake clientInfo requires name")
		}
	case TypeHeartbeat:
		if m.Status != HeartbeatPing && m.Status != HeartbeatPong {
			add("heartbeat status must be %q or %q", HeartbeatPing, HeartbeatPong)
		}
	case TypeDisconnect:
		if m.Reason == "" {
			add("disconnect requires reason")
		}
	default:
		add("unknown type %q", m.Type)
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// ValidateRaw decodes and validates wire bytes. Malformed JSON, including
// fields of the wrong JSON type, is reported rather than returned as error.
func ValidateRaw(data []byte) ValidationResult {
	m, err := Parse(data)
	if err != nil {
		return ValidationResult{Errors: []string{err.Error()}}
	}
	return Validate(m)
}

// ValidVersion reports whether v is a semantic version such as "1.0.0".
func ValidVersion(v string) bool {
	return semver.IsValid("v" + v)
}

// IsCompatibleVersion reports whether v shares this build's major version.
func IsCompatibleVersion(v string) bool {
	return SameMajorVersion(v, ProtocolVersion)
}

// SameMajorVersion reports whether a and b are valid versions with equal
// major components.
func SameMajorVersion(a, b string) bool {
	if !ValidVersion(a) || !ValidVersion(b) {
		return false
	}
	return semver.Major("v"+a) == semver.Major("v"+b)
}
