// Package logging provides leveled console logging for the bridge.
//
// Lines have the form
//
//	LEVEL TIMESTAMP [component] message key=value ...
//
// with fields sorted by key. Loggers derived with WithComponent or
// WithTraceID share their parent's writer and lock.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel parses a case-insensitive level name. "warning" is accepted.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "", "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	}
	return "", fmt.Errorf("unknown log level %q", s)
}

// sink is the writer shared by a logger family.
type sink struct {
	mu       sync.Mutex
	output   io.Writer
	minLevel Level
}

// Logger writes leveled lines to a shared sink.
type Logger struct {
	sink      *sink
	component string
	traceID   string
}

// New creates a Logger writing INFO and above to stdout.
func New() *Logger {
	return &Logger{sink: &sink{output: os.Stdout, minLevel: LevelInfo}}
}

// Discard returns a Logger that writes nothing.
func Discard() *Logger {
	return &Logger{sink: &sink{output: io.Discard, minLevel: LevelError}}
}

// WithComponent returns a logger tagged with component.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{sink: l.sink, component: component, traceID: l.traceID}
}

// WithTraceID returns a logger that adds trace=<id> to every line.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return &Logger{sink: l.sink, component: l.component, traceID: traceID}
}

// SetLevel sets the minimum level for the whole family.
func (l *Logger) SetLevel(level Level) {
	l.sink.mu.Lock()
	l.sink.minLevel = level
	l.sink.mu.Unlock()
}

// SetOutput sets the writer for the whole family.
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	l.sink.output = w
	l.sink.mu.Unlock()
}

// Enabled reports whether level would be written.
func (l *Logger) Enabled(level Level) bool {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return levelPriority[level] >= levelPriority[l.sink.minLevel]
}

func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}

func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if !l.Enabled(level) {
		return
	}

	merged := make(map[string]interface{})
	for _, f := range fields {
		for k, v := range f {
			merged[k] = v
		}
	}
	if l.traceID != "" {
		merged["trace"] = l.traceID
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	fieldStr := formatFields(merged)

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.output.Write([]byte(line))
}

// --- Bridge events ---

// StateChange logs a connection state transition.
func (l *Logger) StateChange(connID, from, to string) {
	l.Info("state_change", map[string]interface{}{
		"conn": connID,
		"from": from,
		"to":   to,
	})
}

// RequestComplete logs the outcome of a request round trip.
func (l *Logger) RequestComplete(operation, requestID string, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"operation": operation,
		"request":   requestID,
		"duration":  duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Warn("request_failed", fields)
		return
	}
	l.Debug("request_complete", fields)
}

// AdapterEvent logs an adapter lifecycle event such as registered or disposed.
func (l *Logger) AdapterEvent(adapterID, event string, err error) {
	fields := map[string]interface{}{
		"adapter": adapterID,
		"event":   event,
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Error("adapter_"+event, fields)
		return
	}
	l.Info("adapter_"+event, fields)
}

// SessionEvent logs a client session opening or closing on the server.
func (l *Logger) SessionEvent(sessionID, event string, fields map[string]interface{}) {
	merged := map[string]interface{}{"session": sessionID}
	for k, v := range fields {
		merged[k] = v
	}
	l.Info("session_"+event, merged)
}
