// Package telemetry provides OpenTelemetry tracing for bridge traffic.
//
// Spans cover three hops: a transport sending an envelope, the server
// dispatching a request to an adapter, and the adapter contract call itself.
// Trace context crosses the wire inside request metadata, so a client span
// and the server span that answers it share one trace.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	perrors "github.com/vinayprograms/editorbridge/errors"
)

// Tracer wraps an OpenTelemetry tracer with bridge-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // include payload sizes and metadata keys
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a tracer with the given instrumentation name.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// SetDebug toggles the extra attributes.
func (t *Tracer) SetDebug(debug bool) {
	t.debug = debug
}

// Debug reports whether extra attributes are recorded.
func (t *Tracer) Debug() bool {
	return t.debug
}

// StartSpan starts a span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Transport Spans ---

// MessageSpanOptions describes one envelope leaving a transport.
type MessageSpanOptions struct {
	Transport string // "http" or "websocket"
	Endpoint  string
	MessageID string
	Type      string
	Operation string
	Bytes     int
}

// StartSendSpan starts a client span for an outgoing envelope.
func (t *Tracer) StartSendSpan(ctx context.Context, msgType string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "bridge.send."+msgType, trace.WithSpanKind(trace.SpanKindClient))
}

// EndSendSpan records the envelope attributes and ends the span.
func (t *Tracer) EndSendSpan(span trace.Span, opts MessageSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("bridge.transport", opts.Transport),
		attribute.String("bridge.message.id", opts.MessageID),
		attribute.String("bridge.message.type", opts.Type),
	}
	if opts.Operation != "" {
		attrs = append(attrs, attribute.String("bridge.operation", opts.Operation))
	}
	if t.debug {
		attrs = append(attrs,
			attribute.String("bridge.endpoint", opts.Endpoint),
			attribute.Int("bridge.message.bytes", opts.Bytes),
		)
	}
	span.SetAttributes(attrs...)
	endSpan(span, err)
}

// --- Dispatch Spans ---

// DispatchSpanOptions describes a request served by the bridge server.
type DispatchSpanOptions struct {
	RequestID string
	Operation string
	AdapterID string
	Session   string
}

// StartDispatchSpan starts a server span for an inbound request.
func (t *Tracer) StartDispatchSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "bridge.dispatch."+operation, trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(attribute.String("bridge.operation", operation))
	return ctx, span
}

// EndDispatchSpan records where the request went and ends the span.
func (t *Tracer) EndDispatchSpan(span trace.Span, opts DispatchSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("bridge.request.id", opts.RequestID),
	}
	if opts.AdapterID != "" {
		attrs = append(attrs, attribute.String("bridge.adapter", opts.AdapterID))
	}
	if opts.Session != "" {
		attrs = append(attrs, attribute.String("bridge.session", opts.Session))
	}
	span.SetAttributes(attrs...)
	endSpan(span, err)
}

// --- Adapter Spans ---

// StartAdapterSpan starts a span around one adapter lifecycle or contract call.
func (t *Tracer) StartAdapterSpan(ctx context.Context, adapterID, action string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "adapter."+action, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("bridge.adapter", adapterID),
		attribute.String("bridge.adapter.action", action),
	)
	return ctx, span
}

// EndAdapterSpan ends an adapter span.
func (t *Tracer) EndAdapterSpan(span trace.Span, err error) {
	endSpan(span, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		if code := perrors.Code(err); code != "" {
			span.SetAttributes(attribute.String("bridge.error.code", string(code)))
		}
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Context Propagation ---

// InjectContext injects trace context into a carrier for cross-process propagation.
func InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractContext extracts trace context from a carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// MapCarrier adapts request metadata to a TextMapCarrier.
type MapCarrier map[string]string

func (c MapCarrier) Get(key string) string {
	return c[key]
}

func (c MapCarrier) Set(key, value string) {
	c[key] = value
}

func (c MapCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
