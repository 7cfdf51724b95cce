// OpenTelemetry tracing for coordinator operations.
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

	"github.com/vinayprograms/orderclaim/errors"
)

// Tracer wraps OpenTelemetry tracing with coordinator-specific helpers.
type Tracer struct {
	tracer trace.Tracer
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
		return NoopTracer()
	}
	return globalTracer
}

// NoopTracer returns a tracer that records nothing.
func NoopTracer() *Tracer {
	return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
}

// NewTracer creates a new tracer with the given name.
func NewTracer(name string) *Tracer {
	return &Tracer{tracer: otel.Tracer(name)}
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Operation Spans ---

// OperationSpanOptions describes the outcome of a façade call.
type OperationSpanOptions struct {
	From string
	To   string
}

// StartOperationSpan starts a span for one coordinator operation such as
// "order.claim" or "quote.approve".
func (t *Tracer) StartOperationSpan(ctx context.Context, op, id, actorID string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, op, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("orderclaim.operation", op),
		attribute.String("orderclaim.id", id),
	)
	if actorID != "" {
		span.SetAttributes(attribute.String("orderclaim.actor", actorID))
	}
	return ctx, span
}

// EndOperationSpan ends an operation span. Coded errors add their code
// and retryability so traces can be filtered by failure kind.
func (t *Tracer) EndOperationSpan(span trace.Span, opts OperationSpanOptions, err error) {
	if opts.From != "" {
		span.SetAttributes(attribute.String("orderclaim.from", opts.From))
	}
	if opts.To != "" {
		span.SetAttributes(attribute.String("orderclaim.to", opts.To))
	}
	endSpan(span, err)
}

// --- Notification Spans ---

// StartNotifySpan starts a span for one notifier delivery.
func (t *Tracer) StartNotifySpan(ctx context.Context, notifier, userID string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "notify."+notifier, trace.WithSpanKind(trace.SpanKindProducer))
	span.SetAttributes(
		attribute.String("notify.notifier", notifier),
		attribute.String("notify.user", userID),
	)
	return ctx, span
}

// EndNotifySpan ends a notification span.
func (t *Tracer) EndNotifySpan(span trace.Span, err error) {
	endSpan(span, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		if code := errors.Code(err); code != "" {
			span.SetAttributes(
				attribute.String("error.code", string(code)),
				attribute.Bool("error.retryable", errors.IsRetryable(err)),
			)
		}
		span.RecordError(err)
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

// MapCarrier is a simple map-based TextMapCarrier for context propagation.
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

// TraceID returns the active trace id, or "" when ctx carries no span.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
