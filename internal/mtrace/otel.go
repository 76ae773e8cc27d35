// Package mtrace wraps the OpenTelemetry tracing API
// so that other packages only need to reference mtrace.
package mtrace

import (
	"context"

	otelattr "go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	otpnoop "go.opentelemetry.io/otel/trace/noop"
)

type TracerProvider = oteltrace.TracerProvider

type Tracer = oteltrace.Tracer

type Span = oteltrace.Span

type KeyValueAttr = otelattr.KeyValue

// TracerName is the instrumentation name used for all murmur spans.
const TracerName = "github.com/gordian-engine/murmur"

// NopTracerProvider returns the otel no-op tracer provider.
// This is intended to use as a fallback when a nil tracer provider is given.
func NopTracerProvider() TracerProvider {
	return otpnoop.NewTracerProvider()
}

// SpanFromContext is an alias to [oteltrace.SpanFromContext].
func SpanFromContext(ctx context.Context) Span {
	return oteltrace.SpanFromContext(ctx)
}

// WithAttributes is an alias to [oteltrace.WithAttributes].
func WithAttributes(attrs ...KeyValueAttr) oteltrace.SpanStartEventOption {
	return oteltrace.WithAttributes(attrs...)
}

// SpanError sets the given span to error status,
// with detail from err.Error().
func SpanError(span Span, err error) {
	span.SetStatus(otelcodes.Error, err.Error())
}

// ErrorAttr returns an attribute with the key "err"
// and the lazily evaluated value of err's Error() method.
func ErrorAttr(err error) KeyValueAttr {
	return otelattr.Stringer("err", errStringer{err: err})
}

type errStringer struct {
	err error
}

func (e errStringer) String() string {
	return e.err.Error()
}

func NodeAttr(id string) KeyValueAttr {
	return otelattr.String("murmur.node", id)
}

func NeighborAttr(id string) KeyValueAttr {
	return otelattr.String("murmur.neighbor", id)
}

func SourceAttr(src string) KeyValueAttr {
	return otelattr.String("murmur.src", src)
}

func MessageTypeAttr(typ string) KeyValueAttr {
	return otelattr.String("murmur.message.type", typ)
}

// ValueAttr records a disseminated value.
// The otel API has no unsigned type, so values above MaxInt64
// appear negative in traces.
func ValueAttr(v uint64) KeyValueAttr {
	return otelattr.Int64("murmur.value", int64(v))
}

func FanoutSizeAttr(n int) KeyValueAttr {
	return otelattr.Int("murmur.fanout.size", n)
}
