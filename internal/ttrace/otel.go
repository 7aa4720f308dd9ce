// Package ttrace wraps the OpenTelemetry tracing API
// so that the rest of tessera only references one small package.
package ttrace

import (
	"fmt"

	"go.opentelemetry.io/otel"
	otelattr "go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	otpnoop "go.opentelemetry.io/otel/trace/noop"
)

type TracerProvider = oteltrace.TracerProvider

type Tracer = oteltrace.Tracer

type Span = oteltrace.Span

type KeyValueAttr = otelattr.KeyValue

// TracerName is the instrumentation name used for every tessera tracer.
const TracerName = "github.com/gordian-engine/tessera"

// NopTracerProvider returns the otel no-op tracer provider.
// This is intended to use as a fallback when a nil tracer provider is given.
func NopTracerProvider() TracerProvider {
	return otpnoop.NewTracerProvider()
}

// GlobalTracerProvider returns the process-wide provider registered with otel,
// which is a no-op until an SDK installs one.
func GlobalTracerProvider() TracerProvider {
	return otel.GetTracerProvider()
}

// NewTracer returns the tessera tracer from tp,
// or a no-op tracer if tp is nil.
func NewTracer(tp TracerProvider) Tracer {
	if tp == nil {
		tp = NopTracerProvider()
	}
	return tp.Tracer(TracerName)
}

// WithAttributes is an alias to [oteltrace.WithAttributes]
// to allow consumers to only reference the ttrace package.
func WithAttributes(attrs ...KeyValueAttr) oteltrace.SpanStartEventOption {
	return oteltrace.WithAttributes(attrs...)
}

// RemoteAttr names the remote instance a span concerns.
func RemoteAttr(remote string) KeyValueAttr {
	return otelattr.String("tessera.remote", remote)
}

// PlayerAttr lazily formats a player principal.
func PlayerAttr(player fmt.Stringer) KeyValueAttr {
	return otelattr.Stringer("tessera.player", player)
}

// CorrelationIDAttr records the correlation id of a request.
func CorrelationIDAttr(id uint32) KeyValueAttr {
	return otelattr.Int64("tessera.correlation_id", int64(id))
}

// SpanError sets the given span to error status,
// with detail from err.Error().
func SpanError(span oteltrace.Span, err error) {
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
