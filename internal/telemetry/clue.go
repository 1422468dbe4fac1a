package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

type (
	// ClueLogger delegates to goa.design/clue/log for structured logging.
	ClueLogger struct{}

	// OTelMetrics records counters/timers/gauges via the global OTel
	// MeterProvider. Configure the provider (e.g. via clue.ConfigureOpenTelemetry)
	// before constructing this.
	OTelMetrics struct {
		meter metric.Meter
	}

	// OTelTracer creates spans via the global OTel TracerProvider.
	OTelTracer struct {
		tracer trace.Tracer
	}

	otelSpan struct {
		span trace.Span
	}
)

// NewClueLogger constructs a Logger that delegates to goa.design/clue/log.
// Formatting/debug settings are read from the context (log.Context,
// log.WithFormat, log.WithDebug).
func NewClueLogger() Logger { return ClueLogger{} }

// NewOTelMetrics constructs a Metrics recorder backed by OpenTelemetry metrics.
func NewOTelMetrics() Metrics {
	return &OTelMetrics{meter: otel.Meter("github.com/clasp-io/clasp/router")}
}

// NewOTelTracer constructs a Tracer backed by OpenTelemetry tracing.
func NewOTelTracer() Tracer {
	return &OTelTracer{tracer: otel.Tracer("github.com/clasp-io/clasp/router")}
}

func (ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, append([]log.Fielder{log.KV{K: "msg", V: msg}}, toFields(keyvals)...)...)
}

func (ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, append([]log.Fielder{log.KV{K: "msg", V: msg}}, toFields(keyvals)...)...)
}

func (ClueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	fields := append([]log.Fielder{log.KV{K: "msg", V: msg}, log.KV{K: "severity", V: "warning"}}, toFields(keyvals)...)
	log.Warn(ctx, fields...)
}

func (ClueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, nil, append([]log.Fielder{log.KV{K: "msg", V: msg}}, toFields(keyvals)...)...)
}

func toFields(keyvals []any) []log.Fielder {
	fields := make([]log.Fielder, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		k, _ := keyvals[i].(string)
		fields = append(fields, log.KV{K: k, V: keyvals[i+1]})
	}
	return fields
}

func (m *OTelMetrics) IncCounter(name string, value float64, tags ...string) {
	counter, err := m.meter.Float64Counter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), value, metric.WithAttributes(tagAttrs(tags)...))
}

func (m *OTelMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	hist, err := m.meter.Float64Histogram(name, metric.WithUnit("ms"))
	if err != nil {
		return
	}
	hist.Record(context.Background(), float64(duration.Microseconds())/1000.0, metric.WithAttributes(tagAttrs(tags)...))
}

func (m *OTelMetrics) RecordGauge(name string, value float64, tags ...string) {
	gauge, err := m.meter.Float64Gauge(name)
	if err != nil {
		return
	}
	gauge.Record(context.Background(), value, metric.WithAttributes(tagAttrs(tags)...))
}

func (t *OTelTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name, opts...)
	return ctx, otelSpan{span: span}
}

func (s otelSpan) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }
func (s otelSpan) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name)
	_ = attrs
}
func (s otelSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}
func (s otelSpan) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
}

func tagAttrs(tags []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		attrs = append(attrs, attribute.String(tags[i], tags[i+1]))
	}
	return attrs
}
