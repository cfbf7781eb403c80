package toolctl

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func attrString(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// otelMetricsSink records one counter per event kind via an
// OpenTelemetry Meter, mirroring how the observe package's own metrics
// setup records counters per tool execution.
type otelMetricsSink struct {
	counter metric.Int64Counter
}

// NewOTelMetricsSink builds an EventSink that increments
// "toolctl.events" (attributed by event kind, tool name, and tenant) for
// every emitted event. Optional: wire it into Config.EventSinks only if
// the caller already runs an OpenTelemetry MeterProvider.
func NewOTelMetricsSink(meter metric.Meter) (EventSink, error) {
	counter, err := meter.Int64Counter(
		"toolctl.events",
		metric.WithDescription("Count of toolctl runtime-control events by kind"),
	)
	if err != nil {
		return nil, err
	}
	return &otelMetricsSink{counter: counter}, nil
}

func (s *otelMetricsSink) HandleEvent(event Event) error {
	s.counter.Add(context.Background(), 1, metric.WithAttributes(
		attrString("kind", event.Kind),
		attrString("tool", event.ToolName),
		attrString("tenant", event.Tenant),
	))
	return nil
}
