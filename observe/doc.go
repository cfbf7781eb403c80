// Package observe provides the structured logger toolctl's gates emit
// events through. It carries only the logging pillar of the original
// ApertureStack observability package: toolctl records retries, circuit
// trips, loop-breaker stops, and policy decisions as Events (see
// toolctl.Event) and forwards them to this Logger via
// toolctl.NewObserveEventSink, it does not need OpenTelemetry tracing or
// metrics wired through here — toolctl's own metrics.go talks to
// go.opentelemetry.io/otel/metric directly, scoped per tool call rather than
// per log line.
//
// # Structured logging
//
// NewLogger (or NewLoggerWithWriter, for tests) returns a Logger that writes
// one JSON object per line: a timestamp, level, message, any fields passed
// to the call, and — once scoped via WithTool — tool.id/tool.name/
// tool.namespace/tool.version attributes that toolctl's event sink attaches
// so every line can be filtered or dashboarded by tool without parsing msg.
//
// # Field redaction
//
// Fields named in RedactedFields are written as "[REDACTED]" rather than
// their actual value, so a tool call's raw input (which may carry a
// password, token, or API key) never reaches a log line even if a caller
// attaches it as a Field.
package observe
