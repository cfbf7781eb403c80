package toolctl

import (
	"context"

	"github.com/jonwraymond/toolctl/observe"
)

// observeEventSink adapts the Controller's event bus onto an
// ApertureStack observe.Logger, so a caller that already runs the
// observe package gets structured JSON event logs with no extra wiring
// beyond appending this sink to Config.EventSinks.
type observeEventSink struct {
	logger observe.Logger
}

// NewObserveEventSink wraps logger as an EventSink. Every event is logged
// at Info level, tool-scoped via observe.ToolMeta, with the event kind and
// its data fields attached. This is entirely optional: the zero-value
// Config never imports or touches observe.
func NewObserveEventSink(logger observe.Logger) EventSink {
	return &observeEventSink{logger: logger}
}

func (s *observeEventSink) HandleEvent(event Event) error {
	scoped := s.logger.WithTool(observe.ToolMeta{Name: event.ToolName})

	fields := make([]observe.Field, 0, len(event.Data)+2)
	fields = append(fields,
		observe.Field{Key: "tenant", Value: event.Tenant},
		observe.Field{Key: "runKey", Value: event.RunKey},
	)
	for k, v := range event.Data {
		fields = append(fields, observe.Field{Key: k, Value: v})
	}

	scoped.Info(context.Background(), "toolctl."+event.Kind, fields...)
	return nil
}
