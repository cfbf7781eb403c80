package toolctl

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/jonwraymond/toolctl/observe"
)

func TestObserveEventSink_LogsEventAsStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := observe.NewLoggerWithWriter("info", &buf)
	sink := NewObserveEventSink(logger)

	err := sink.HandleEvent(Event{
		Kind:     EventRetry,
		Tenant:   "tenant-a",
		ToolName: "http.get",
		RunKey:   "run-1",
		Data:     map[string]any{"attempt": 2},
	})
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "toolctl.retry") {
		t.Errorf("log output = %q, want it to mention the event message \"toolctl.retry\"", out)
	}

	var decoded map[string]any
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &decoded); err != nil {
		t.Fatalf("log line is not valid JSON: %v (%q)", err, out)
	}
}

func TestObserveEventSink_HandlesNilData(t *testing.T) {
	var buf bytes.Buffer
	logger := observe.NewLoggerWithWriter("info", &buf)
	sink := NewObserveEventSink(logger)

	if err := sink.HandleEvent(Event{Kind: EventCircuitOpen, ToolName: "t"}); err != nil {
		t.Fatalf("HandleEvent() error = %v, want nil with a nil Data map", err)
	}
}
