package toolctl

// Event kinds, exhaustive per the runtime-control design.
const (
	EventRetry                   = "retry"
	EventLoopWarning             = "loop_warning"
	EventLoopQuarantine          = "loop_quarantine"
	EventLoopStop                = "loop_stop"
	EventCircuitOpen             = "circuit_open"
	EventBudgetStop              = "budget_stop"
	EventPolicyDenied            = "policy_denied"
	EventPolicyApprovalRequired  = "policy_approval_required"
	EventPolicyApproved          = "policy_approved"
	EventPolicyDryRun            = "policy_dry_run"
	EventVerifierRejected        = "verifier_rejected"
	EventIdempotencyReplay       = "idempotency_replay"
	EventConcurrencyWait         = "concurrency_wait"
	EventConcurrencyRejected     = "concurrency_rejected"
)

// Event is a single occurrence emitted by a gate. Data carries kind-specific
// detail (for example a verifier_rejected event's "phase").
type Event struct {
	Kind      string
	Timestamp int64
	Tenant    string
	ToolName  string
	RunKey    string
	Data      map[string]any
}

// EventSink receives fanned-out events. A sink that returns an error (or
// panics) never affects the caller of Emit; the failure is routed to the
// bus's sink-failure hook.
type EventSink interface {
	HandleEvent(event Event) error
}

// EventSinkFunc adapts a plain function to EventSink.
type EventSinkFunc func(event Event) error

func (f EventSinkFunc) HandleEvent(event Event) error { return f(event) }

// OnEventFunc is invoked synchronously, before any sink, for every emitted
// event. It cannot itself fail the call; a panic inside it is recovered and
// dropped, matching the side-channel discipline in §4.4/§7.
type OnEventFunc func(event Event)

// OnEventSinkFailureFunc is invoked, once per failing sink, with the sink's
// index in Config.EventSinks.
type OnEventSinkFailureFunc func(failure error, event Event, sinkIndex int)

// eventBus fans an emitted event out to the configured callback and sinks.
// Sinks run independently (one per goroutine) so a slow sink cannot starve
// another; emission never blocks the orchestrator waiting on sinks and
// never propagates a sink failure to the caller.
type eventBus struct {
	clock         Clock
	tenant        string
	onEvent       OnEventFunc
	sinks         []EventSink
	onSinkFailure OnEventSinkFailureFunc
}

func newEventBus(clock Clock, tenant string, onEvent OnEventFunc, sinks []EventSink, onSinkFailure OnEventSinkFailureFunc) *eventBus {
	if clock == nil {
		clock = SystemClock
	}
	return &eventBus{clock: clock, tenant: tenant, onEvent: onEvent, sinks: sinks, onSinkFailure: onSinkFailure}
}

// Emit stamps the event and fans it out. Safe to call with a nil Data map.
func (b *eventBus) Emit(kind, toolName, runKey string, data map[string]any) {
	event := Event{
		Kind:      kind,
		Timestamp: b.clock.NowMillis(),
		Tenant:    b.tenant,
		ToolName:  toolName,
		RunKey:    runKey,
		Data:      data,
	}

	if b.onEvent != nil {
		b.safeOnEvent(event)
	}

	for i, sink := range b.sinks {
		go b.dispatchSink(i, sink, event)
	}
}

func (b *eventBus) safeOnEvent(event Event) {
	defer func() {
		_ = recover()
	}()
	b.onEvent(event)
}

func (b *eventBus) dispatchSink(index int, sink EventSink, event Event) {
	defer func() {
		if r := recover(); r != nil && b.onSinkFailure != nil {
			b.onSinkFailure(panicToError(r), event, index)
		}
	}()
	if err := sink.HandleEvent(event); err != nil && b.onSinkFailure != nil {
		b.onSinkFailure(err, event, index)
	}
}

func panicToError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &Failure{Message: "toolctl: event sink panic", Code: CodeUnknownError}
}
