package toolctl

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

// eventRecorder captures every event emitted during a test via Config.OnEvent.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// S1: a failing-then-succeeding executor retries and eventually returns the
// success result, with exactly two retry events emitted.
func TestRun_S1_RetryThenSuccess(t *testing.T) {
	rec := &eventRecorder{}
	ctl := NewController(Config{
		Retry: RetryPolicy{MaxAttempts: 3, InitialDelayMs: 0, JitterRatio: 0},
		OnEvent: rec.record,
	})

	var calls int32
	executor := func(rt Runtime) (any, error) {
		n := atomic.AddInt32(&calls, 1)
		if n <= 2 {
			return nil, &Failure{Code: CodeNetworkError, StatusCode: 503, Message: "service unavailable"}
		}
		return "ok", nil
	}

	result, err := ctl.Run(context.Background(), CallContext{ToolName: "http.get"}, executor)
	if err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
	if result != "ok" {
		t.Errorf("Run() result = %v, want %q", result, "ok")
	}
	if calls != 3 {
		t.Errorf("executor invoked %d times, want 3", calls)
	}
	if got := rec.count(EventRetry); got != 2 {
		t.Errorf("retry events = %d, want 2", got)
	}
}

// S2: an executor slower than the configured timeout is aborted and
// classified as a NETWORK_ERROR/"timed out" terminal failure.
func TestRun_S2_TimeoutCancelled(t *testing.T) {
	ctl := NewController(Config{
		TimeoutMs: TimeoutOf(10),
		Retry:     RetryPolicy{MaxAttempts: 1},
	})

	executor := func(rt Runtime) (any, error) {
		if err := Sleep(40, rt.Signal); err != nil {
			return nil, err
		}
		return "done", nil
	}

	_, err := ctl.Run(context.Background(), CallContext{ToolName: "slow.tool"}, executor)
	if err == nil {
		t.Fatalf("Run() error = nil, want a timeout failure")
	}
	f, ok := err.(*Failure)
	if !ok {
		t.Fatalf("Run() error type = %T, want *Failure", err)
	}
	if f.Code != CodeNetworkError {
		t.Errorf("failure code = %q, want %q", f.Code, CodeNetworkError)
	}
	if f.Message != "timed out" {
		t.Errorf("failure message = %q, want %q", f.Message, "timed out")
	}
}

// S3: a run key with a two-call budget rejects the third call, and Reset
// clears the counter so a fourth call succeeds.
func TestRun_S3_BudgetExhaustion(t *testing.T) {
	rec := &eventRecorder{}
	ctl := NewController(Config{
		MaxToolCalls: 2,
		OnEvent:      rec.record,
	})

	ok := func(v string) Executor {
		return func(rt Runtime) (any, error) { return v, nil }
	}

	if _, err := ctl.Run(context.Background(), CallContext{ToolName: "t", RunKey: "r"}, ok("a")); err != nil {
		t.Fatalf("call 1: unexpected error %v", err)
	}
	if _, err := ctl.Run(context.Background(), CallContext{ToolName: "t", RunKey: "r"}, ok("b")); err != nil {
		t.Fatalf("call 2: unexpected error %v", err)
	}

	_, err := ctl.Run(context.Background(), CallContext{ToolName: "t", RunKey: "r"}, ok("c"))
	if err == nil {
		t.Fatalf("call 3: error = nil, want budget exceeded failure")
	}
	f, ok2 := err.(*Failure)
	if !ok2 {
		t.Fatalf("call 3: error type = %T, want *Failure", err)
	}
	if !contains(f.Message, "budget") {
		t.Errorf("call 3 failure message = %q, want it to mention budget", f.Message)
	}
	if got := rec.count(EventBudgetStop); got != 1 {
		t.Errorf("budget_stop events = %d, want 1", got)
	}

	if err := ctl.Reset("r"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	result, err := ctl.Run(context.Background(), CallContext{ToolName: "t", RunKey: "r"}, ok("d"))
	if err != nil {
		t.Fatalf("call 4 after Reset: unexpected error %v", err)
	}
	if result != "d" {
		t.Errorf("call 4 result = %v, want %q", result, "d")
	}
}

// S4: three identical-outcome calls to the same fingerprint emit exactly
// one loop_warning and one loop_quarantine, and a fourth identical call is
// rejected while quarantined.
func TestRun_S4_LoopWarningThenQuarantine(t *testing.T) {
	rec := &eventRecorder{}
	ctl := NewController(Config{
		LoopBreaker: LoopBreakerPolicy{WarningThreshold: 2, QuarantineThreshold: 3, StopThreshold: 10, QuarantineMs: 60_000},
		OnEvent:     rec.record,
	})

	args := map[string]any{"q": "same"}
	same := func(rt Runtime) (any, error) { return "same", nil }

	for i := 0; i < 3; i++ {
		if _, err := ctl.Run(context.Background(), CallContext{ToolName: "loopy", Args: args}, same); err != nil {
			t.Fatalf("call %d: unexpected error %v", i+1, err)
		}
	}

	if got := rec.count(EventLoopWarning); got != 1 {
		t.Errorf("loop_warning events = %d, want 1", got)
	}
	if got := rec.count(EventLoopQuarantine); got != 1 {
		t.Errorf("loop_quarantine events = %d, want 1", got)
	}

	_, err := ctl.Run(context.Background(), CallContext{ToolName: "loopy", Args: args}, same)
	if err == nil {
		t.Fatalf("call 4: error = nil, want quarantined rejection")
	}
	f, ok := err.(*Failure)
	if !ok {
		t.Fatalf("call 4: error type = %T, want *Failure", err)
	}
	if f.Code != CodeInvalidRequest {
		t.Errorf("call 4 failure code = %q, want %q", f.Code, CodeInvalidRequest)
	}
	if !contains(f.Message, "quarantin") {
		t.Errorf("call 4 failure message = %q, want it to mention quarantine", f.Message)
	}
}

// S5: a second call sharing an idempotency key replays the first call's
// result without re-invoking the executor, and emits idempotency_replay.
func TestRun_S5_IdempotencyReplay(t *testing.T) {
	rec := &eventRecorder{}
	ctl := NewController(Config{
		Idempotency: IdempotencyPolicy{Enabled: true},
		OnEvent:     rec.record,
	})

	var calls int32
	executor := func(rt Runtime) (any, error) {
		n := atomic.AddInt32(&calls, 1)
		return n, nil
	}

	call := CallContext{ToolName: "write.once", RunKey: "r", IdempotencyKey: "k"}

	first, err := ctl.Run(context.Background(), call, executor)
	if err != nil {
		t.Fatalf("call 1: unexpected error %v", err)
	}
	second, err := ctl.Run(context.Background(), call, executor)
	if err != nil {
		t.Fatalf("call 2: unexpected error %v", err)
	}

	if first != second {
		t.Errorf("replayed result = %v, want it to equal first result %v", second, first)
	}
	if calls != 1 {
		t.Errorf("executor invoked %d times, want 1", calls)
	}
	if got := rec.count(EventIdempotencyReplay); got != 1 {
		t.Errorf("idempotency_replay events = %d, want 1", got)
	}
}

// S6: an exact tool+destination deny rule outranks a wildcard allow rule
// for the matching destination, but leaves other destinations allowed.
func TestRun_S6_PolicySpecificity(t *testing.T) {
	ctl := NewController(Config{
		Policy: PolicyConfig{
			Rules: []PolicyRule{
				{ID: "deny-exact", Action: ActionDeny, Tools: []string{"http"}, Destinations: []string{"api.acme.local"}, Reason: "blocked destination"},
				{ID: "allow-all", Action: ActionAllow, Tools: []string{"*"}},
			},
		},
	})

	ok := func(rt Runtime) (any, error) { return "ok", nil }

	_, err := ctl.Run(context.Background(), CallContext{ToolName: "http", Destination: "https://api.acme.local/v1"}, ok)
	if err == nil {
		t.Fatalf("blocked destination: error = nil, want policy denial")
	}
	f, isF := err.(*Failure)
	if !isF || f.Code != CodeUnauthorized {
		t.Errorf("blocked destination: error = %v, want UNAUTHORIZED Failure", err)
	}

	result, err := ctl.Run(context.Background(), CallContext{ToolName: "http", Destination: "https://other.local/v1"}, ok)
	if err != nil {
		t.Fatalf("other destination: unexpected error %v", err)
	}
	if result != "ok" {
		t.Errorf("other destination: result = %v, want %q", result, "ok")
	}
}

// Invariant (e): the concurrency lock is released on every exit path,
// including a failing attempt, so a subsequent call for the same resource
// key is never stuck behind a stale lease.
func TestRun_LockReleasedOnFailure(t *testing.T) {
	ctl := NewController(Config{Retry: RetryPolicy{MaxAttempts: 1}})

	failing := func(rt Runtime) (any, error) {
		return nil, &Failure{Code: CodeValidationError, Message: "bad input"}
	}
	succeeding := func(rt Runtime) (any, error) { return "ok", nil }

	call := CallContext{ToolName: "locked.tool", ResourceKey: "res-1"}

	if _, err := ctl.Run(context.Background(), call, failing); err == nil {
		t.Fatalf("first call: error = nil, want validation failure")
	}

	result, err := ctl.Run(context.Background(), call, succeeding)
	if err != nil {
		t.Fatalf("second call: unexpected error %v, lock may not have been released", err)
	}
	if result != "ok" {
		t.Errorf("second call: result = %v, want %q", result, "ok")
	}
}

// A fatal (non-retryable) failure code short-circuits the retry loop
// regardless of remaining attempts.
func TestRun_FatalCodeSkipsRetry(t *testing.T) {
	rec := &eventRecorder{}
	ctl := NewController(Config{
		Retry:   RetryPolicy{MaxAttempts: 5, InitialDelayMs: 0, JitterRatio: 0},
		OnEvent: rec.record,
	})

	var calls int32
	executor := func(rt Runtime) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, &Failure{Code: CodeValidationError, Message: "bad args"}
	}

	_, err := ctl.Run(context.Background(), CallContext{ToolName: "t"}, executor)
	if err == nil {
		t.Fatalf("Run() error = nil, want validation failure")
	}
	if calls != 1 {
		t.Errorf("executor invoked %d times, want 1 (fatal code must not retry)", calls)
	}
	if got := rec.count(EventRetry); got != 0 {
		t.Errorf("retry events = %d, want 0", got)
	}
}

// CallContext with no ToolName is rejected before any gate runs.
func TestRun_MissingToolName(t *testing.T) {
	ctl := NewController(Config{})
	_, err := ctl.Run(context.Background(), CallContext{}, func(rt Runtime) (any, error) {
		t.Fatalf("executor must not run when ToolName is missing")
		return nil, nil
	})
	if err == nil {
		t.Fatalf("Run() error = nil, want missing-tool-name failure")
	}
}
