// Package toolctl implements the ApertureStack tool-call runtime control
// layer: a composable pipeline of reliability, safety, and admission
// gates wrapped around an arbitrary asynchronous tool call.
//
// # Architecture
//
//	Run(ctx, call, executor)
//	  │
//	  ├─ validate (tool name required)
//	  ├─ policy evaluator          (policy.go)
//	  ├─ before-call verifier      (verify.go)
//	  ├─ idempotency replay        (idempotency.go)
//	  ├─ budget counter            (budget.go)
//	  ├─ loop breaker pre-call     (loopbreaker.go)
//	  ├─ concurrency lock acquire  (lock.go)
//	  └─ retry attempt loop
//	       ├─ circuit breaker pre-call   (circuit.go)
//	       ├─ timeout/cancellation guard (timeout.go, abort.go)
//	       ├─ circuit breaker sample     (circuit.go)
//	       ├─ after-success / after-error verifier (verify.go)
//	       ├─ retry classification       (retry.go)
//	       └─ idempotency / loop-breaker outcome recording
//
// Every gate reads and writes through a pluggable StateStore (state.go),
// namespaced by Config.TenantKey, so a process-local Controller and a
// Redis-backed one (state_redis.go) are interchangeable.
//
// # Quick Start
//
//	ctl := toolctl.NewController(toolctl.Config{
//		Retry: toolctl.RetryPolicy{MaxAttempts: 3},
//	})
//	result, err := ctl.Run(ctx, toolctl.CallContext{ToolName: "http.get"}, func(rt toolctl.Runtime) (any, error) {
//		return doRequest(rt.Signal)
//	})
//
// # Thread Safety
//
// A *Controller is safe for concurrent use by multiple goroutines. Two
// Controllers sharing a tenant key and a StateStore observe one global
// view of budget/loop/circuit/lock state.
//
// # Error Handling
//
// Every failure a gate or the executor produces is returned by Run as a
// *Failure; use errors.Is against the sentinels in errors.go to branch on
// cause without string matching. Errors from the StateStore itself, and
// from Wrap's resolvers, are returned as they are.
//
// # Integration with ApertureStack
//
// toolctl never logs or emits metrics directly — see logsink.go and
// metrics.go for optional adapters onto the observe package's Logger and
// OpenTelemetry Meter, wired in through Config.EventSinks.
package toolctl
