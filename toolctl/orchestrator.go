package toolctl

import "context"

// Controller is the entry point created by NewController: Run, Wrap, and
// Reset compose every gate in §2's documented order. Gates hold only the
// minimal context and pre-resolved effective config they need — none of
// them hold a back-reference to the Controller (§9, Design Notes).
type Controller struct {
	cfg   *resolvedConfig
	store *tenantStore
	bus   *eventBus
}

// NewController resolves config and returns a ready-to-use Controller. A
// zero-value Config is valid; every numeric knob resolves to its
// documented default.
func NewController(config Config) *Controller {
	resolved := config.resolve()

	backing := config.StateStore
	if backing == nil {
		backing = NewMemoryStateStore()
	}
	store := newTenantStore(backing, resolved.tenantKey)

	bus := newEventBus(resolved.clock, resolved.tenantKey, config.OnEvent, config.EventSinks, config.OnEventSinkFailure)

	return &Controller{cfg: resolved, store: store, bus: bus}
}

// Run executes one tool call through the full gate pipeline: policy,
// before-call verifier, idempotency replay, budget, loop breaker,
// concurrency lock, then an attempt loop that enforces the circuit
// breaker, runs the executor under a timeout/cancellation guard, and
// retries per the Retry Engine — releasing the lock on every exit path.
func (c *Controller) Run(ctx context.Context, call CallContext, executor Executor) (any, error) {
	if call.ToolName == "" {
		return nil, newFailure(CodeValidationError, "call context missing tool name", 0, ErrMissingToolName)
	}

	runKey := call.NormalizedRunKey()
	destHost := call.DestinationHost()
	eff := c.cfg.effectiveFor(call.ToolName, destHost)

	timeoutMs := eff.timeoutMs
	if call.TimeoutMs > 0 {
		timeoutMs = call.TimeoutMs
	}

	if err := c.enforcePolicyGate(ctx, call, runKey); err != nil {
		return nil, err
	}

	if rejected, reason, verr := runVerifier(ctx, c.cfg.verifiers.BeforeCall, PhaseBeforeCall, VerifyContext{Call: call}); rejected {
		c.bus.Emit(EventVerifierRejected, call.ToolName, runKey, map[string]any{"phase": string(PhaseBeforeCall), "reason": reason})
		return nil, verr
	}

	record, replayed, err := idempotencyReplay(ctx, c.store, c.cfg.clock, c.cfg.idempotency, call)
	if err != nil {
		return nil, err
	}
	if replayed {
		c.bus.Emit(EventIdempotencyReplay, call.ToolName, runKey, nil)
		if record.OK {
			return record.Result, nil
		}
		return nil, record.Err
	}

	if err := enforceBudget(ctx, c.store, c.cfg.maxToolCalls, runKey); err != nil {
		c.bus.Emit(EventBudgetStop, call.ToolName, runKey, nil)
		return nil, err
	}

	fingerprint := Fingerprint(call.ToolName, call.Args)
	if err := loopBreakerPreCall(ctx, c.store, c.cfg.clock, fingerprint); err != nil {
		return nil, err
	}

	release, err := c.acquireLockGate(call, runKey, timeoutMs)
	if err != nil {
		return nil, err
	}
	defer release()

	return c.runAttempts(ctx, call, runKey, destHost, fingerprint, timeoutMs, eff, executor)
}

// enforcePolicyGate wraps enforcePolicy with the Controller's event bus.
func (c *Controller) enforcePolicyGate(ctx context.Context, call CallContext, runKey string) error {
	outcome, err := enforcePolicy(ctx, c.cfg.policy, call, func(rule PolicyRule) {
		c.bus.Emit(EventPolicyApprovalRequired, call.ToolName, runKey, map[string]any{"rule": rule.ID})
	})
	if outcome.eventKind != "" {
		c.bus.Emit(outcome.eventKind, call.ToolName, runKey, map[string]any{"reason": outcome.reason})
	}
	return err
}

// acquireLockGate acquires the concurrency lock for call.ResourceKey, if
// any, and returns a release func that is always safe to call (a no-op
// when no lock was taken). The Controller always releases whatever it
// acquired, on every exit path (§3, invariant (e)).
func (c *Controller) acquireLockGate(call CallContext, runKey string, timeoutMs int64) (release func(), err error) {
	if call.ResourceKey == "" {
		return func() {}, nil
	}

	owner, outcome, err := acquireLock(context.Background(), c.store, c.cfg.clock, c.cfg.concurrency, call.ResourceKey, timeoutMs)
	if outcome.waited {
		c.bus.Emit(EventConcurrencyWait, call.ToolName, runKey, map[string]any{"resourceKey": call.ResourceKey})
	}
	if err != nil {
		c.bus.Emit(EventConcurrencyRejected, call.ToolName, runKey, map[string]any{"resourceKey": call.ResourceKey})
		return func() {}, err
	}

	return func() {
		_ = releaseLock(context.Background(), c.store, call.ResourceKey, owner)
	}, nil
}

// runAttempts is the retry loop: enforce circuit → execute under
// timeout/cancellation → record circuit sample → on success run the
// after-success verifier and store idempotency/loop state; on failure run
// the after-error verifier, decide whether to retry, and on terminal
// failure record loop state and idempotency error before returning.
func (c *Controller) runAttempts(ctx context.Context, call CallContext, runKey, destHost, fingerprint string, timeoutMs int64, eff effectiveConfig, executor Executor) (any, error) {
	maxAttempts := eff.retry.MaxAttempts

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := circuitPreCall(ctx, c.store, c.cfg.clock, call.ToolName, destHost); err != nil {
			return nil, err
		}

		runtime := Runtime{Call: call, Attempt: attempt}
		outcome := executeAttempt(runtime, timeoutMs, call.Signal, executor)

		opened, cerr := circuitRecordSample(ctx, c.store, c.cfg.clock, eff.circuit, call.ToolName, destHost, outcome.failure != nil)
		if cerr == nil && opened {
			c.bus.Emit(EventCircuitOpen, call.ToolName, runKey, map[string]any{"destination": destHost})
		}

		var failure *Failure
		if outcome.failure == nil {
			rejected, reason, verr := runVerifier(ctx, c.cfg.verifiers.AfterSuccess, PhaseAfterSuccess, VerifyContext{Call: call, Result: outcome.result})
			if !rejected {
				return c.finishSuccess(ctx, call, runKey, fingerprint, outcome.result)
			}
			c.bus.Emit(EventVerifierRejected, call.ToolName, runKey, map[string]any{"phase": string(PhaseAfterSuccess), "reason": reason})
			failure = verr.(*Failure)
		} else {
			failure = outcome.failure
		}

		replaced, rejected, reason := runAfterErrorVerifier(ctx, c.cfg.verifiers.AfterError, call, failure)
		if rejected {
			c.bus.Emit(EventVerifierRejected, call.ToolName, runKey, map[string]any{"phase": string(PhaseAfterError), "reason": reason})
		}
		if rf, ok := replaced.(*Failure); ok {
			failure = rf
		} else {
			failure = NormalizeFailure(replaced, outcome.cancelledByCaller, outcome.timedOut)
		}

		retryable, delayMs := decideRetry(c.cfg.retryClassifier, RetryClassifierInput{
			Failure:           failure,
			RawError:          failure,
			StatusCode:        failure.StatusCode,
			CancelledByCaller: outcome.cancelledByCaller,
			Attempt:           attempt,
			MaxAttempts:       maxAttempts,
			ToolName:          call.ToolName,
			Destination:       destHost,
			Action:            call.Action,
		})

		terminal := outcome.cancelledByCaller || attempt >= maxAttempts || !retryable
		if terminal {
			return nil, c.finishFailure(ctx, call, runKey, fingerprint, failure)
		}

		c.bus.Emit(EventRetry, call.ToolName, runKey, map[string]any{"attempt": attempt, "reason": failure.Message})

		delay := computeBackoffDelay(eff.retry, c.cfg.random, attempt, delayMs)
		if serr := Sleep(delay, call.Signal); serr != nil {
			return nil, c.finishFailure(ctx, call, runKey, fingerprint, newFailure(CodeNetworkError, "cancelled by caller", 0, ErrCancelled))
		}
	}

	return nil, newFailure(CodeUnknownError, "retry loop exhausted without a terminal result", 0, nil)
}

// finishSuccess stores the idempotency record and records the loop-breaker
// outcome for a call the after-success verifier accepted.
func (c *Controller) finishSuccess(ctx context.Context, call CallContext, runKey, fingerprint string, result any) (any, error) {
	_ = idempotencyStoreSuccess(ctx, c.store, c.cfg.clock, c.cfg.idempotency, call, result)

	outcomeHash := OutcomeHash(true, 0, "", "", result)
	if ev, lerr := loopBreakerRecordOutcome(ctx, c.store, c.cfg.clock, c.cfg.loopBreaker, fingerprint, outcomeHash); lerr == nil && ev.kind != "" {
		c.bus.Emit(ev.kind, call.ToolName, runKey, map[string]any{"reason": ev.reason})
	}

	return result, nil
}

// finishFailure records loop-breaker and idempotency-error state for a
// terminal failure and returns it.
func (c *Controller) finishFailure(ctx context.Context, call CallContext, runKey, fingerprint string, failure *Failure) error {
	outcomeHash := OutcomeHash(false, failure.StatusCode, failure.Code, failure.Message, nil)
	if ev, lerr := loopBreakerRecordOutcome(ctx, c.store, c.cfg.clock, c.cfg.loopBreaker, fingerprint, outcomeHash); lerr == nil && ev.kind != "" {
		c.bus.Emit(ev.kind, call.ToolName, runKey, map[string]any{"reason": ev.reason})
	}
	_ = idempotencyStoreError(ctx, c.store, c.cfg.clock, c.cfg.idempotency, call, failure)
	return failure
}

// Reset clears the budget counter for the normalized run key only (§6).
func (c *Controller) Reset(runKey string) error {
	if runKey == "" {
		runKey = "default"
	}
	return resetBudget(context.Background(), c.store, runKey)
}

// WrapResolvers resolve the parts of a CallContext from a wrapped
// function's raw positional arguments (§6, §5 Supplemented Features). Any
// nil resolver leaves that field at its zero value.
type WrapResolvers struct {
	ToolName       string
	RunKey         func(args []any) (string, error)
	Destination    func(args []any) (string, error)
	Action         func(args []any) (string, error)
	IdempotencyKey func(args []any) (string, error)
	ResourceKey    func(args []any) (string, error)
}

// WrappedHandler is returned by Wrap; calling it runs handler through Run.
type WrappedHandler func(args ...any) (any, error)

// Wrap returns a function that, when called with arbitrary positional
// args, resolves a CallContext from those args via resolvers, then invokes
// Run with handler as the executor. This is an escape hatch for dynamic
// callers (e.g. a CLI or RPC shim forwarding an arbitrary arg tuple);
// idiomatic Go call sites should prefer Run directly.
func (c *Controller) Wrap(resolvers WrapResolvers, handler func(args []any, runtime Runtime) (any, error)) WrappedHandler {
	return func(args ...any) (any, error) {
		call := CallContext{ToolName: resolvers.ToolName, Args: args}

		resolve := func(fn func([]any) (string, error), dst *string) error {
			if fn == nil {
				return nil
			}
			v, err := fn(args)
			if err != nil {
				return err
			}
			*dst = v
			return nil
		}

		if err := resolve(resolvers.RunKey, &call.RunKey); err != nil {
			return nil, err
		}
		if err := resolve(resolvers.Destination, &call.Destination); err != nil {
			return nil, err
		}
		if err := resolve(resolvers.Action, &call.Action); err != nil {
			return nil, err
		}
		if err := resolve(resolvers.IdempotencyKey, &call.IdempotencyKey); err != nil {
			return nil, err
		}
		if err := resolve(resolvers.ResourceKey, &call.ResourceKey); err != nil {
			return nil, err
		}

		return c.Run(context.Background(), call, func(rt Runtime) (any, error) {
			return handler(args, rt)
		})
	}
}
