package toolctl

import "context"

// runVerifier invokes fn (if non-nil) and normalizes a rejection into a
// *Failure. Any non-allow decision is classed INVALID_REQUEST (§4.7).
func runVerifier(ctx context.Context, fn VerifierFunc, phase VerifyPhase, vctx VerifyContext) (rejected bool, reason string, err error) {
	if fn == nil {
		return false, "", nil
	}
	decision, err := fn(ctx, phase, vctx)
	if err != nil {
		return true, err.Error(), newFailure(CodeInvalidRequest, err.Error(), 0, ErrVerifierRejected)
	}
	if decision.Allow {
		return false, "", nil
	}
	reason = decision.Reason
	if reason == "" {
		reason = "rejected by verifier"
	}
	return true, reason, newFailure(CodeInvalidRequest, reason, 0, ErrVerifierRejected)
}

// runAfterErrorVerifier runs the after-error hook. If it accepts (Allow),
// the original error passes through unchanged. If it rejects, its failure
// replaces the original — this is how the safety composer standardizes
// rejection reasons on top of an existing after-error verifier.
func runAfterErrorVerifier(ctx context.Context, fn VerifierFunc, call CallContext, original error) (replaced error, rejected bool, reason string) {
	if fn == nil {
		return original, false, ""
	}
	decision, err := fn(ctx, PhaseAfterError, VerifyContext{Call: call, Err: original})
	if err != nil {
		return err, true, err.Error()
	}
	if decision.Allow {
		return original, false, ""
	}
	reason = decision.Reason
	if reason == "" {
		reason = "rejected by verifier"
	}
	return newFailure(CodeInvalidRequest, reason, 0, ErrVerifierRejected), true, reason
}

// mergeVerifier composes two VerifierFunc so that base runs first and
// short-circuits: if base rejects, next never runs. The safety package
// cannot call it and chains its before-call checks through its own
// mergeBeforeCall, which follows the same rule.
func mergeVerifier(base, next VerifierFunc) VerifierFunc {
	if base == nil {
		return next
	}
	if next == nil {
		return base
	}
	return func(ctx context.Context, phase VerifyPhase, vctx VerifyContext) (VerifierDecision, error) {
		decision, err := base(ctx, phase, vctx)
		if err != nil || !decision.Allow {
			return decision, err
		}
		return next(ctx, phase, vctx)
	}
}
