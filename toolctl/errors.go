package toolctl

import "errors"

// Sentinel errors returned (wrapped in a *Failure) by the gate pipeline.
// Callers should prefer errors.Is against these over string matching.
var (
	ErrMissingToolName    = errors.New("toolctl: call context missing tool name")
	ErrPolicyDenied       = errors.New("toolctl: policy denied the call")
	ErrApprovalRequired   = errors.New("toolctl: approval required but was not granted")
	ErrVerifierRejected   = errors.New("toolctl: verifier rejected the call")
	ErrBudgetExceeded     = errors.New("toolctl: budget exceeded")
	ErrLoopQuarantined    = errors.New("toolctl: loop breaker quarantined this fingerprint")
	ErrLoopStopped        = errors.New("toolctl: loop breaker stopped this fingerprint")
	ErrCircuitOpen        = errors.New("toolctl: circuit breaker open")
	ErrConcurrencyRejected = errors.New("toolctl: concurrency lock rejected")
	ErrConcurrencyTimeout = errors.New("toolctl: concurrency lock wait timed out")
	ErrCancelled          = errors.New("toolctl: cancelled by caller")
	ErrTimedOut           = errors.New("toolctl: timed out")
	ErrAborted            = errAborted
)
