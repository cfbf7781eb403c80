package toolctl

import "math"

// decideRetry applies the optional classifier on top of the default
// retryability decision. A nil classifier, or one that returns nil
// (invalid/unset), falls back to the default decision verbatim — this
// exact fallback is carried over from the original source's
// resolve_retry_decision (see DESIGN.md).
func decideRetry(classifier RetryClassifier, input RetryClassifierInput) (retryable bool, delayMs int64) {
	defaultRetryable := isDefaultRetryable(input.Failure, input.CancelledByCaller)
	if classifier == nil {
		return defaultRetryable, -1
	}
	decision := classifier(input)
	if decision == nil {
		return defaultRetryable, -1
	}
	return decision.Retryable, decision.DelayMs
}

// computeBackoffDelay implements §4.13's delay formula: the classifier's
// delayMs if >= 0, else exponential backoff with multiplicative jitter,
// floored at 0.
func computeBackoffDelay(policy RetryPolicy, random Random, attempt int, classifierDelayMs int64) int64 {
	if classifierDelayMs >= 0 {
		return classifierDelayMs
	}

	base := float64(policy.InitialDelayMs) * math.Pow(policy.BackoffFactor, float64(attempt-1))
	if base > float64(policy.MaxDelayMs) {
		base = float64(policy.MaxDelayMs)
	}

	jitterFactor := 1 + (random.Float64()*2-1)*policy.JitterRatio
	delay := base * jitterFactor
	if delay < 0 {
		delay = 0
	}
	return int64(delay)
}
