package toolctl

import "context"

func circuitStateKey(toolName, destHost string) string {
	return "circuit:" + toolName + ":" + destHost
}

type circuitSample struct {
	Timestamp int64
	Failed    bool
}

// circuitState is the persisted per-(tenant,tool,destination) record (§3).
type circuitState struct {
	Samples   []circuitSample
	OpenUntil int64
}

func loadCircuitState(ctx context.Context, store StateStore, toolName, destHost string) (circuitState, error) {
	raw, ok, err := store.Get(ctx, circuitStateKey(toolName, destHost))
	if err != nil || !ok {
		return circuitState{}, err
	}
	s, ok := decodeStored[circuitState](raw)
	if !ok {
		return circuitState{}, nil
	}
	return s, nil
}

// circuitPreCall blocks the call without executing it if the breaker is
// currently open for (toolName, destHost).
func circuitPreCall(ctx context.Context, store StateStore, clock Clock, toolName, destHost string) error {
	state, err := loadCircuitState(ctx, store, toolName, destHost)
	if err != nil {
		return err
	}
	if state.OpenUntil > clock.NowMillis() {
		return newFailure(CodeNetworkError, "circuit breaker open", 0, ErrCircuitOpen)
	}
	return nil
}

// circuitRecordSample trims the rolling window, appends the new sample,
// and opens the breaker (once, on transition) if the failure ratio within
// the window breaches the configured threshold (§4.11).
func circuitRecordSample(ctx context.Context, store StateStore, clock Clock, policy CircuitBreakerPolicy, toolName, destHost string, failed bool) (opened bool, err error) {
	state, err := loadCircuitState(ctx, store, toolName, destHost)
	if err != nil {
		return false, err
	}
	now := clock.NowMillis()
	cutoff := now - policy.WindowMs

	trimmed := state.Samples[:0:0]
	for _, s := range state.Samples {
		if s.Timestamp >= cutoff {
			trimmed = append(trimmed, s)
		}
	}
	trimmed = append(trimmed, circuitSample{Timestamp: now, Failed: failed})
	state.Samples = trimmed

	total := len(state.Samples)
	failedCount := 0
	for _, s := range state.Samples {
		if s.Failed {
			failedCount++
		}
	}

	wasOpen := state.OpenUntil > now
	if !wasOpen && total >= policy.MinRequests && float64(failedCount)/float64(total) >= policy.FailureRateThreshold {
		state.OpenUntil = now + policy.CooldownMs
		opened = true
	}

	return opened, store.Set(ctx, circuitStateKey(toolName, destHost), state)
}
