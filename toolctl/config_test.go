package toolctl

import "testing"

func TestConfig_ZeroValueResolvesToDocumentedDefaults(t *testing.T) {
	resolved := Config{}.resolve()

	if resolved.tenantKey != "default" {
		t.Errorf("tenantKey = %q, want %q", resolved.tenantKey, "default")
	}
	if resolved.timeoutMs != 60_000 {
		t.Errorf("timeoutMs = %d, want 60000", resolved.timeoutMs)
	}
	if resolved.retry.MaxAttempts != 4 {
		t.Errorf("retry.MaxAttempts = %d, want 4", resolved.retry.MaxAttempts)
	}
	if resolved.retry.InitialDelayMs != 250 {
		t.Errorf("retry.InitialDelayMs = %d, want 250", resolved.retry.InitialDelayMs)
	}
	if resolved.loopBreaker.WarningThreshold != 5 || resolved.loopBreaker.QuarantineThreshold != 8 || resolved.loopBreaker.StopThreshold != 12 {
		t.Errorf("loopBreaker thresholds = %+v, want 5/8/12", resolved.loopBreaker)
	}
	if resolved.circuit.MinRequests != 20 || resolved.circuit.FailureRateThreshold != 0.6 {
		t.Errorf("circuit defaults = %+v, want MinRequests=20, FailureRateThreshold=0.6", resolved.circuit)
	}
	if resolved.idempotency.TTLMs != 300_000 {
		t.Errorf("idempotency.TTLMs = %d, want 300000", resolved.idempotency.TTLMs)
	}
	if !resolved.idempotency.namespaceByRunKey() {
		t.Errorf("idempotency.namespaceByRunKey() = false, want true by default")
	}
	if resolved.concurrency.WaitMode != WaitModeReject {
		t.Errorf("concurrency.WaitMode = %q, want %q", resolved.concurrency.WaitMode, WaitModeReject)
	}
	if resolved.policy.Mode != PolicyModeEnforce {
		t.Errorf("policy.Mode = %q, want %q", resolved.policy.Mode, PolicyModeEnforce)
	}
}

func TestRetryPolicy_ZeroIsALegitimateExplicitValue(t *testing.T) {
	// initialDelayMs=0 and jitterRatio=0 are explicit, not "unset" — only
	// negative values fall back to the default (seed scenario S1 relies on
	// this to make retries deterministic).
	resolved := RetryPolicy{MaxAttempts: 3, InitialDelayMs: 0, JitterRatio: 0}.resolve()
	if resolved.InitialDelayMs != 0 {
		t.Errorf("InitialDelayMs = %d, want 0 preserved", resolved.InitialDelayMs)
	}
	if resolved.JitterRatio != 0 {
		t.Errorf("JitterRatio = %v, want 0 preserved", resolved.JitterRatio)
	}
}

func TestRetryPolicy_NegativeMeansUnset(t *testing.T) {
	resolved := RetryPolicy{MaxAttempts: 3, InitialDelayMs: -1, JitterRatio: -1}.resolve()
	if resolved.InitialDelayMs != 250 {
		t.Errorf("InitialDelayMs = %d, want default 250 for a negative input", resolved.InitialDelayMs)
	}
	if resolved.JitterRatio != 0.2 {
		t.Errorf("JitterRatio = %v, want default 0.2 for a negative input", resolved.JitterRatio)
	}
}

func TestLoopBreakerPolicy_ThresholdsClampIntoOrder(t *testing.T) {
	resolved := LoopBreakerPolicy{WarningThreshold: 10, QuarantineThreshold: 5, StopThreshold: 1}.resolve()
	if resolved.QuarantineThreshold < resolved.WarningThreshold {
		t.Errorf("QuarantineThreshold %d < WarningThreshold %d", resolved.QuarantineThreshold, resolved.WarningThreshold)
	}
	if resolved.StopThreshold < resolved.QuarantineThreshold {
		t.Errorf("StopThreshold %d < QuarantineThreshold %d", resolved.StopThreshold, resolved.QuarantineThreshold)
	}
}

func TestLoopBreakerPolicy_MaxFingerprintsFloor(t *testing.T) {
	resolved := LoopBreakerPolicy{MaxFingerprints: 5}.resolve()
	if resolved.MaxFingerprints != 20 {
		t.Errorf("MaxFingerprints = %d, want floored to 20", resolved.MaxFingerprints)
	}
}

func TestConfig_TimeoutMsNilDefaultsToSixtySeconds(t *testing.T) {
	resolved := Config{TimeoutMs: nil}.resolve()
	if resolved.timeoutMs != 60_000 {
		t.Errorf("timeoutMs = %d, want 60000 for an unset (nil) TimeoutMs", resolved.timeoutMs)
	}
}

func TestConfig_TimeoutMsExplicitZeroMeansNoTimeout(t *testing.T) {
	resolved := Config{TimeoutMs: NoTimeout()}.resolve()
	if resolved.timeoutMs != 0 {
		t.Errorf("timeoutMs = %d, want 0 (no timeout) for an explicit zero", resolved.timeoutMs)
	}
}

func TestConfig_TimeoutMsNegativeIsTreatedAsUnset(t *testing.T) {
	resolved := Config{TimeoutMs: TimeoutOf(-5)}.resolve()
	if resolved.timeoutMs != 60_000 {
		t.Errorf("timeoutMs = %d, want 60000 for a negative TimeoutMs", resolved.timeoutMs)
	}
}

func TestEffectiveFor_ToolOverrideWinsOverDestinationOverride(t *testing.T) {
	resolved := Config{
		TimeoutMs: TimeoutOf(1000),
		Overrides: Overrides{
			ByDestination: map[string]Override{"*": {TimeoutMs: 2000}},
			ByTool:        map[string]Override{"http*": {TimeoutMs: 3000}},
		},
	}.resolve()

	eff := resolved.effectiveFor("http.get", "anyhost")
	if eff.timeoutMs != 3000 {
		t.Errorf("effectiveFor().timeoutMs = %d, want 3000 (tool override applied last, wins on conflict)", eff.timeoutMs)
	}
}

func TestEffectiveFor_NoMatchingOverrideUsesGlobal(t *testing.T) {
	resolved := Config{
		TimeoutMs: TimeoutOf(1000),
		Overrides: Overrides{ByTool: map[string]Override{"ftp*": {TimeoutMs: 3000}}},
	}.resolve()

	eff := resolved.effectiveFor("http.get", "anyhost")
	if eff.timeoutMs != 1000 {
		t.Errorf("effectiveFor().timeoutMs = %d, want global default 1000", eff.timeoutMs)
	}
}
