package toolctl

import "testing"

func TestLoadConfigYAML_ParsesFullDocument(t *testing.T) {
	doc := []byte(`
tenantKey: acme
timeoutMs: 5000
maxToolCalls: 100

retry:
  maxAttempts: 5
  initialDelayMs: 100
  maxDelayMs: 2000
  backoffFactor: 2.0
  jitterRatio: 0.1

loopBreaker:
  warningThreshold: 3
  quarantineThreshold: 5
  stopThreshold: 8
  quarantineMs: 60000
  stopCooldownMs: 120000
  maxFingerprints: 50

circuit:
  windowMs: 30000
  minRequests: 10
  failureRateThreshold: 0.5
  cooldownMs: 20000

idempotency:
  enabled: true
  ttlMs: 600000
  includeErrors: false

concurrency:
  leaseMs: 15000
  waitMode: wait
  waitTimeoutMs: 5000
  pollIntervalMs: 100

policy:
  mode: dryRun
  rules:
    - id: deny-delete
      action: deny
      tools: ["*"]
      actionPrefixes: ["delete"]
      reason: "destructive action"
    - id: allow-all
      action: allow
      tools: ["*"]

overrides:
  byTool:
    db.write:
      timeoutMs: 2000
      retry:
        maxAttempts: 1
  byDestination:
    "*.acme.local":
      timeoutMs: 1000
`)

	cfg, err := LoadConfigYAML(doc)
	if err != nil {
		t.Fatalf("LoadConfigYAML() error = %v", err)
	}

	if cfg.TenantKey != "acme" {
		t.Errorf("TenantKey = %q, want acme", cfg.TenantKey)
	}
	if cfg.TimeoutMs == nil || *cfg.TimeoutMs != 5000 {
		t.Errorf("TimeoutMs = %v, want a pointer to 5000", cfg.TimeoutMs)
	}
	if cfg.MaxToolCalls != 100 {
		t.Errorf("MaxToolCalls = %d, want 100", cfg.MaxToolCalls)
	}

	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.InitialDelayMs != 100 || cfg.Retry.MaxDelayMs != 2000 ||
		cfg.Retry.BackoffFactor != 2.0 || cfg.Retry.JitterRatio != 0.1 {
		t.Errorf("Retry = %+v, not as expected", cfg.Retry)
	}

	if cfg.LoopBreaker.WarningThreshold != 3 || cfg.LoopBreaker.QuarantineThreshold != 5 ||
		cfg.LoopBreaker.StopThreshold != 8 || cfg.LoopBreaker.QuarantineMs != 60000 ||
		cfg.LoopBreaker.StopCooldownMs != 120000 || cfg.LoopBreaker.MaxFingerprints != 50 {
		t.Errorf("LoopBreaker = %+v, not as expected", cfg.LoopBreaker)
	}

	if cfg.Circuit.WindowMs != 30000 || cfg.Circuit.MinRequests != 10 ||
		cfg.Circuit.FailureRateThreshold != 0.5 || cfg.Circuit.CooldownMs != 20000 {
		t.Errorf("Circuit = %+v, not as expected", cfg.Circuit)
	}

	if !cfg.Idempotency.Enabled || cfg.Idempotency.TTLMs != 600000 || cfg.Idempotency.IncludeErrors {
		t.Errorf("Idempotency = %+v, not as expected", cfg.Idempotency)
	}

	if cfg.Concurrency.LeaseMs != 15000 || cfg.Concurrency.WaitMode != "wait" ||
		cfg.Concurrency.WaitTimeoutMs != 5000 || cfg.Concurrency.PollIntervalMs != 100 {
		t.Errorf("Concurrency = %+v, not as expected", cfg.Concurrency)
	}

	if cfg.Policy.Mode != PolicyModeDryRun {
		t.Errorf("Policy.Mode = %q, want %q", cfg.Policy.Mode, PolicyModeDryRun)
	}
	if len(cfg.Policy.Rules) != 2 {
		t.Fatalf("Policy.Rules = %d entries, want 2", len(cfg.Policy.Rules))
	}
	if cfg.Policy.Rules[0].ID != "deny-delete" || cfg.Policy.Rules[0].Action != ActionDeny ||
		cfg.Policy.Rules[0].ActionPrefixes[0] != "delete" || cfg.Policy.Rules[0].Reason != "destructive action" {
		t.Errorf("Policy.Rules[0] = %+v, not as expected", cfg.Policy.Rules[0])
	}
	if cfg.Policy.Rules[1].ID != "allow-all" || cfg.Policy.Rules[1].Action != ActionAllow {
		t.Errorf("Policy.Rules[1] = %+v, not as expected", cfg.Policy.Rules[1])
	}

	toolOv, ok := cfg.Overrides.ByTool["db.write"]
	if !ok {
		t.Fatalf("Overrides.ByTool missing %q", "db.write")
	}
	if toolOv.TimeoutMs != 2000 || toolOv.Retry == nil || toolOv.Retry.MaxAttempts != 1 {
		t.Errorf("Overrides.ByTool[db.write] = %+v, not as expected", toolOv)
	}

	destOv, ok := cfg.Overrides.ByDestination["*.acme.local"]
	if !ok {
		t.Fatalf("Overrides.ByDestination missing %q", "*.acme.local")
	}
	if destOv.TimeoutMs != 1000 {
		t.Errorf("Overrides.ByDestination[*.acme.local].TimeoutMs = %d, want 1000", destOv.TimeoutMs)
	}
}

func TestLoadConfigYAML_EmptyDocumentYieldsZeroValueConfig(t *testing.T) {
	cfg, err := LoadConfigYAML([]byte(``))
	if err != nil {
		t.Fatalf("LoadConfigYAML() error = %v", err)
	}
	if cfg.TenantKey != "" || cfg.TimeoutMs != nil || cfg.MaxToolCalls != 0 {
		t.Errorf("cfg = %+v, want zero-value top-level fields for an empty document", cfg)
	}
	if len(cfg.Policy.Rules) != 0 {
		t.Errorf("Policy.Rules = %+v, want empty", cfg.Policy.Rules)
	}
	if cfg.Overrides.ByTool != nil || cfg.Overrides.ByDestination != nil {
		t.Errorf("Overrides = %+v, want nil maps when absent", cfg.Overrides)
	}

	resolved := cfg.resolve()
	if resolved.timeoutMs != 60000 {
		t.Errorf("resolved default TimeoutMs = %d, want 60000 after resolve()", resolved.timeoutMs)
	}
}

func TestLoadConfigYAML_ExplicitZeroTimeoutMeansNoTimeout(t *testing.T) {
	cfg, err := LoadConfigYAML([]byte("timeoutMs: 0\n"))
	if err != nil {
		t.Fatalf("LoadConfigYAML() error = %v", err)
	}
	if cfg.TimeoutMs == nil || *cfg.TimeoutMs != 0 {
		t.Fatalf("TimeoutMs = %v, want a non-nil pointer to 0 for an explicit timeoutMs: 0", cfg.TimeoutMs)
	}
	if resolved := cfg.resolve(); resolved.timeoutMs != 0 {
		t.Errorf("resolved timeoutMs = %d, want 0 (no timeout) for an explicit zero in YAML", resolved.timeoutMs)
	}
}

func TestLoadConfigYAML_InvalidYAMLReturnsError(t *testing.T) {
	_, err := LoadConfigYAML([]byte("tenantKey: [this is not: valid"))
	if err == nil {
		t.Fatal("LoadConfigYAML() error = nil, want a parse error for malformed YAML")
	}
}
