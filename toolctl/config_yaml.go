package toolctl

import "gopkg.in/yaml.v3"

// yamlRetryPolicy, yamlLoopBreakerPolicy, ... mirror the policy structs but
// with yaml tags; Config itself carries function and interface fields
// (StateStore, Clock, Verifiers, ApprovalHandler, ...) that have no YAML
// representation, so LoadConfigYAML only ever populates the declarative
// subset of Config a caller plausibly wants to check into a config file.
type yamlRetryPolicy struct {
	MaxAttempts    int     `yaml:"maxAttempts"`
	InitialDelayMs int64   `yaml:"initialDelayMs"`
	MaxDelayMs     int64   `yaml:"maxDelayMs"`
	BackoffFactor  float64 `yaml:"backoffFactor"`
	JitterRatio    float64 `yaml:"jitterRatio"`
}

func (y yamlRetryPolicy) toPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    y.MaxAttempts,
		InitialDelayMs: y.InitialDelayMs,
		MaxDelayMs:     y.MaxDelayMs,
		BackoffFactor:  y.BackoffFactor,
		JitterRatio:    y.JitterRatio,
	}
}

type yamlLoopBreakerPolicy struct {
	WarningThreshold    int   `yaml:"warningThreshold"`
	QuarantineThreshold int   `yaml:"quarantineThreshold"`
	StopThreshold       int   `yaml:"stopThreshold"`
	QuarantineMs        int64 `yaml:"quarantineMs"`
	StopCooldownMs      int64 `yaml:"stopCooldownMs"`
	MaxFingerprints     int   `yaml:"maxFingerprints"`
}

func (y yamlLoopBreakerPolicy) toPolicy() LoopBreakerPolicy {
	return LoopBreakerPolicy{
		WarningThreshold:    y.WarningThreshold,
		QuarantineThreshold: y.QuarantineThreshold,
		StopThreshold:       y.StopThreshold,
		QuarantineMs:        y.QuarantineMs,
		StopCooldownMs:      y.StopCooldownMs,
		MaxFingerprints:     y.MaxFingerprints,
	}
}

type yamlCircuitBreakerPolicy struct {
	WindowMs             int64   `yaml:"windowMs"`
	MinRequests          int     `yaml:"minRequests"`
	FailureRateThreshold float64 `yaml:"failureRateThreshold"`
	CooldownMs           int64   `yaml:"cooldownMs"`
}

func (y yamlCircuitBreakerPolicy) toPolicy() CircuitBreakerPolicy {
	return CircuitBreakerPolicy{
		WindowMs:             y.WindowMs,
		MinRequests:          y.MinRequests,
		FailureRateThreshold: y.FailureRateThreshold,
		CooldownMs:           y.CooldownMs,
	}
}

type yamlIdempotencyPolicy struct {
	Enabled           bool  `yaml:"enabled"`
	TTLMs             int64 `yaml:"ttlMs"`
	NamespaceByRunKey *bool `yaml:"namespaceByRunKey"`
	IncludeErrors     bool  `yaml:"includeErrors"`
}

func (y yamlIdempotencyPolicy) toPolicy() IdempotencyPolicy {
	return IdempotencyPolicy{
		Enabled:           y.Enabled,
		TTLMs:             y.TTLMs,
		NamespaceByRunKey: y.NamespaceByRunKey,
		IncludeErrors:     y.IncludeErrors,
	}
}

type yamlConcurrencyPolicy struct {
	LeaseMs        int64  `yaml:"leaseMs"`
	WaitMode       string `yaml:"waitMode"`
	WaitTimeoutMs  int64  `yaml:"waitTimeoutMs"`
	PollIntervalMs int64  `yaml:"pollIntervalMs"`
}

func (y yamlConcurrencyPolicy) toPolicy() ConcurrencyPolicy {
	return ConcurrencyPolicy{
		LeaseMs:        y.LeaseMs,
		WaitMode:       y.WaitMode,
		WaitTimeoutMs:  y.WaitTimeoutMs,
		PollIntervalMs: y.PollIntervalMs,
	}
}

type yamlPolicyRule struct {
	ID             string   `yaml:"id"`
	Action         string   `yaml:"action"`
	Tools          []string `yaml:"tools"`
	Destinations   []string `yaml:"destinations"`
	ActionPrefixes []string `yaml:"actionPrefixes"`
	Reason         string   `yaml:"reason"`
}

type yamlPolicyConfig struct {
	Mode  string           `yaml:"mode"`
	Rules []yamlPolicyRule `yaml:"rules"`
}

type yamlOverride struct {
	TimeoutMs   int64                     `yaml:"timeoutMs"`
	Retry       *yamlRetryPolicy          `yaml:"retry"`
	LoopBreaker *yamlLoopBreakerPolicy    `yaml:"loopBreaker"`
	Circuit     *yamlCircuitBreakerPolicy `yaml:"circuit"`
}

func (y yamlOverride) toOverride() Override {
	ov := Override{TimeoutMs: y.TimeoutMs}
	if y.Retry != nil {
		r := y.Retry.toPolicy()
		ov.Retry = &r
	}
	if y.LoopBreaker != nil {
		l := y.LoopBreaker.toPolicy()
		ov.LoopBreaker = &l
	}
	if y.Circuit != nil {
		c := y.Circuit.toPolicy()
		ov.Circuit = &c
	}
	return ov
}

type yamlOverrides struct {
	ByTool        map[string]yamlOverride `yaml:"byTool"`
	ByDestination map[string]yamlOverride `yaml:"byDestination"`
}

// yamlConfig is the on-disk shape LoadConfigYAML parses. Every field is
// optional; absent sections leave the corresponding Config field at its
// zero value, which resolve() then defaults the normal way.
type yamlConfig struct {
	TenantKey string `yaml:"tenantKey"`
	// TimeoutMs is a pointer so yaml.Unmarshal only sets it when the key is
	// actually present in the document, preserving the nil-means-unset vs.
	// explicit-zero-means-no-timeout distinction Config.TimeoutMs makes.
	TimeoutMs    *int64 `yaml:"timeoutMs"`
	MaxToolCalls int    `yaml:"maxToolCalls"`

	Retry       yamlRetryPolicy          `yaml:"retry"`
	LoopBreaker yamlLoopBreakerPolicy    `yaml:"loopBreaker"`
	Circuit     yamlCircuitBreakerPolicy `yaml:"circuit"`
	Idempotency yamlIdempotencyPolicy    `yaml:"idempotency"`
	Concurrency yamlConcurrencyPolicy    `yaml:"concurrency"`
	Policy      yamlPolicyConfig         `yaml:"policy"`
	Overrides   yamlOverrides            `yaml:"overrides"`
}

// LoadConfigYAML parses a YAML document into a Config. Only the
// declarative subset of Config — tenant key, timeout/budget knobs, the
// five policy structs, policy rules, and overrides — has a YAML
// representation; callers still set StateStore, Clock, Verifiers,
// ApprovalHandler, and event sinks (for example NewObserveEventSink) on the
// returned Config directly in code rather than in the parsed file.
func LoadConfigYAML(data []byte) (Config, error) {
	var parsed yamlConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return Config{}, err
	}

	rules := make([]PolicyRule, 0, len(parsed.Policy.Rules))
	for _, r := range parsed.Policy.Rules {
		rules = append(rules, PolicyRule{
			ID:             r.ID,
			Action:         r.Action,
			Tools:          r.Tools,
			Destinations:   r.Destinations,
			ActionPrefixes: r.ActionPrefixes,
			Reason:         r.Reason,
		})
	}

	overrides := Overrides{}
	if len(parsed.Overrides.ByTool) > 0 {
		overrides.ByTool = make(map[string]Override, len(parsed.Overrides.ByTool))
		for pattern, ov := range parsed.Overrides.ByTool {
			overrides.ByTool[pattern] = ov.toOverride()
		}
	}
	if len(parsed.Overrides.ByDestination) > 0 {
		overrides.ByDestination = make(map[string]Override, len(parsed.Overrides.ByDestination))
		for pattern, ov := range parsed.Overrides.ByDestination {
			overrides.ByDestination[pattern] = ov.toOverride()
		}
	}

	return Config{
		TenantKey:    parsed.TenantKey,
		TimeoutMs:    parsed.TimeoutMs,
		MaxToolCalls: parsed.MaxToolCalls,
		Retry:        parsed.Retry.toPolicy(),
		LoopBreaker:  parsed.LoopBreaker.toPolicy(),
		Circuit:      parsed.Circuit.toPolicy(),
		Idempotency:  parsed.Idempotency.toPolicy(),
		Concurrency:  parsed.Concurrency.toPolicy(),
		Policy: PolicyConfig{
			Mode:  parsed.Policy.Mode,
			Rules: rules,
		},
		Overrides: overrides,
	}, nil
}
