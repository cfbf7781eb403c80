package toolctl

import "context"

// Policy modes.
const (
	PolicyModeEnforce = "enforce"
	PolicyModeDryRun  = "dryRun"
)

// Policy rule actions, ranked by strictness deny(2) > require_approval(1) >
// allow(0) when the Policy Evaluator breaks specificity ties.
const (
	ActionAllow           = "allow"
	ActionDeny            = "deny"
	ActionRequireApproval = "require_approval"
)

func actionStrictness(action string) int {
	switch action {
	case ActionDeny:
		return 2
	case ActionRequireApproval:
		return 1
	default:
		return 0
	}
}

// RetryPolicy configures the exponential-backoff Retry Engine (§4.13).
//
// The zero RetryPolicy is unset and resolves to every default. Otherwise
// InitialDelayMs and JitterRatio treat a negative value as "unset, apply
// default" — zero is a legitimate explicit value for both (a seed scenario
// runs with initialDelayMs=0, jitterRatio=0 to make retries deterministic).
type RetryPolicy struct {
	MaxAttempts    int     // Default: 4
	InitialDelayMs int64   // Default: 250. Negative means unset.
	MaxDelayMs     int64   // Default: 10000
	BackoffFactor  float64 // Default: 2.0
	JitterRatio    float64 // Default: 0.2. Negative means unset.
}

func (r RetryPolicy) resolve() RetryPolicy {
	if r == (RetryPolicy{}) {
		r.InitialDelayMs = -1
		r.JitterRatio = -1
	}
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 4
	}
	if r.InitialDelayMs < 0 {
		r.InitialDelayMs = 250
	}
	if r.MaxDelayMs <= 0 {
		r.MaxDelayMs = 10_000
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2.0
	}
	if r.JitterRatio < 0 {
		r.JitterRatio = 0.2
	}
	return r
}

// LoopBreakerPolicy configures fingerprint-streak tracking (§4.10).
// Thresholds are strictly ordered: warning <= quarantine <= stop.
type LoopBreakerPolicy struct {
	WarningThreshold    int   // Default: 5
	QuarantineThreshold int   // Default: 8
	StopThreshold       int   // Default: 12
	QuarantineMs        int64 // Default: 15000
	StopCooldownMs      int64 // Default: 120000
	MaxFingerprints     int   // Default: 200. Floored at 20.
}

func (l LoopBreakerPolicy) resolve() LoopBreakerPolicy {
	if l.WarningThreshold <= 0 {
		l.WarningThreshold = 5
	}
	if l.QuarantineThreshold <= 0 {
		l.QuarantineThreshold = 8
	}
	if l.StopThreshold <= 0 {
		l.StopThreshold = 12
	}
	if l.QuarantineThreshold < l.WarningThreshold {
		l.QuarantineThreshold = l.WarningThreshold
	}
	if l.StopThreshold < l.QuarantineThreshold {
		l.StopThreshold = l.QuarantineThreshold
	}
	if l.QuarantineMs <= 0 {
		l.QuarantineMs = 15_000
	}
	if l.StopCooldownMs <= 0 {
		l.StopCooldownMs = 120_000
	}
	if l.MaxFingerprints <= 0 {
		l.MaxFingerprints = 200
	}
	if l.MaxFingerprints < 20 {
		l.MaxFingerprints = 20
	}
	return l
}

// CircuitBreakerPolicy configures rolling-window failure tracking (§4.11).
type CircuitBreakerPolicy struct {
	WindowMs              int64   // Default: 30000
	MinRequests           int     // Default: 20
	FailureRateThreshold  float64 // Default: 0.6
	CooldownMs            int64   // Default: 60000
}

func (c CircuitBreakerPolicy) resolve() CircuitBreakerPolicy {
	if c.WindowMs <= 0 {
		c.WindowMs = 30_000
	}
	if c.MinRequests <= 0 {
		c.MinRequests = 20
	}
	if c.FailureRateThreshold <= 0 {
		c.FailureRateThreshold = 0.6
	}
	if c.CooldownMs <= 0 {
		c.CooldownMs = 60_000
	}
	return c
}

// IdempotencyPolicy configures replay semantics (§4.8). NamespaceByRunKey
// defaults true: idempotency keys are scoped per run unless the caller
// opts into a global namespace.
type IdempotencyPolicy struct {
	Enabled           bool
	TTLMs             int64 // Default: 300000 (5 minutes)
	NamespaceByRunKey *bool // nil means default true
	IncludeErrors     bool
}

func (i IdempotencyPolicy) resolve() IdempotencyPolicy {
	if i.TTLMs <= 0 {
		i.TTLMs = 300_000
	}
	if i.NamespaceByRunKey == nil {
		t := true
		i.NamespaceByRunKey = &t
	}
	return i
}

func (i IdempotencyPolicy) namespaceByRunKey() bool {
	return i.NamespaceByRunKey == nil || *i.NamespaceByRunKey
}

// Concurrency wait modes.
const (
	WaitModeReject = "reject"
	WaitModeWait   = "wait"
)

// ConcurrencyPolicy configures the Lock Manager (§4.12).
type ConcurrencyPolicy struct {
	LeaseMs       int64  // Default: 30000
	WaitMode      string // "reject" (default) | "wait"
	WaitTimeoutMs int64  // Default: 5000
	PollIntervalMs int64 // Default: 50
}

func (c ConcurrencyPolicy) resolve() ConcurrencyPolicy {
	if c.LeaseMs <= 0 {
		c.LeaseMs = 30_000
	}
	if c.WaitMode != WaitModeWait {
		c.WaitMode = WaitModeReject
	}
	if c.WaitTimeoutMs <= 0 {
		c.WaitTimeoutMs = 5_000
	}
	if c.PollIntervalMs <= 0 {
		c.PollIntervalMs = 50
	}
	return c
}

// PolicyRule is one entry in the Policy Evaluator's rule list (§4.6, §3).
type PolicyRule struct {
	ID             string
	Action         string // allow | deny | require_approval
	Tools          []string
	Destinations   []string
	ActionPrefixes []string
	Reason         string
}

// ApprovalHandler is invoked for a require_approval rule. Returning
// (false, nil) denies the call; a non-nil error is treated as a denial
// too (the call fails closed).
type ApprovalHandler func(ctx context.Context, rule PolicyRule, call CallContext) (bool, error)

// PolicyConfig bundles the rule list, mode, and approval handler.
type PolicyConfig struct {
	Rules           []PolicyRule
	Mode            string // enforce (default) | dryRun
	ApprovalHandler ApprovalHandler
}

func (p PolicyConfig) resolve() PolicyConfig {
	if p.Mode != PolicyModeDryRun {
		p.Mode = PolicyModeEnforce
	}
	return p
}

// VerifyPhase identifies which of the three verifier hooks ran.
type VerifyPhase string

const (
	PhaseBeforeCall    VerifyPhase = "before_call"
	PhaseAfterSuccess  VerifyPhase = "after_success"
	PhaseAfterError    VerifyPhase = "after_error"
)

// VerifierDecision is returned by a VerifierFunc. Allow=false rejects the
// call; Reason is surfaced in the resulting Failure and verifier_rejected
// event.
type VerifierDecision struct {
	Allow  bool
	Reason string
}

// VerifierFunc implements one hook of the Verifier Chain (§4.7). For the
// after-error phase, returning a non-nil error substitutes that error for
// the original failure, and a rejection substitutes an INVALID_REQUEST
// failure carrying the decision's Reason.
type VerifierFunc func(ctx context.Context, phase VerifyPhase, vctx VerifyContext) (VerifierDecision, error)

// VerifyContext is what a VerifierFunc receives: the call context plus
// phase-specific detail (Result for after_success, Err for after_error).
type VerifyContext struct {
	Call   CallContext
	Result any
	Err    error
}

// Verifiers bundles the before-call/after-success/after-error hooks.
type Verifiers struct {
	BeforeCall   VerifierFunc
	AfterSuccess VerifierFunc
	AfterError   VerifierFunc
}

// Override refines timeout/retry/loop-breaker/circuit-breaker knobs for a
// specific tool or destination; unset fields inherit the global Config.
type Override struct {
	TimeoutMs   int64 // 0 means "not overridden"
	Retry       *RetryPolicy
	LoopBreaker *LoopBreakerPolicy
	Circuit     *CircuitBreakerPolicy
}

// Overrides holds the per-tool and per-destination override maps keyed by
// pattern (see match.go for the wildcard grammar each map's keys use).
type Overrides struct {
	ByTool        map[string]Override
	ByDestination map[string]Override
}

// RetryClassifierInput is passed to a RetryClassifier for each failed
// attempt.
type RetryClassifierInput struct {
	Failure           *Failure
	RawError          error
	StatusCode        int
	CancelledByCaller bool
	Attempt           int
	MaxAttempts       int
	ToolName          string
	Destination       string
	Action            string
}

// RetryDecision is returned by a RetryClassifier. DelayMs < 0 means "use
// the default backoff calculation".
type RetryDecision struct {
	Retryable bool
	Reason    string
	DelayMs   int64
}

// RetryClassifier overrides the default retryability decision. Returning
// nil falls back to the default decision, matching the original source's
// "invalid classifier return" fallback semantics.
type RetryClassifier func(input RetryClassifierInput) *RetryDecision

// Config is the top-level, immutable-after-resolution configuration for a
// Controller. The zero value is valid and resolves to the documented
// defaults on every numeric knob.
type Config struct {
	TenantKey string // Default: "default"
	// TimeoutMs is the per-call execution deadline. nil means unset
	// (defaults to 60000); a non-nil *0 is a legitimate explicit value
	// meaning "no timeout" — the call runs until it completes, is
	// cancelled by the caller's Signal, or is stopped by some other gate.
	// This mirrors the original's _create_run_signal, which only schedules
	// a timeout when timeout_ms > 0; see NoTimeout / TimeoutOf.
	TimeoutMs    *int64
	MaxToolCalls int // 0 means unlimited.

	Retry       RetryPolicy
	LoopBreaker LoopBreakerPolicy
	Circuit     CircuitBreakerPolicy
	Idempotency IdempotencyPolicy
	Concurrency ConcurrencyPolicy
	Policy      PolicyConfig
	Verifiers   Verifiers
	Overrides   Overrides

	StateStore StateStore
	Clock      Clock
	Random     Random

	OnEvent            OnEventFunc
	EventSinks         []EventSink
	OnEventSinkFailure OnEventSinkFailureFunc

	RetryClassifier RetryClassifier
}

// resolvedConfig is Config after defaulting/clamping, plus the derived
// tenant-scoped state store and event bus. Unexported: callers only ever
// see Config; resolution happens once inside NewController.
type resolvedConfig struct {
	tenantKey string
	timeoutMs int64 // 0 means no timeout; see Config.TimeoutMs.
	maxToolCalls int

	retry       RetryPolicy
	loopBreaker LoopBreakerPolicy
	circuit     CircuitBreakerPolicy
	idempotency IdempotencyPolicy
	concurrency ConcurrencyPolicy
	policy      PolicyConfig
	verifiers   Verifiers
	overrides   Overrides

	clock  Clock
	random Random

	retryClassifier RetryClassifier
}

// TimeoutOf returns a *int64 for Config.TimeoutMs, for callers that want an
// explicit value without declaring a local variable to take its address.
func TimeoutOf(ms int64) *int64 { return &ms }

// NoTimeout is Config.TimeoutMs's explicit "run until complete" value,
// distinct from the nil zero value (which defaults to 60000ms).
func NoTimeout() *int64 { return TimeoutOf(0) }

func (c Config) resolve() *resolvedConfig {
	tenant := c.TenantKey
	if tenant == "" {
		tenant = "default"
	}
	timeout := int64(60_000)
	if c.TimeoutMs != nil {
		timeout = *c.TimeoutMs
		if timeout < 0 {
			timeout = 60_000
		}
	}

	clock := c.Clock
	if clock == nil {
		clock = SystemClock
	}
	random := c.Random
	if random == nil {
		random = SystemRandom
	}

	return &resolvedConfig{
		tenantKey:       tenant,
		timeoutMs:       timeout,
		maxToolCalls:    c.MaxToolCalls,
		retry:           c.Retry.resolve(),
		loopBreaker:     c.LoopBreaker.resolve(),
		circuit:         c.Circuit.resolve(),
		idempotency:     c.Idempotency.resolve(),
		concurrency:     c.Concurrency.resolve(),
		policy:          c.Policy.resolve(),
		verifiers:       c.Verifiers,
		overrides:       c.Overrides,
		clock:           clock,
		random:          random,
		retryClassifier: c.RetryClassifier,
	}
}

// effectiveConfig is what one run() invocation actually uses after applying
// per-call overrides on top of the resolved global config (§4.5): the
// destination override is applied first, then the tool override, so tool
// overrides win on conflicting fields.
type effectiveConfig struct {
	timeoutMs   int64
	retry       RetryPolicy
	loopBreaker LoopBreakerPolicy
	circuit     CircuitBreakerPolicy
}

func (rc *resolvedConfig) effectiveFor(toolName, destinationHost string) effectiveConfig {
	eff := effectiveConfig{
		timeoutMs:   rc.timeoutMs,
		retry:       rc.retry,
		loopBreaker: rc.loopBreaker,
		circuit:     rc.circuit,
	}

	applyOverride := func(ov Override) {
		if ov.TimeoutMs > 0 {
			eff.timeoutMs = ov.TimeoutMs
		}
		if ov.Retry != nil {
			eff.retry = ov.Retry.resolve()
		}
		if ov.LoopBreaker != nil {
			eff.loopBreaker = ov.LoopBreaker.resolve()
		}
		if ov.Circuit != nil {
			eff.circuit = ov.Circuit.resolve()
		}
	}

	if ov, ok := bestMatchingOverride(rc.overrides.ByDestination, destinationHost, matchDestPattern, destPatternSpecificity); ok {
		applyOverride(ov)
	}
	if ov, ok := bestMatchingOverride(rc.overrides.ByTool, toolName, matchToolPattern, toolPatternSpecificity); ok {
		applyOverride(ov)
	}

	return eff
}

// bestMatchingOverride finds the highest-specificity pattern in overrides
// that matches value.
func bestMatchingOverride(
	overrides map[string]Override,
	value string,
	match func(pattern, value string) bool,
	specificity func(pattern string) int,
) (Override, bool) {
	var (
		best     Override
		bestSpec = -1
		found    bool
	)
	for pattern, ov := range overrides {
		if !match(pattern, value) {
			continue
		}
		s := specificity(pattern)
		if s > bestSpec {
			bestSpec = s
			best = ov
			found = true
		}
	}
	return best, found
}
