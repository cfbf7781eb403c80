package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/jonwraymond/toolctl/toolctl"
)

// defaultInjectionPatterns mirrors the original implementation's default
// regex set: common prompt-injection and shell-escape phrasings.
var defaultInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bignore\s+(all|any|previous)\s+instructions\b`),
	regexp.MustCompile(`(?i)\bsystem\s+prompt\b`),
	regexp.MustCompile(`(?i)\bdeveloper\s+message\b`),
	regexp.MustCompile(`(?i)<script\b`),
	regexp.MustCompile(`(?i)\brm\s+-rf\b`),
}

// InjectionGuardConfig configures the before-call injection scan.
type InjectionGuardConfig struct {
	Enabled bool
	// Patterns, if non-empty, replace the defaults. Each entry is compiled
	// case-insensitively.
	Patterns []string
	Reason   string // Default: "Potential prompt/tool injection pattern detected"
}

// TerminalAction names a (tool pattern, action prefix) pair whose match
// marks a run's exit condition as reached.
type TerminalAction struct {
	ToolNamePattern string // Default: "*"
	ActionPrefix    string
}

// ExitConditionConfig bounds how many tool calls a run may make before its
// terminal action must have fired.
type ExitConditionConfig struct {
	Enabled            bool
	MaxStepsPerRun     int // Default: 30
	BlockAfterTerminal bool
	TerminalActions    []TerminalAction
	// StateStore holds per-run-key exit state. A nil StateStore defaults to
	// an in-process map, matching the original implementation's in-memory
	// fallback when no external adapter is supplied.
	StateStore toolctl.StateStore
}

// IntentAllowlistRule compiles into one "allow" policy rule.
type IntentAllowlistRule struct {
	ID              string // Default: "agent_logic_allow_<n>"
	ToolNamePattern string // required
	ActionPrefixes  []string
	Destinations    []string
	Reason          string
}

// IntentAllowlistConfig, when enabled with at least one rule, compiles into
// one allow rule per entry followed by a catch-all deny, prepended ahead of
// the base policy's own rules.
type IntentAllowlistConfig struct {
	Enabled    bool
	Rules      []IntentAllowlistRule
	DenyReason string // Default: "Tool call is not in the configured intent allowlist"
}

// Config bundles the three safety layers Apply composes onto a base Config.
type Config struct {
	InjectionGuard  InjectionGuardConfig
	ExitCondition   ExitConditionConfig
	IntentAllowlist IntentAllowlistConfig
}

// exitState is the persisted per-run-key record (state key
// "agent_logic_exit:<runKey>").
type exitState struct {
	Steps           int  `json:"steps"`
	TerminalReached bool `json:"terminalReached"`
}

func normalizeRunKey(runKey string) string {
	trimmed := strings.TrimSpace(runKey)
	if trimmed == "" {
		return "default"
	}
	return trimmed
}

// matchPattern reports whether pattern ("*", "prefix*", or exact) matches
// value, mirroring the tool-pattern grammar used throughout toolctl.
func matchPattern(pattern, value string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(value, strings.TrimSuffix(pattern, "*"))
	default:
		return pattern == value
	}
}

func matchesTerminalAction(call toolctl.CallContext, actions []TerminalAction) bool {
	if len(actions) == 0 || call.Action == "" {
		return false
	}
	for _, a := range actions {
		pattern := a.ToolNamePattern
		if pattern == "" {
			pattern = "*"
		}
		if !matchPattern(pattern, call.ToolName) {
			continue
		}
		if a.ActionPrefix != "" && strings.HasPrefix(call.Action, a.ActionPrefix) {
			return true
		}
	}
	return false
}

// decodeExitState recovers an exitState from whatever the StateStore handed
// back, tolerating both a directly-stored Go value (memory store) and the
// generic shape a JSON-backed adapter returns.
func decodeExitState(raw any) (exitState, bool) {
	if raw == nil {
		return exitState{}, false
	}
	if v, ok := raw.(exitState); ok {
		return v, true
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return exitState{}, false
	}
	var out exitState
	if err := json.Unmarshal(data, &out); err != nil {
		return exitState{}, false
	}
	return out, true
}

type injectionMatcher struct {
	enabled  bool
	reason   string
	patterns []*regexp.Regexp
}

func buildInjectionMatcher(cfg InjectionGuardConfig) injectionMatcher {
	if !cfg.Enabled {
		return injectionMatcher{}
	}
	reason := cfg.Reason
	if reason == "" {
		reason = "Potential prompt/tool injection pattern detected"
	}
	patterns := defaultInjectionPatterns
	if len(cfg.Patterns) > 0 {
		compiled := make([]*regexp.Regexp, 0, len(cfg.Patterns))
		for _, p := range cfg.Patterns {
			compiled = append(compiled, regexp.MustCompile("(?i)"+regexp.QuoteMeta(p)))
		}
		patterns = compiled
	}
	return injectionMatcher{enabled: true, reason: reason, patterns: patterns}
}

func buildIntentAllowlistRules(cfg IntentAllowlistConfig) []toolctl.PolicyRule {
	if !cfg.Enabled || len(cfg.Rules) == 0 {
		return nil
	}

	rules := make([]toolctl.PolicyRule, 0, len(cfg.Rules)+1)
	for i, r := range cfg.Rules {
		if r.ToolNamePattern == "" {
			continue
		}
		id := r.ID
		if id == "" {
			id = fmt.Sprintf("agent_logic_allow_%d", i+1)
		}
		rules = append(rules, toolctl.PolicyRule{
			ID:             id,
			Action:         toolctl.ActionAllow,
			Tools:          []string{r.ToolNamePattern},
			ActionPrefixes: r.ActionPrefixes,
			Destinations:   r.Destinations,
			Reason:         r.Reason,
		})
	}
	if len(rules) == 0 {
		return nil
	}

	denyReason := cfg.DenyReason
	if denyReason == "" {
		denyReason = "Tool call is not in the configured intent allowlist"
	}
	rules = append(rules, toolctl.PolicyRule{
		ID:     "agent_logic_deny_unlisted",
		Action: toolctl.ActionDeny,
		Tools:  []string{"*"},
		Reason: denyReason,
	})
	return rules
}

// Apply returns a new Config layering cfg's safety checks onto base: an
// injection guard and exit-condition tracker merged into the before-call
// verifier, and (if cfg.IntentAllowlist is enabled) intent-allowlist rules
// prepended ahead of base.Policy.Rules with policy forced on.
//
// Apply is pure: base is never mutated, and the returned Config's
// before-call verifier always runs base's own verifier first, short
// circuiting rejection before the safety checks run.
func Apply(base toolctl.Config, cfg Config) toolctl.Config {
	merged := base

	matcher := buildInjectionMatcher(cfg.InjectionGuard)
	exitCfg := cfg.ExitCondition
	maxSteps := exitCfg.MaxStepsPerRun
	if maxSteps <= 0 {
		maxSteps = 30
	}
	store := exitCfg.StateStore
	if store == nil {
		store = toolctl.NewMemoryStateStore()
	}

	baseBeforeCall := base.Verifiers.BeforeCall
	safetyBeforeCall := func(ctx context.Context, phase toolctl.VerifyPhase, vctx toolctl.VerifyContext) (toolctl.VerifierDecision, error) {
		call := vctx.Call

		if matcher.enabled {
			candidate := strings.Join([]string{
				call.ToolName,
				call.Action,
				call.Destination,
				toolctl.StableSerialize(call.Args),
			}, "\n")
			for _, pattern := range matcher.patterns {
				if pattern.MatchString(candidate) {
					return toolctl.VerifierDecision{
						Allow:  false,
						Reason: fmt.Sprintf("%s (matched: %s)", matcher.reason, pattern.String()),
					}, nil
				}
			}
		}

		if exitCfg.Enabled {
			runKey := normalizeRunKey(call.RunKey)
			stateKey := "agent_logic_exit:" + runKey

			raw, ok, err := store.Get(ctx, stateKey)
			if err != nil {
				return toolctl.VerifierDecision{}, err
			}
			state, decoded := decodeExitState(raw)
			if !ok || !decoded {
				state = exitState{}
			}

			if state.TerminalReached && exitCfg.BlockAfterTerminal {
				return toolctl.VerifierDecision{
					Allow:  false,
					Reason: "Run already reached terminal action; further tool calls are blocked",
				}, nil
			}

			nextSteps := state.Steps + 1
			terminalReached := state.TerminalReached || matchesTerminalAction(call, exitCfg.TerminalActions)

			if err := store.Set(ctx, stateKey, exitState{Steps: nextSteps, TerminalReached: terminalReached}); err != nil {
				return toolctl.VerifierDecision{}, err
			}

			if !terminalReached && nextSteps > maxSteps {
				return toolctl.VerifierDecision{
					Allow:  false,
					Reason: fmt.Sprintf("Exit condition not reached within %d tool calls", maxSteps),
				}, nil
			}
		}

		return toolctl.VerifierDecision{Allow: true}, nil
	}

	merged.Verifiers.BeforeCall = mergeBeforeCall(baseBeforeCall, safetyBeforeCall)

	if allowlistRules := buildIntentAllowlistRules(cfg.IntentAllowlist); len(allowlistRules) > 0 {
		merged.Policy = toolctl.PolicyConfig{
			Mode:            base.Policy.Mode,
			ApprovalHandler: base.Policy.ApprovalHandler,
			Rules:           append(allowlistRules, base.Policy.Rules...),
		}
	}

	return merged
}

// mergeBeforeCall composes base and next so base runs first and
// short-circuits rejection, mirroring toolctl's own mergeVerifier.
func mergeBeforeCall(base, next toolctl.VerifierFunc) toolctl.VerifierFunc {
	if base == nil {
		return next
	}
	return func(ctx context.Context, phase toolctl.VerifyPhase, vctx toolctl.VerifyContext) (toolctl.VerifierDecision, error) {
		decision, err := base(ctx, phase, vctx)
		if err != nil || !decision.Allow {
			return decision, err
		}
		return next(ctx, phase, vctx)
	}
}
