// Package safety implements the agent-logic safety composer: a pure
// function that layers an injection guard, an exit-condition tracker, and
// an intent allowlist on top of a toolctl.Config, without discarding
// whatever before-call verifier or policy the caller already configured
// (§4.16 of the runtime-control design).
//
// # Quick Start
//
//	cfg := safety.Apply(toolctl.Config{}, safety.Config{
//		InjectionGuard:  safety.InjectionGuardConfig{Enabled: true},
//		IntentAllowlist: safety.IntentAllowlistConfig{
//			Enabled: true,
//			Rules: []safety.IntentAllowlistRule{
//				{ToolNamePattern: "http.get*"},
//			},
//		},
//	})
//	ctl := toolctl.NewController(cfg)
//
// # Composition
//
// Apply never overwrites an existing before-call verifier: it is run first
// and short-circuits rejection before the safety checks execute. Intent
// allowlist rules are prepended ahead of the caller's own policy rules, so
// an explicit caller rule can still win on higher specificity.
//
// # Approval Tokens
//
// ApprovalTokenVerifier builds a toolctl.ApprovalHandler that accepts a
// require_approval decision only when the call carries a valid signed JWT
// (github.com/golang-jwt/jwt/v5) naming the matching rule and tool, instead
// of prompting a human approver inline.
package safety
