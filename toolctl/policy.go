package toolctl

import (
	"context"
	"strings"
)

// policyRank is the tuple the Policy Evaluator ranks matching rules by:
// (tool specificity, destination specificity, action-prefix specificity,
// strictness, index). The highest-ranked rule applies (§4.6).
type policyRank struct {
	toolSpecificity   int
	destSpecificity   int
	prefixSpecificity int
	strictness        int
	index             int
}

// less reports whether r ranks strictly below other. Ties resolve by the
// earlier-indexed rule winning, matching the original source's comparator
// (see DESIGN.md for the Open Question resolution).
func (r policyRank) less(other policyRank) bool {
	if r.toolSpecificity != other.toolSpecificity {
		return r.toolSpecificity < other.toolSpecificity
	}
	if r.destSpecificity != other.destSpecificity {
		return r.destSpecificity < other.destSpecificity
	}
	if r.prefixSpecificity != other.prefixSpecificity {
		return r.prefixSpecificity < other.prefixSpecificity
	}
	if r.strictness != other.strictness {
		return r.strictness < other.strictness
	}
	return r.index > other.index
}

// matchActionPrefixes reports whether action matches any of prefixes (or
// there are no prefixes, meaning "any"), and the longest matching prefix's
// length plus one as its specificity contribution.
func matchActionPrefixes(prefixes []string, action string) (matched bool, specificity int) {
	if len(prefixes) == 0 {
		return true, 0
	}
	for _, p := range prefixes {
		if strings.HasPrefix(action, p) {
			matched = true
			if len(p)+1 > specificity {
				specificity = len(p) + 1
			}
		}
	}
	return matched, specificity
}

// ruleMatch attempts to match rule against a call; ok is false if any
// supplied constraint fails.
func ruleMatch(rule PolicyRule, toolName, destHost, action string) (rank policyRank, ok bool) {
	toolSpec := 0
	if len(rule.Tools) > 0 {
		matched, spec := matchAnyToolPattern(rule.Tools, toolName)
		if !matched {
			return policyRank{}, false
		}
		toolSpec = spec + 1
	}

	destSpec := 0
	if len(rule.Destinations) > 0 {
		matched, spec := matchAnyDestPattern(rule.Destinations, destHost)
		if !matched {
			return policyRank{}, false
		}
		destSpec = spec + 1
	}

	prefixMatched, prefixSpec := matchActionPrefixes(rule.ActionPrefixes, action)
	if !prefixMatched {
		return policyRank{}, false
	}

	return policyRank{
		toolSpecificity:   toolSpec,
		destSpecificity:   destSpec,
		prefixSpecificity: prefixSpec,
		strictness:        actionStrictness(rule.Action),
	}, true
}

// evaluatePolicy returns the index of the highest-ranked matching rule, or
// -1 if no rule matches.
func evaluatePolicy(rules []PolicyRule, toolName, destHost, action string) int {
	best := -1
	var bestRank policyRank
	for i, rule := range rules {
		rank, ok := ruleMatch(rule, toolName, destHost, action)
		if !ok {
			continue
		}
		rank.index = i
		if best == -1 || bestRank.less(rank) {
			best = i
			bestRank = rank
		}
	}
	return best
}

// policyOutcome is the result of running the Policy Evaluator for one call.
type policyOutcome struct {
	allowed           bool
	dryRun            bool
	rule              *PolicyRule
	approvalRequested bool
	eventKind         string
	reason            string
}

// enforcePolicy evaluates rules against the call and, for an enforced
// require_approval rule, invokes handler. Dry-run mode never blocks and
// never calls handler (§4.6, testable property 6). onApprovalRequired, if
// non-nil, fires right before the handler is invoked so the orchestrator
// can emit policy_approval_required ahead of the terminal
// policy_approved/policy_denied event.
func enforcePolicy(ctx context.Context, cfg PolicyConfig, call CallContext, onApprovalRequired func(rule PolicyRule)) (policyOutcome, error) {
	if len(cfg.Rules) == 0 {
		return policyOutcome{allowed: true}, nil
	}

	idx := evaluatePolicy(cfg.Rules, call.ToolName, call.DestinationHost(), call.Action)
	if idx == -1 {
		return policyOutcome{allowed: true}, nil
	}
	rule := cfg.Rules[idx]
	dryRun := cfg.Mode == PolicyModeDryRun

	switch rule.Action {
	case ActionAllow:
		return policyOutcome{allowed: true, rule: &rule}, nil

	case ActionDeny:
		if dryRun {
			return policyOutcome{allowed: true, dryRun: true, rule: &rule, eventKind: EventPolicyDryRun, reason: rule.Reason}, nil
		}
		reason := rule.Reason
		if reason == "" {
			reason = "denied by policy rule " + rule.ID
		}
		return policyOutcome{allowed: false, rule: &rule, eventKind: EventPolicyDenied, reason: reason},
			newFailure(CodeUnauthorized, reason, 0, ErrPolicyDenied)

	case ActionRequireApproval:
		if dryRun {
			return policyOutcome{allowed: true, dryRun: true, rule: &rule, eventKind: EventPolicyDryRun, reason: rule.Reason}, nil
		}
		if onApprovalRequired != nil {
			onApprovalRequired(rule)
		}
		if cfg.ApprovalHandler == nil {
			reason := "approval required but no approval handler configured"
			return policyOutcome{allowed: false, rule: &rule, approvalRequested: true, eventKind: EventPolicyDenied, reason: reason},
				newFailure(CodeUnauthorized, reason, 0, ErrApprovalRequired)
		}
		approved, err := cfg.ApprovalHandler(ctx, rule, call)
		if err != nil || !approved {
			reason := rule.Reason
			if reason == "" {
				reason = "approval denied for rule " + rule.ID
			}
			return policyOutcome{allowed: false, rule: &rule, approvalRequested: true, eventKind: EventPolicyDenied, reason: reason},
				newFailure(CodeUnauthorized, reason, 0, ErrApprovalRequired)
		}
		return policyOutcome{allowed: true, rule: &rule, approvalRequested: true, eventKind: EventPolicyApproved}, nil

	default:
		return policyOutcome{allowed: true, rule: &rule}, nil
	}
}
