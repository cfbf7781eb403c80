package safety

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jonwraymond/toolctl/toolctl"
)

// approvalClaims is the payload a minting service signs to pre-approve one
// require_approval policy rule for one tool, instead of a human approver
// being prompted inline for every matching call.
type approvalClaims struct {
	jwt.RegisteredClaims
	RuleID   string `json:"ruleId"`
	ToolName string `json:"toolName"`
}

// approvalTokenExtractor pulls the signed token string out of a CallContext.
// The default extractor looks for an "approvalToken" entry when Args is a
// map[string]any, since toolctl.CallContext carries no dedicated token
// field.
type approvalTokenExtractor func(call toolctl.CallContext) (string, bool)

func defaultApprovalTokenExtractor(call toolctl.CallContext) (string, bool) {
	args, ok := call.Args.(map[string]any)
	if !ok {
		return "", false
	}
	token, ok := args["approvalToken"].(string)
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

// ApprovalTokenVerifier returns a toolctl.ApprovalHandler that approves a
// require_approval decision only when the call carries a signed JWT (HMAC,
// secretKey) whose ruleId and toolName claims match the rule and call being
// evaluated, and whose expiry has not passed. Any missing, malformed,
// expired, or mismatched token denies the call — approval fails closed.
func ApprovalTokenVerifier(secretKey []byte) toolctl.ApprovalHandler {
	return approvalTokenVerifier(secretKey, defaultApprovalTokenExtractor)
}

func approvalTokenVerifier(secretKey []byte, extract approvalTokenExtractor) toolctl.ApprovalHandler {
	return func(ctx context.Context, rule toolctl.PolicyRule, call toolctl.CallContext) (bool, error) {
		raw, ok := extract(call)
		if !ok {
			return false, nil
		}

		claims := &approvalClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return secretKey, nil
		})
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				return false, nil
			}
			return false, nil
		}
		if !token.Valid {
			return false, nil
		}

		if claims.RuleID != rule.ID || claims.ToolName != call.ToolName {
			return false, nil
		}
		return true, nil
	}
}
