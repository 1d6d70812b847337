package planner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// PolicyEngine gates a tool call immediately before dispatch, returning
// one of allow | require_approval | block (spec decision: require_approval
// is treated as block, see SPEC_FULL.md §1).
type PolicyEngine struct {
	query rego.PreparedEvalQuery
}

// NewPolicyEngine prepares a rego policy for evaluation.
func NewPolicyEngine(ctx context.Context, policyContent string) (*PolicyEngine, error) {
	r := rego.New(
		rego.Query("data.tool_policy.decision"),
		rego.Module("tool_policy.rego", policyContent),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("planner: prepare policy: %w", err)
	}
	return &PolicyEngine{query: query}, nil
}

// Decision is the outcome of evaluating a tool call against policy.
type Decision string

const (
	DecisionAllow           Decision = "allow"
	DecisionRequireApproval Decision = "require_approval"
	DecisionBlock           Decision = "block"
)

// Evaluate checks a pending call against policy. input carries at least
// server_name, tool_name, and args so a policy can discriminate on any of
// them, matching the teacher's own input shape.
func (e *PolicyEngine) Evaluate(ctx context.Context, serverName, toolName string, args json.RawMessage) (Decision, error) {
	var decoded any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &decoded); err != nil {
			decoded = nil
		}
	}
	input := map[string]any{
		"server_name": serverName,
		"tool_name":   toolName,
		"args":        decoded,
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("planner: evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, nil
	}

	val := results[0].Expressions[0].Value
	if s, ok := val.(string); ok {
		return Decision(s), nil
	}
	return DecisionAllow, nil
}

// DefaultPolicy allows every tool call; callers that want gating supply
// their own rego module to NewPolicyEngine.
const DefaultPolicy = `
package tool_policy

default decision = "allow"
`
