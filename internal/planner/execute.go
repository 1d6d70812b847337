package planner

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dchu3/base-mcp-bot/internal/llmbridge"
	"github.com/dchu3/base-mcp-bot/internal/toolserver"
)

// executedCall pairs a requested call with its outcome, kept in the
// model's requested order regardless of completion order.
type executedCall struct {
	request llmbridge.RequestedCall
	result  toolserver.ToolResult
}

// executeCalls runs every requested call concurrently, each with its own
// isolated failure context: one call erroring (timeout, crash, policy
// block) never cancels or delays its siblings, and results land back in
// the caller's requested order (spec §5's ordering guarantee), not
// completion order. Grounded on the teacher's own errgroup fan-out
// pattern of returning nil from eg.Go and recording failures into a
// pre-allocated slot instead of propagating the error through the group.
func (r *PlannerRun) executeCalls(ctx context.Context, calls []llmbridge.RequestedCall) []executedCall {
	out := make([]executedCall, len(calls))
	eg, egCtx := errgroup.WithContext(ctx)

	for i, call := range calls {
		i, call := i, call
		eg.Go(func() error {
			out[i] = executedCall{request: call, result: r.executeOne(egCtx, call)}
			return nil
		})
	}
	_ = eg.Wait() // individual failures are carried in out[i].result, never propagated here

	return out
}

func (r *PlannerRun) executeOne(ctx context.Context, call llmbridge.RequestedCall) toolserver.ToolResult {
	start := time.Now()

	if r.policy != nil {
		decision, err := r.policy.Evaluate(ctx, call.ServerName, call.ToolName, call.Params)
		if err != nil {
			r.logger.Warn("policy evaluation failed, defaulting to allow", zap.Error(err))
			decision = DecisionAllow
		}
		switch decision {
		case DecisionBlock:
			return blockedResult(call, "blocked by policy")
		case DecisionRequireApproval:
			return blockedResult(call, "approval not supported")
		}
	}

	raw, callErr := r.tsm.Call(ctx, call.ServerName, call.ToolName, call.Params, r.toolTimeout)
	if callErr != nil {
		r.logger.Warn("tool call failed",
			zap.String("server", call.ServerName), zap.String("tool", call.ToolName), zap.Error(callErr))
		return toolserver.ToolResult{CallID: call.CallID, Err: callErr, WallTime: time.Since(start)}
	}
	return toolserver.ToolResult{CallID: call.CallID, Payload: raw, WallTime: time.Since(start)}
}

func blockedResult(call llmbridge.RequestedCall, reason string) toolserver.ToolResult {
	return toolserver.ToolResult{
		CallID: call.CallID,
		Err:    &toolserver.CallError{Kind: toolserver.ErrorKind(ErrPolicyBlocked), Message: reason},
	}
}

// denyForBudget builds the synthetic failure a call gets when MAX_TOOL_CALLS
// is already spent (spec §4.4's budget table: "denial is reported back as
// synthetic tool messages with error BudgetExceeded"), in the same shape as
// any other tool failure so toToolMessages treats it identically.
func denyForBudget(call llmbridge.RequestedCall) executedCall {
	return executedCall{
		request: call,
		result: toolserver.ToolResult{
			CallID: call.CallID,
			Err:    &toolserver.CallError{Kind: toolserver.ErrorKind(ErrBudgetExceeded), Message: "tool call budget exceeded"},
		},
	}
}

// toToolMessages converts executed calls into conversation messages the
// bridge will see on its next turn, preserving request order.
func toToolMessages(executed []executedCall) []llmbridge.Message {
	msgs := make([]llmbridge.Message, 0, len(executed))
	for _, e := range executed {
		var content string
		if e.result.OK() {
			content = string(e.result.Payload)
		} else {
			content = errorPayload(e.result.Err)
		}
		msgs = append(msgs, llmbridge.Message{
			Role:       "tool",
			Content:    content,
			ToolCallID: e.request.CallID,
			ToolName:   e.request.ToolName,
		})
	}
	return msgs
}

func errorPayload(err *toolserver.CallError) string {
	payload, marshalErr := json.Marshal(map[string]string{
		"error":   string(err.Kind),
		"message": err.Message,
	})
	if marshalErr != nil {
		return `{"error":"unknown"}`
	}
	return string(payload)
}
