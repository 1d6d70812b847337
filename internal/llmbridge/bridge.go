// Package llmbridge is the seam between the planner and an external
// generative model: it turns a conversation plus a set of declared tools
// into either a batch of tool calls or a final answer, never both being
// ambiguous about which one the caller should act on.
package llmbridge

import (
	"context"
	"encoding/json"

	"github.com/dchu3/base-mcp-bot/internal/toolserver"
)

// Message is one turn of conversation handed to the model.
type Message struct {
	Role    string // "user", "model", or "tool"
	Content string
	// ToolCallID and ToolName are set only on Role == "tool" messages, to
	// correlate a tool result back to the call that produced it.
	ToolCallID string
	ToolName   string
}

// RequestedCall is one tool invocation the model wants executed.
type RequestedCall struct {
	CallID     string
	ServerName string
	ToolName   string
	Params     json.RawMessage
}

// Plan is the discriminated union a Bridge returns: at most one of Calls
// or FinalText is populated, and a Plan with neither is an empty final
// answer. Tool calls win over prose when a single model
// response contains both (spec decision policy).
type Plan struct {
	Calls     []RequestedCall
	FinalText string
}

// IsFinal reports whether this plan has no further tool calls to make.
func (p Plan) IsFinal() bool { return len(p.Calls) == 0 }

// Bridge is the contract the planner depends on; genaiBridge and mockBridge
// both satisfy it.
type Bridge interface {
	// Plan sends the conversation plus the currently available tools to
	// the model and returns its decision.
	Plan(ctx context.Context, history []Message, tools []toolserver.ToolSpec) (Plan, error)
}
