package llmbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dchu3/base-mcp-bot/internal/toolserver"
)

// mockBridge is a deterministic stand-in for the real model, selected when
// USE_MOCK_LLM is true or GEMINI_API_KEY is unset. It never makes a network call: on its first turn it
// calls the first declared tool (if any), and on any turn after a tool
// result has already come back it synthesizes a final answer. This gives
// the planner's budget, fan-out, and synthesis logic something exercisable
// without an API key.
type mockBridge struct{}

// NewMockBridge constructs the no-network Bridge used in tests and local
// development.
func NewMockBridge() Bridge { return &mockBridge{} }

func (b *mockBridge) Plan(ctx context.Context, history []Message, tools []toolserver.ToolSpec) (Plan, error) {
	if hasToolResult(history) || len(tools) == 0 {
		return Plan{FinalText: b.generateFinal(history)}, nil
	}

	spec := tools[0]
	return Plan{
		Calls: []RequestedCall{{
			CallID:     "mock_call_1",
			ServerName: spec.ServerName,
			ToolName:   spec.ToolName,
			Params:     json.RawMessage(`{}`),
		}},
	}, nil
}

func hasToolResult(history []Message) bool {
	for _, m := range history {
		if m.Role == "tool" {
			return true
		}
	}
	return false
}

func (b *mockBridge) generateFinal(history []Message) string {
	var lastUser string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "user" {
			lastUser = history[i].Content
			break
		}
	}
	if lastUser == "" {
		return "[mock] no response generated."
	}
	return fmt.Sprintf("[mock] handled %q using the available tools.", truncate(lastUser, 100))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
