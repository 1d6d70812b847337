package llmbridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dchu3/base-mcp-bot/internal/toolserver"
)

func TestMockBridgeCallsFirstToolWhenAvailable(t *testing.T) {
	bridge := NewMockBridge()
	tools := []toolserver.ToolSpec{
		{ServerName: "weather", ToolName: "query"},
	}

	plan, err := bridge.Plan(context.Background(), []Message{{Role: "user", Content: "what's the weather"}}, tools)
	require.NoError(t, err)
	require.Len(t, plan.Calls, 1)
	assert.Equal(t, "weather", plan.Calls[0].ServerName)
	assert.Equal(t, "query", plan.Calls[0].ToolName)
	assert.False(t, plan.IsFinal())
}

func TestMockBridgeSynthesizesFinalAfterToolResult(t *testing.T) {
	bridge := NewMockBridge()
	tools := []toolserver.ToolSpec{{ServerName: "weather", ToolName: "query"}}

	history := []Message{
		{Role: "user", Content: "what's the weather"},
		{Role: "model", Content: ""},
		{Role: "tool", ToolName: "query", ToolCallID: "mock_call_1", Content: `{"temp":70}`},
	}

	plan, err := bridge.Plan(context.Background(), history, tools)
	require.NoError(t, err)
	assert.True(t, plan.IsFinal())
	assert.Contains(t, plan.FinalText, "what's the weather")
}

func TestMockBridgeFinalWhenNoToolsDeclared(t *testing.T) {
	bridge := NewMockBridge()
	plan, err := bridge.Plan(context.Background(), []Message{{Role: "user", Content: "hello"}}, nil)
	require.NoError(t, err)
	assert.True(t, plan.IsFinal())
}
