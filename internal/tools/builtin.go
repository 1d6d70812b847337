package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

func init() {
	MustRegister(Def{
		Name:        "query",
		Description: "Look up the current weather for a city",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"city": {"type": "string"}},
			"required": ["city"]
		}`),
		Exec: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"weather":"sunny","temperature_c":25}`), nil
		},
	})

	MustRegister(Def{
		Name:        "transfer",
		Description: "Transfer funds between two accounts",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"from_account": {"type": "string"},
				"to_account": {"type": "string"},
				"amount_cents": {"type": "integer"}
			},
			"required": ["from_account", "to_account", "amount_cents"]
		}`),
		Exec: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"status":"completed","transaction_id":"tx_123"}`), nil
		},
	})

	MustRegister(Def{
		Name:        "run_shell_command",
		Description: "Run an arbitrary shell command on the host (disabled by default; gate with policy)",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"command": {"type": "string"}},
			"required": ["command"]
		}`),
		Exec: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			return nil, fmt.Errorf("tool execution disabled")
		},
	})
}
