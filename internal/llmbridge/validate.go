package llmbridge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/dchu3/base-mcp-bot/internal/toolserver"
)

// validateParams checks a requested call's arguments against its tool's
// declared InputSchema, producing a MalformedPlan bridge error naming the
// offending call on any violation (spec §4.2).
func validateParams(spec toolserver.ToolSpec, params json.RawMessage) error {
	if len(spec.InputSchema) == 0 {
		return nil
	}

	schemaLoader := gojsonschema.NewBytesLoader(spec.InputSchema)
	documentLoader := gojsonschema.NewBytesLoader(rawOrEmptyObject(params))

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return &BridgeError{Kind: ErrMalformedPlan, Message: fmt.Sprintf("schema validation error: %v", err), ToolCallName: spec.ToolName}
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return &BridgeError{
			Kind:         ErrMalformedPlan,
			Message:      strings.Join(msgs, "; "),
			ToolCallName: spec.ToolName,
		}
	}
	return nil
}

func rawOrEmptyObject(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}
