package llmbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/dchu3/base-mcp-bot/internal/toolserver"
)

// genaiBridge implements Bridge against a Google Gemini model via
// google.golang.org/genai, translating the catalog's ToolSpecs into
// function declarations the model can call.
type genaiBridge struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewGenAIBridge constructs a Bridge backed by the Gemini API.
func NewGenAIBridge(ctx context.Context, apiKey, model string, logger *zap.Logger) (Bridge, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llmbridge: GEMINI_API_KEY is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("llmbridge: create genai client: %w", err)
	}
	return &genaiBridge{client: client, model: model, logger: logger}, nil
}

func (b *genaiBridge) Plan(ctx context.Context, history []Message, tools []toolserver.ToolSpec) (Plan, error) {
	contents, err := toGenaiContents(history)
	if err != nil {
		return Plan{}, &BridgeError{Kind: ErrMalformedPlan, Message: err.Error()}
	}

	var cfg *genai.GenerateContentConfig
	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(tools))
		for _, spec := range tools {
			decls = append(decls, toFunctionDeclaration(spec))
		}
		cfg = &genai.GenerateContentConfig{
			Tools: []*genai.Tool{{FunctionDeclarations: decls}},
		}
	}

	resp, err := b.client.Models.GenerateContent(ctx, b.model, contents, cfg)
	if err != nil {
		return Plan{}, &BridgeError{Kind: ErrModelUnavailable, Message: err.Error()}
	}
	if len(resp.Candidates) == 0 {
		return Plan{}, &BridgeError{Kind: ErrModelRefused, Message: "no candidates returned"}
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return Plan{}, &BridgeError{Kind: ErrModelRefused, Message: "empty candidate content"}
	}

	var calls []RequestedCall
	var text string
	for i, part := range candidate.Content.Parts {
		if part.FunctionCall != nil {
			params, marshalErr := json.Marshal(part.FunctionCall.Args)
			if marshalErr != nil {
				return Plan{}, &BridgeError{Kind: ErrMalformedPlan, Message: marshalErr.Error(), ToolCallName: part.FunctionCall.Name}
			}
			serverName, toolName := splitFunctionName(part.FunctionCall.Name)
			calls = append(calls, RequestedCall{
				CallID:     fmt.Sprintf("call_%d_%d", len(resp.Candidates), i),
				ServerName: serverName,
				ToolName:   toolName,
				Params:     params,
			})
			continue
		}
		if part.Text != "" {
			text += part.Text
		}
	}

	// Tool calls win over prose when both are present in one response.
	if len(calls) > 0 {
		for _, c := range calls {
			key := c.ServerName + "/" + c.ToolName
			spec, ok := findSpec(tools, key)
			if !ok {
				return Plan{}, &BridgeError{Kind: ErrMalformedPlan, Message: "model requested an undeclared tool", ToolCallName: key}
			}
			if err := validateParams(spec, c.Params); err != nil {
				return Plan{}, err
			}
		}
		return Plan{Calls: calls}, nil
	}

	return Plan{FinalText: text}, nil
}

func toFunctionDeclaration(spec toolserver.ToolSpec) *genai.FunctionDeclaration {
	var schema *genai.Schema
	if len(spec.InputSchema) > 0 {
		schema = &genai.Schema{}
		_ = json.Unmarshal(spec.InputSchema, schema)
	}
	return &genai.FunctionDeclaration{
		Name:        spec.Key(),
		Description: spec.Description,
		Parameters:  schema,
	}
}

func toGenaiContents(history []Message) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		role := genai.Role(genai.RoleUser)
		text := m.Content
		switch m.Role {
		case "model":
			role = genai.RoleModel
		case "tool":
			role = genai.RoleUser
			text = fmt.Sprintf("[tool result %s/%s]\n%s", m.ToolName, m.ToolCallID, m.Content)
		case "user":
			role = genai.RoleUser
		default:
			return nil, fmt.Errorf("llmbridge: unknown message role %q", m.Role)
		}
		contents = append(contents, genai.NewContentFromText(text, role))
	}
	return contents, nil
}

func splitFunctionName(name string) (server, tool string) {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '/' {
			return name[:i], name[i+1:]
		}
	}
	return "", name
}

func findSpec(tools []toolserver.ToolSpec, key string) (toolserver.ToolSpec, bool) {
	for _, t := range tools {
		if t.Key() == key {
			return t, true
		}
	}
	return toolserver.ToolSpec{}, false
}
