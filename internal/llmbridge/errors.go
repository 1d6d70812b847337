package llmbridge

import "fmt"

// ErrorKind is the stable taxonomy of LLM Bridge failure modes, joining
// the toolserver.ErrorKind set into one overall vocabulary the planner
// reports up.
type ErrorKind string

const (
	ErrModelUnavailable ErrorKind = "ModelUnavailable"
	ErrModelRefused     ErrorKind = "ModelRefused"
	ErrMalformedPlan    ErrorKind = "MalformedPlan"
)

// BridgeError is the concrete representation of an ErrorKind.
type BridgeError struct {
	Kind    ErrorKind
	Message string
	// ToolCallName is set for ErrMalformedPlan, naming the offending call.
	ToolCallName string
}

func (e *BridgeError) Error() string {
	if e.ToolCallName != "" {
		return fmt.Sprintf("%s: %s (tool=%s)", e.Kind, e.Message, e.ToolCallName)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}
