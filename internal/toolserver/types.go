// Package toolserver owns the pool of tool-server child processes: spawning
// them, discovering their declared tools, and multiplexing concurrent
// call/response traffic over each process's line-delimited JSON-RPC stdio
// pipe.
package toolserver

import (
	"encoding/json"
	"fmt"
	"time"
)

// ToolSpec is a declared tool capability, immutable once discovered.
type ToolSpec struct {
	ServerName  string          `json:"server_name"`
	ToolName    string          `json:"tool_name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Key returns the globally-unique (server, tool) identity of this spec.
func (s ToolSpec) Key() string {
	return s.ServerName + "/" + s.ToolName
}

// ToolCall is one requested invocation.
type ToolCall struct {
	CallID     string
	ServerName string
	ToolName   string
	Params     json.RawMessage
	IssuedAt   time.Time
}

// ErrorKind is the stable taxonomy of TSM failure modes (spec §7).
type ErrorKind string

const (
	ErrNoSuchTool       ErrorKind = "NoSuchTool"
	ErrServerUnavailable ErrorKind = "ServerUnavailable"
	ErrServerCrashed    ErrorKind = "ServerCrashed"
	ErrCallTimeout      ErrorKind = "CallTimeout"
	ErrProtocolError    ErrorKind = "ProtocolError"
	ErrRemote           ErrorKind = "RemoteError"
)

// CallError is the concrete representation of a TSM error kind.
type CallError struct {
	Kind    ErrorKind
	Message string
	Code    int // populated for ErrRemote
}

func (e *CallError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: %s (code=%d)", e.Kind, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ToolResult is the structured outcome of one call. Exactly one of Payload
// or Err is populated.
type ToolResult struct {
	CallID   string
	Payload  json.RawMessage
	Err      *CallError
	WallTime time.Duration
}

func (r ToolResult) OK() bool { return r.Err == nil }
