package toolserver

import "encoding/json"

// rpcRequest is the manager -> server message shape (spec §4.1).
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// rpcResponse is the server -> manager message shape. Either Result or
// Error is populated on a response; notifications carry neither an ID, in
// which case both Result and Error are absent too.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"` // present on notifications
	Params  json.RawMessage `json:"params,omitempty"` // present on notifications
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// isNotification reports whether a decoded response frame is actually an
// unsolicited notification from the server (no ID, has a method).
func (r rpcResponse) isNotification() bool {
	return r.ID == nil && r.Method != ""
}

// toolsListResult is the payload of a successful tools/list response.
type toolsListResult struct {
	Tools []toolsListEntry `json:"tools"`
}

type toolsListEntry struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}
