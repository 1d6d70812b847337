// Command demo-tool-server is a reference MCP-style tool server: it
// speaks the bot's line-delimited JSON-RPC stdio protocol directly
// against internal/tools.DefaultRegistry, so TOOL_SERVERS can point at
// this binary to exercise the agentic loop without writing a real
// integration against an external API.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/dchu3/base-mcp-bot/internal/tools"
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type toolsListEntry struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func main() {
	in := bufio.NewScanner(os.Stdin)
	in.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	for in.Scan() {
		var req rpcRequest
		if err := json.Unmarshal(in.Bytes(), &req); err != nil {
			continue
		}
		handle(out, req)
		out.Flush()
	}
}

func handle(out *bufio.Writer, req rpcRequest) {
	switch {
	case req.Method == "tools/list":
		writeResult(out, req.ID, toolsList())
	case strings.HasPrefix(req.Method, "tools/call/"):
		handleCall(out, req)
	default:
		writeError(out, req.ID, 404, fmt.Sprintf("unknown method %q", req.Method))
	}
}

func toolsList() any {
	defs := tools.DefaultRegistry.List()
	entries := make([]toolsListEntry, 0, len(defs))
	for _, d := range defs {
		entries = append(entries, toolsListEntry{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		})
	}
	return struct {
		Tools []toolsListEntry `json:"tools"`
	}{Tools: entries}
}

func handleCall(out *bufio.Writer, req rpcRequest) {
	var params callParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeError(out, req.ID, 400, "malformed call params")
		return
	}
	result, err := tools.DefaultRegistry.Execute(context.Background(), params.Name, params.Arguments)
	if err != nil {
		writeError(out, req.ID, 500, err.Error())
		return
	}
	writeResult(out, req.ID, result)
}

func writeResult(out *bufio.Writer, id int64, result any) {
	payload, err := json.Marshal(result)
	if err != nil {
		writeError(out, id, 500, err.Error())
		return
	}
	resp := rpcResponse{JSONRPC: "2.0", ID: id, Result: payload}
	emit(out, resp)
}

func writeError(out *bufio.Writer, id int64, code int, message string) {
	resp := rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}}
	emit(out, resp)
}

func emit(out *bufio.Writer, resp rpcResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	out.Write(payload)
	out.WriteByte('\n')
}
