package planner

// ToolCallRecord is one entry in a run's tool_calls_made[] (spec §6): which
// (server, tool) the model invoked and whether it succeeded, in request
// order.
type ToolCallRecord struct {
	ServerName string
	ToolName   string
	OK         bool
}

// RunResult is the full shape the agentic loop hands back to core.Ask: the
// natural-language answer, every tool call the run made along the way, and
// the terminal state the state machine actually landed in (spec §6's
// core.run(user_key, user_text) -> {assistant_text, tool_calls_made[],
// terminal_state}).
type RunResult struct {
	AssistantText string
	ToolCallsMade []ToolCallRecord
	TerminalState RunState
}

func recordsFrom(executed []executedCall) []ToolCallRecord {
	out := make([]ToolCallRecord, 0, len(executed))
	for _, e := range executed {
		out = append(out, ToolCallRecord{
			ServerName: e.request.ServerName,
			ToolName:   e.request.ToolName,
			OK:         e.result.OK(),
		})
	}
	return out
}
