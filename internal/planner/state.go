package planner

// RunState is the PlannerRun state machine's current phase, terminating in
// exactly one of Done, TimedOut, BudgetExhausted, or Aborted (spec §4.4).
type RunState string

const (
	StatePlanning     RunState = "planning"
	StateExecuting    RunState = "executing"
	StateSynthesizing RunState = "synthesizing"

	StateDone            RunState = "done"
	StateTimedOut        RunState = "timed_out"
	StateBudgetExhausted RunState = "budget_exhausted"
	StateAborted         RunState = "aborted"
)

// Terminal reports whether s ends the run.
func (s RunState) Terminal() bool {
	switch s {
	case StateDone, StateTimedOut, StateBudgetExhausted, StateAborted:
		return true
	default:
		return false
	}
}
