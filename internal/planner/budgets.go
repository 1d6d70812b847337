package planner

import "time"

// Budgets are the three simultaneous ceilings a PlannerRun enforces (spec
// §4.4). Reaching MaxIterations or WallClock ends the iteration loop and
// triggers best-effort synthesis from whatever tool results have
// accumulated; calls beyond MaxToolCalls are denied with BudgetExceeded
// and the loop continues.
type Budgets struct {
	MaxIterations int
	MaxToolCalls  int
	WallClock     time.Duration
}

// DefaultBudgets matches spec.md's stated defaults.
func DefaultBudgets() Budgets {
	return Budgets{
		MaxIterations: 8,
		MaxToolCalls:  30,
		WallClock:     90 * time.Second,
	}
}
