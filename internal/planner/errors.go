package planner

import "fmt"

// ErrorKind extends the toolserver/llmbridge error taxonomies with the
// planner's own stable failure modes (spec §7, plus the supplemented
// RateLimited kind from SPEC_FULL.md §7).
type ErrorKind string

const (
	ErrBudgetExceeded ErrorKind = "BudgetExceeded"
	ErrPolicyBlocked  ErrorKind = "PolicyBlocked"
	ErrRateLimited    ErrorKind = "RateLimited"
	ErrStorageError   ErrorKind = "StorageError"
)

// RunError is the concrete representation of a planner-level ErrorKind.
type RunError struct {
	Kind    ErrorKind
	Message string
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}
