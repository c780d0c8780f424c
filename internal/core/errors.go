package core

import "fmt"

// PlanningError marks a fatal pre-execution failure: the policy references a
// capability the endpoint does not support, required policy parameters are
// missing, or the stored checkpoint does not match the strategy's shape.
// No partial plan is ever returned alongside one.
type PlanningError struct {
	Reason string
	Err    error
}

func (e *PlanningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("planning failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("planning failed: %s", e.Reason)
}

func (e *PlanningError) Unwrap() error { return e.Err }

// NewPlanningError builds a PlanningError from a format string.
func NewPlanningError(format string, args ...any) *PlanningError {
	return &PlanningError{Reason: fmt.Sprintf(format, args...)}
}

// SliceExecutionError reports the first failing slice of a plan. It is fatal
// to the remainder of the plan only: the runner stops at the failing slice and
// returns the checkpoint advanced through the completed prefix.
type SliceExecutionError struct {
	Position int
	SliceID  string
	Lower    string
	Upper    string
	Err      error
}

func (e *SliceExecutionError) Error() string {
	return fmt.Sprintf("slice %d (%s) [%s..%s] failed: %v", e.Position, e.SliceID, e.Lower, e.Upper, e.Err)
}

func (e *SliceExecutionError) Unwrap() error { return e.Err }
