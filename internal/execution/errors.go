package execution

import (
	"errors"
	"fmt"
)

// Phase names the step a swap was in when it stopped.
type Phase string

const (
	PhaseOrder  Phase = "order"
	PhaseSign   Phase = "sign"
	PhaseSubmit Phase = "submit"
	PhaseSettle Phase = "settle"
)

// StatusSuccess is the only venue status treated as a completed swap.
const StatusSuccess = "Success"

var (
	ErrInvalidTarget  = errors.New("execution: target is not a valid mint address")
	ErrAmountTooSmall = errors.New("execution: amount rounds to zero lamports")
	ErrNoTransaction  = errors.New("execution: venue returned no transaction")
	ErrNotSettled     = errors.New("execution: venue did not report success")
)

// Error is the terminal failure of an execution. A failure in PhaseSubmit or
// PhaseSettle does not prove that funds were left untouched.
type Error struct {
	Phase  Phase
	Status string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Status != "" {
		return fmt.Sprintf("execution: %s failed (status %s): %v", e.Phase, e.Status, e.Err)
	}
	return fmt.Sprintf("execution: %s failed: %v", e.Phase, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
