package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPlan is matched by every plan construction fault.
var ErrInvalidPlan = errors.New("invalid plan")

// ErrSchedulingStalled means group computation made no progress on a graph
// that passed cycle detection. It indicates a bug, not bad input.
var ErrSchedulingStalled = errors.New("scheduling stalled")

type DuplicateStepError struct {
	StepID string
}

func (e *DuplicateStepError) Error() string {
	if e.StepID == "" {
		return "step without step_id"
	}
	return fmt.Sprintf("duplicate step %q", e.StepID)
}

func (e *DuplicateStepError) Unwrap() error { return ErrInvalidPlan }

// DanglingDependencyError is returned when a step depends on a step id that
// is not part of the plan.
type DanglingDependencyError struct {
	StepID     string
	Dependency string
}

func (e *DanglingDependencyError) Error() string {
	return fmt.Sprintf("step %q depends on unknown step %q", e.StepID, e.Dependency)
}

func (e *DanglingDependencyError) Unwrap() error { return ErrInvalidPlan }

// CyclicDependencyError carries the offending path in dependency direction,
// with the first step repeated at the end.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return "cyclic dependency: " + strings.Join(e.Cycle, " -> ")
}

func (e *CyclicDependencyError) Unwrap() error { return ErrInvalidPlan }
