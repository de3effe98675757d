package orchestrator

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an operation names a project the
// orchestrator is not tracking.
var ErrNotFound = errors.New("project not found")

// CycleError is a phase failure during a development cycle. Message is
// the stable, user-facing summary; Err carries the underlying cause.
type CycleError struct {
	Name    string
	Phase   string
	Message string
	Err     error
}

func (e *CycleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Name, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

func (e *CycleError) Unwrap() error { return e.Err }
