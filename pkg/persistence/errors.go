package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrAutomationNotFound indicates no automation exists for the given code.
	ErrAutomationNotFound = errors.New("automation not found")

	// ErrScheduleNotFound indicates no schedule is stored for the given code.
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrAutomationAlreadyExists indicates an automation with the same code already exists.
	ErrAutomationAlreadyExists = errors.New("automation already exists")
)

// AutomationError wraps automation-related storage errors with context.
type AutomationError struct {
	Op   string // Operation being performed (e.g. "ByCode", "Save", "Delete")
	Code string // Automation code if applicable
	Err  error  // Underlying error
}

func (e *AutomationError) Error() string {
	return fmt.Sprintf("%s operation failed for automation %s: %v", e.Op, e.Code, e.Err)
}

func (e *AutomationError) Unwrap() error {
	return e.Err
}

func (e *AutomationError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewAutomationError creates a new automation error with context.
func NewAutomationError(op, code string, err error) *AutomationError {
	return &AutomationError{Op: op, Code: code, Err: err}
}

// IsAutomationNotFound checks if an error indicates a missing automation.
func IsAutomationNotFound(err error) bool {
	return errors.Is(err, ErrAutomationNotFound)
}

// IsScheduleNotFound checks if an error indicates a missing schedule.
func IsScheduleNotFound(err error) bool {
	return errors.Is(err, ErrScheduleNotFound)
}
