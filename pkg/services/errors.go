// Package services provides the service layer between the HTTP handlers and
// the graph, executor and persistence components.
package services

import (
	"errors"
	"fmt"

	"github.com/cadencehq/cadence/pkg/persistence"
)

// Business logic errors. Validation errors map to 400, conflicts to 409.
var (
	ErrAutomationNotFound = persistence.ErrAutomationNotFound
	ErrAutomationExists   = persistence.ErrAutomationAlreadyExists

	ErrInvalidDefinition = errors.New("invalid automation definition")
	ErrGraphNotMounted   = errors.New("automation graph is not mounted")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidDefinition)
}

// IsConflictError checks if an error should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrAutomationExists)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
