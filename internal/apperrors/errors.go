// Package apperrors provides structured run errors with exit-code mapping.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation     = errors.New("validation error")
	ErrNotFound       = errors.New("not found")
	ErrDenied         = errors.New("admission denied")
	ErrTimeout        = errors.New("wall-clock timeout")
	ErrWatchdogKilled = errors.New("killed by memory watchdog")
	ErrStageDegraded  = errors.New("stage degraded")
	ErrFatal          = errors.New("fatal stage failure")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "timeout-hours")
	Resource string // For not found (e.g., "protein", "reference structure")
	Stage    string // Pipeline stage that produced the error (e.g., "fold")
	Op       string // Operation that failed (e.g., "docker.containerStart")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel error for errors.Is() classification.
func (e *Error) Unwrap() error {
	return e.Sentinel
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Denied creates an admission-denial error. Denial aborts only the current
// job; the caller surfaces the reason to the operator and moves on.
func Denied(reason string) error {
	return &Error{
		Sentinel: ErrDenied,
		Message:  reason,
		Stage:    "admission",
	}
}

// Timeout creates a wall-clock timeout error for an operation.
func Timeout(op string, limit time.Duration) error {
	return &Error{
		Sentinel: ErrTimeout,
		Message:  fmt.Sprintf("%s exceeded %s wall-clock limit", op, limit),
		Op:       op,
	}
}

// WatchdogKilled creates an error reporting a watchdog kill, distinguished
// from a plain non-zero exit so operators know why the process died.
func WatchdogKilled(availableGB, thresholdGB float64) error {
	return &Error{
		Sentinel: ErrWatchdogKilled,
		Message: fmt.Sprintf("process killed: available memory %.1f GB fell below %.1f GB threshold",
			availableGB, thresholdGB),
		Stage: "fold",
	}
}

// Degraded creates a recoverable stage failure. The run continues without
// the stage's output.
func Degraded(stage string, cause error) error {
	return &Error{
		Sentinel: ErrStageDegraded,
		Message:  fmt.Sprintf("%s degraded: %v", stage, cause),
		Stage:    stage,
		Cause:    cause,
	}
}

// Fatal creates a run-aborting stage failure wrapping an underlying cause.
func Fatal(stage string, cause error) error {
	return &Error{
		Sentinel: ErrFatal,
		Message:  fmt.Sprintf("%s failed: %v", stage, cause),
		Stage:    stage,
		Cause:    cause,
	}
}
