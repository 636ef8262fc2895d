package apperrors

import "errors"

// Exit statuses reported by the CLI. A run exits 0 only when no fatal
// stage triggered; distinct codes let wrapper scripts tell an operator
// mistake from a resource refusal.
const (
	ExitOK             = 0
	ExitFatal          = 1
	ExitUsage          = 2
	ExitDenied         = 3
	ExitTimeout        = 4
	ExitWatchdogKilled = 5
)

// ExitCode maps an error to the CLI exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrValidation):
		return ExitUsage
	case errors.Is(err, ErrDenied):
		return ExitDenied
	case errors.Is(err, ErrTimeout):
		return ExitTimeout
	case errors.Is(err, ErrWatchdogKilled):
		return ExitWatchdogKilled
	default:
		return ExitFatal
	}
}
