package apperrors

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestValidation(t *testing.T) {
	t.Parallel()
	err := Validation("timeout-hours", "timeout must be positive")

	if !errors.Is(err, ErrValidation) {
		t.Error("expected error to match ErrValidation")
	}
	if err.Error() != "timeout must be positive" {
		t.Errorf("expected message 'timeout must be positive', got %q", err.Error())
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Field != "timeout-hours" {
		t.Errorf("expected field 'timeout-hours', got %q", appErr.Field)
	}
}

func TestNotFound(t *testing.T) {
	t.Parallel()
	err := NotFound("protein", "TP53")

	if !errors.Is(err, ErrNotFound) {
		t.Error("expected error to match ErrNotFound")
	}
	if err.Error() != "protein TP53 not found" {
		t.Errorf("expected message 'protein TP53 not found', got %q", err.Error())
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Resource != "protein" {
		t.Errorf("expected resource 'protein', got %q", appErr.Resource)
	}
}

func TestDenied(t *testing.T) {
	t.Parallel()
	err := Denied("insufficient memory: 3.2 GB available, 16.0 GB required")

	if !errors.Is(err, ErrDenied) {
		t.Error("expected error to match ErrDenied")
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Stage != "admission" {
		t.Errorf("expected stage 'admission', got %q", appErr.Stage)
	}
}

func TestTimeout(t *testing.T) {
	t.Parallel()
	err := Timeout("fold", 4*time.Hour)

	if !errors.Is(err, ErrTimeout) {
		t.Error("expected error to match ErrTimeout")
	}
	if err.Error() != "fold exceeded 4h0m0s wall-clock limit" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestWatchdogKilled(t *testing.T) {
	t.Parallel()
	err := WatchdogKilled(2.5, 4.0)

	if !errors.Is(err, ErrWatchdogKilled) {
		t.Error("expected error to match ErrWatchdogKilled")
	}
	want := "process killed: available memory 2.5 GB fell below 4.0 GB threshold"
	if err.Error() != want {
		t.Errorf("expected message %q, got %q", want, err.Error())
	}
}

func TestFatalPreservesCause(t *testing.T) {
	t.Parallel()
	cause := fmt.Errorf("no structure files produced")
	err := Fatal("fold", cause)

	if !errors.Is(err, ErrFatal) {
		t.Error("expected error to match ErrFatal")
	}
	if err.Error() != "fold failed: no structure files produced" {
		t.Errorf("unexpected message: %q", err.Error())
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Stage != "fold" {
		t.Errorf("expected stage 'fold', got %q", appErr.Stage)
	}
	if appErr.Cause != cause {
		t.Error("expected cause to be preserved")
	}
}

func TestDegradedPreservesCause(t *testing.T) {
	t.Parallel()
	cause := fmt.Errorf("connection refused")
	err := Degraded("literature", cause)

	if !errors.Is(err, ErrStageDegraded) {
		t.Error("expected error to match ErrStageDegraded")
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Stage != "literature" {
		t.Errorf("expected stage 'literature', got %q", appErr.Stage)
	}
	if appErr.Cause != cause {
		t.Error("expected cause to be preserved")
	}
}

func TestExitCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil", nil, ExitOK},
		{"validation", Validation("models", "must be 1-5"), ExitUsage},
		{"denied", Denied("insufficient memory"), ExitDenied},
		{"timeout", Timeout("fold", time.Hour), ExitTimeout},
		{"watchdog", WatchdogKilled(2, 4), ExitWatchdogKilled},
		{"fatal", Fatal("persist", fmt.Errorf("disk full")), ExitFatal},
		{"sentinel denied", ErrDenied, ExitDenied},
		{"wrapped timeout", fmt.Errorf("run: %w", Timeout("fold", time.Hour)), ExitTimeout},
		{"unknown error", fmt.Errorf("unknown"), ExitFatal},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ExitCode(tt.err)
			if got != tt.expected {
				t.Errorf("ExitCode() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestErrorsIsWithWrapping(t *testing.T) {
	t.Parallel()
	// Ensure errors.Is works through fmt.Errorf wrapping
	original := Denied("insufficient memory")
	wrapped := fmt.Errorf("preflight: %w", original)
	doubleWrapped := fmt.Errorf("run: %w", wrapped)

	if !errors.Is(doubleWrapped, ErrDenied) {
		t.Error("expected errors.Is to find ErrDenied through multiple wraps")
	}
}
