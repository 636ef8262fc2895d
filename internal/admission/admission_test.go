package admission

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"foldwarden/internal/apperrors"
	"foldwarden/internal/sysmon"
)

// seqMonitor returns the given readings in order, repeating the last.
func seqMonitor(readings ...sysmon.Snapshot) sysmon.Monitor {
	var calls atomic.Int64
	return sysmon.MonitorFunc(func() sysmon.Snapshot {
		n := int(calls.Add(1)) - 1
		if n >= len(readings) {
			n = len(readings) - 1
		}
		return readings[n]
	})
}

func known(gb float64) sysmon.Snapshot {
	return sysmon.Snapshot{AvailableGB: gb, Known: true, Source: "fake"}
}

type fakeReaper struct {
	reaped int
	calls  atomic.Int64
}

func (f *fakeReaper) ReapStale(context.Context) int {
	f.calls.Add(1)
	return f.reaped
}

func TestAdmitsWhenMemoryPlentiful(t *testing.T) {
	t.Parallel()

	reaper := &fakeReaper{}
	c := New(seqMonitor(known(24)), reaper, time.Millisecond, nil)

	report, err := c.Admit(context.Background(), 16)
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if !report.Admitted {
		t.Error("expected admission")
	}
	if report.BeforeGB != 24 {
		t.Errorf("BeforeGB = %v, want 24", report.BeforeGB)
	}
	if reaper.calls.Load() != 0 {
		t.Error("reaper must not run when memory is plentiful")
	}
}

func TestAdmitsWhenUnmonitorable(t *testing.T) {
	t.Parallel()

	c := New(seqMonitor(sysmon.Snapshot{}), &fakeReaper{}, time.Millisecond, nil)

	report, err := c.Admit(context.Background(), 16)
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if !report.Admitted {
		t.Error("unknown memory must admit (fail open)")
	}
	if report.Monitorable {
		t.Error("report should mark host unmonitorable")
	}
}

func TestDeniesWhenNothingReclaimable(t *testing.T) {
	t.Parallel()

	reaper := &fakeReaper{reaped: 0}
	c := New(seqMonitor(known(8)), reaper, time.Millisecond, nil)

	report, err := c.Admit(context.Background(), 16)
	if err == nil {
		t.Fatal("expected denial")
	}
	if !errors.Is(err, apperrors.ErrDenied) {
		t.Errorf("expected ErrDenied, got %v", err)
	}
	if report.Admitted {
		t.Error("report should record refusal")
	}
	if !strings.Contains(err.Error(), "8.0 GB available") {
		t.Errorf("denial should carry the figure, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "16.0 GB required") {
		t.Errorf("denial should carry the minimum, got %q", err.Error())
	}
	if reaper.calls.Load() != 1 {
		t.Error("reaper should have been tried once")
	}
}

func TestAdmitsAfterReclamation(t *testing.T) {
	t.Parallel()

	reaper := &fakeReaper{reaped: 2}
	c := New(seqMonitor(known(8), known(20)), reaper, time.Millisecond, nil)

	report, err := c.Admit(context.Background(), 16)
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if !report.Admitted {
		t.Error("expected admission after reclamation")
	}
	if report.Reclaimed != 2 {
		t.Errorf("Reclaimed = %d, want 2", report.Reclaimed)
	}
	if report.AfterGB != 20 {
		t.Errorf("AfterGB = %v, want 20", report.AfterGB)
	}
}

func TestDeniesWhenReclamationInsufficient(t *testing.T) {
	t.Parallel()

	reaper := &fakeReaper{reaped: 1}
	c := New(seqMonitor(known(8), known(9)), reaper, time.Millisecond, nil)

	report, err := c.Admit(context.Background(), 16)
	if !errors.Is(err, apperrors.ErrDenied) {
		t.Fatalf("expected ErrDenied, got %v", err)
	}
	if !strings.Contains(err.Error(), "9.0 GB available") {
		t.Errorf("denial should carry the post-reclaim figure, got %q", err.Error())
	}
	if report.Reclaimed != 1 {
		t.Errorf("Reclaimed = %d, want 1", report.Reclaimed)
	}
}

func TestAdmitsWhenRecheckUnmonitorable(t *testing.T) {
	t.Parallel()

	reaper := &fakeReaper{reaped: 1}
	c := New(seqMonitor(known(8), sysmon.Snapshot{}), reaper, time.Millisecond, nil)

	report, err := c.Admit(context.Background(), 16)
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if !report.Admitted {
		t.Error("unknown reading after reclamation must admit (fail open)")
	}
}

func TestSettleWaitHonorsCancellation(t *testing.T) {
	t.Parallel()

	reaper := &fakeReaper{reaped: 1}
	c := New(seqMonitor(known(8)), reaper, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Admit(ctx, 16)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Admit did not return after cancellation")
	}
}
