package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream unavailable")

func fail() error    { return errUpstream }
func succeed() error { return nil }

func TestNew_ZeroConfigUsesDefaults(t *testing.T) {
	t.Parallel()
	b := New(Config{})

	// Default threshold is 5: four failures must not open the breaker.
	for i := 0; i < 4; i++ {
		_ = b.Do(fail)
	}
	if b.State() != Closed {
		t.Errorf("expected closed after 4 failures, got %s", b.State())
	}

	_ = b.Do(fail)
	if b.State() != Open {
		t.Errorf("expected open after 5 failures, got %s", b.State())
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()
	b := New(Config{Threshold: 3, Cooldown: time.Minute})

	for i := 0; i < 2; i++ {
		if err := b.Do(fail); !errors.Is(err, errUpstream) {
			t.Fatalf("expected upstream error, got %v", err)
		}
	}
	if b.State() != Closed {
		t.Fatal("expected closed before threshold")
	}

	_ = b.Do(fail)
	if b.State() != Open {
		t.Fatalf("expected open after threshold, got %s", b.State())
	}

	// Open breaker fails fast without calling fn.
	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen, got %v", err)
	}
	if called {
		t.Error("fn must not run while the breaker is open")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()
	b := New(Config{Threshold: 3, Cooldown: time.Minute})

	_ = b.Do(fail)
	_ = b.Do(fail)
	_ = b.Do(succeed)
	_ = b.Do(fail)
	_ = b.Do(fail)

	if b.State() != Closed {
		t.Errorf("expected closed, success should reset the count, got %s", b.State())
	}
}

func TestBreaker_ProbeClosesAfterCooldown(t *testing.T) {
	t.Parallel()
	b := New(Config{Threshold: 2, Cooldown: 20 * time.Millisecond})

	_ = b.Do(fail)
	_ = b.Do(fail)
	if b.State() != Open {
		t.Fatal("expected open state")
	}
	if err := b.Do(succeed); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen before cooldown, got %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	if err := b.Do(succeed); err != nil {
		t.Fatalf("probe call failed: %v", err)
	}
	if b.State() != Closed {
		t.Errorf("expected closed after successful probe, got %s", b.State())
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	t.Parallel()
	b := New(Config{Threshold: 2, Cooldown: 20 * time.Millisecond})

	_ = b.Do(fail)
	_ = b.Do(fail)
	time.Sleep(30 * time.Millisecond)

	if err := b.Do(fail); !errors.Is(err, errUpstream) {
		t.Fatalf("expected probe to run, got %v", err)
	}
	if b.State() != Open {
		t.Errorf("expected open after failed probe, got %s", b.State())
	}
}

func TestBreaker_SingleProbeInHalfOpen(t *testing.T) {
	t.Parallel()
	b := New(Config{Threshold: 1, Cooldown: 10 * time.Millisecond})

	_ = b.Do(fail)
	time.Sleep(20 * time.Millisecond)

	probeRunning := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = b.Do(func() error {
			close(probeRunning)
			<-release
			return nil
		})
	}()

	<-probeRunning
	// A second call while the probe is in flight is rejected.
	if err := b.Do(succeed); !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen during probe, got %v", err)
	}
	close(release)
}

func TestBreaker_ManualAllowRecord(t *testing.T) {
	t.Parallel()
	b := New(Config{Threshold: 2, Cooldown: 20 * time.Millisecond})

	if !b.Allow() {
		t.Fatal("fresh breaker must admit calls")
	}
	b.RecordFailure()
	if !b.Allow() {
		t.Fatal("expected admission below threshold")
	}
	b.RecordFailure()

	if b.State() != Open {
		t.Fatalf("expected open after threshold, got %s", b.State())
	}
	if b.Allow() {
		t.Error("open breaker must reject calls")
	}

	time.Sleep(30 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("expected probe admission after cooldown")
	}
	b.RecordSuccess()
	if b.State() != Closed {
		t.Errorf("expected closed after successful probe, got %s", b.State())
	}
}

func TestBreaker_LastError(t *testing.T) {
	t.Parallel()
	b := New(Config{Threshold: 2, Cooldown: time.Minute})

	if b.LastError() != nil {
		t.Error("expected nil LastError on a fresh breaker")
	}
	_ = b.Do(fail)
	if !errors.Is(b.LastError(), errUpstream) {
		t.Errorf("expected upstream error, got %v", b.LastError())
	}
	_ = b.Do(succeed)
	if b.LastError() != nil {
		t.Errorf("expected nil LastError after success, got %v", b.LastError())
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()
	b := New(Config{Threshold: 1, Cooldown: time.Minute})

	_ = b.Do(fail)
	if b.State() != Open {
		t.Fatal("expected open state")
	}

	b.Reset()
	if b.State() != Closed {
		t.Errorf("expected closed after reset, got %s", b.State())
	}
	if b.LastError() != nil {
		t.Errorf("expected nil LastError after reset, got %v", b.LastError())
	}
}

func TestBreaker_StateString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state State
		want  string
	}{
		{Closed, "closed"},
		{Open, "open"},
		{HalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestRegistry_GetCreatesBreakerPerKey(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Config{Threshold: 5, Cooldown: time.Second})

	b1 := r.Get("rest.uniprot.org")
	b2 := r.Get("rest.uniprot.org")
	b3 := r.Get("eutils.ncbi.nlm.nih.gov")

	if b1 != b2 {
		t.Error("expected the same breaker for the same key")
	}
	if b1 == b3 {
		t.Error("expected distinct breakers for distinct keys")
	}
	if got := r.Stats().Total; got != 2 {
		t.Errorf("expected 2 breakers, got %d", got)
	}
}

func TestRegistry_StatsAndStates(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Config{Threshold: 1, Cooldown: time.Minute})

	_ = r.Get("a")
	bad := r.Get("b")
	_ = bad.Do(fail)

	stats := r.Stats()
	if stats.Total != 2 || stats.Open != 1 || stats.Closed != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	states := r.States()
	if states["a"] != "closed" || states["b"] != "open" {
		t.Errorf("unexpected states: %v", states)
	}
}

func TestRegistry_Reset(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Config{Threshold: 1, Cooldown: time.Minute})

	b := r.Get("a")
	_ = b.Do(fail)
	if b.State() != Open {
		t.Fatal("expected open state")
	}

	r.Reset()
	if b.State() != Closed {
		t.Errorf("expected closed after registry reset, got %s", b.State())
	}
}
