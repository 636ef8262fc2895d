package testutil

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestEventuallyImmediate(t *testing.T) {
	t.Parallel()
	Eventually(t, time.Second, func() bool { return true })
}

func TestEventuallyAfterAFewPolls(t *testing.T) {
	t.Parallel()
	var n atomic.Int64
	Eventually(t, time.Second, func() bool {
		return n.Add(1) >= 3
	})
	if n.Load() < 3 {
		t.Errorf("condition checked %d times, expected at least 3", n.Load())
	}
}

func TestSettledHolds(t *testing.T) {
	t.Parallel()
	if !Settled(t, 100*time.Millisecond, func() bool { return true }) {
		t.Error("expected a constant condition to settle")
	}
}

func TestSettledDetectsFlip(t *testing.T) {
	t.Parallel()
	var n atomic.Int64
	ok := Settled(t, 500*time.Millisecond, func() bool {
		return n.Add(1) < 3
	})
	if ok {
		t.Error("expected the flip to be caught")
	}
}
