// Package backoff provides exponential retry delays for upstream calls.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy describes an exponential delay schedule. Zero values use defaults.
type Policy struct {
	Initial time.Duration // delay before the second attempt (default: 500ms)
	Max     time.Duration // cap on any single delay (default: 10s)
	Jitter  float64       // fraction of each delay randomized away, 0..1
}

// Duration returns the delay to wait after a failed attempt. Attempt 1
// returns Initial, each further attempt doubles, capped at Max.
func (p Policy) Duration(attempt int) time.Duration {
	initial := 500 * time.Millisecond
	limit := 10 * time.Second
	if p.Initial > 0 {
		initial = p.Initial
	}
	if p.Max > 0 {
		limit = p.Max
	}

	if attempt < 1 {
		attempt = 1
	}
	d := float64(initial) * math.Pow(2, float64(attempt-1))
	if d > float64(limit) {
		d = float64(limit)
	}
	if p.Jitter > 0 {
		j := p.Jitter
		if j > 1 {
			j = 1
		}
		d -= rand.Float64() * j * d
	}
	return time.Duration(d)
}

// Sleep waits for d or until the context is cancelled, returning the
// context error in the latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
