// Package circuitbreaker guards calls to upstream services.
//
// A breaker tracks consecutive failures per resource and fails fast once
// a threshold is crossed, so a dead upstream degrades a pipeline stage
// instead of stalling it through repeated timeouts.
//
// States:
//   - Closed: normal operation, calls run
//   - Open: failing, calls rejected with ErrOpen until the cooldown passes
//   - HalfOpen: one probe call admitted, its outcome decides the next state
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Do while the breaker is rejecting calls.
var ErrOpen = errors.New("circuit open")

// State represents the state of a circuit breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds breaker tuning. Zero values use defaults.
type Config struct {
	Threshold int           // consecutive failures before opening (default: 5)
	Cooldown  time.Duration // open duration before a probe is admitted (default: 30s)
}

// Breaker guards a single resource.
type Breaker struct {
	mu        sync.Mutex
	state     State
	failures  int
	threshold int
	cooldown  time.Duration
	openedAt  time.Time
	probing   bool
	lastErr   error
}

// New creates a circuit breaker.
func New(cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{
		state:     Closed,
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
	}
}

// Do runs fn if the breaker admits the call and records its outcome.
// While the breaker is open, Do returns ErrOpen without calling fn. In
// half-open state only one call probes the upstream at a time.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

// Allow reports whether a call may proceed right now, admitting the
// probe once an open breaker's cooldown has passed. Every true result
// must be paired with exactly one RecordSuccess or RecordFailure.
// Callers that can treat rejection as an ordinary error should prefer
// Do.
func (b *Breaker) Allow() bool {
	return b.admit() == nil
}

// RecordSuccess reports a successful call admitted via Allow.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	b.state = Closed
	b.failures = 0
	b.lastErr = nil
}

// RecordFailure reports a failed call admitted via Allow.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failTransition()
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if time.Since(b.openedAt) < b.cooldown {
			return ErrOpen
		}
		b.state = HalfOpen
		b.probing = true
		return nil
	case HalfOpen:
		if b.probing {
			return ErrOpen
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

func (b *Breaker) record(err error) {
	if err == nil {
		b.RecordSuccess()
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastErr = err
	b.failTransition()
}

// failTransition advances the failure accounting. Caller holds mu.
func (b *Breaker) failTransition() {
	b.probing = false
	b.failures++
	if b.state == HalfOpen || b.failures >= b.threshold {
		b.state = Open
		b.openedAt = time.Now()
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// LastError returns the error that most recently tripped or advanced the
// failure count, nil after a success.
func (b *Breaker) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// Reset returns the breaker to closed with no recorded failures.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.probing = false
	b.lastErr = nil
}
