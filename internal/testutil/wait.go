// Package testutil provides small helpers shared by package tests.
package testutil

import (
	"testing"
	"time"
)

const pollInterval = 20 * time.Millisecond

// Eventually polls cond until it returns true, failing the test when
// timeout passes first.
func Eventually(tb testing.TB, timeout time.Duration, cond func() bool) {
	tb.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(pollInterval)
	}
	tb.Fatalf("condition not met within %s", timeout)
}

// Settled reports whether cond holds continuously for the whole window.
// Used to assert that something does NOT happen.
func Settled(tb testing.TB, window time.Duration, cond func() bool) bool {
	tb.Helper()
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		if !cond() {
			return false
		}
		time.Sleep(pollInterval)
	}
	return cond()
}
