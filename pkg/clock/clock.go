// Package clock provides a time source abstraction so that time-driven logic
// (progress estimation, auto-save gating, completion timing) can be tested
// deterministically. No external dependencies - uses only standard library.
package clock

import (
	"sync"
	"time"
)

// Clock is the time source injected into the tracking engine.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the time elapsed since t.
	Since(t time.Time) time.Duration
}

// ══════════════════════════════════════════════════════════════════════════════
// REAL CLOCK
// ══════════════════════════════════════════════════════════════════════════════

// Real is a Clock backed by the system time.
type Real struct{}

// New returns the system clock.
func New() Real {
	return Real{}
}

// Now returns the current system time in UTC.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Since returns the elapsed system time since t.
func (Real) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// ══════════════════════════════════════════════════════════════════════════════
// FAKE CLOCK (for tests)
// ══════════════════════════════════════════════════════════════════════════════

// Fake is a manually-advanced Clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a Fake clock starting at the given time.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Since returns elapsed fake time since t.
func (f *Fake) Since(t time.Time) time.Duration {
	return f.Now().Sub(t)
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set moves the fake clock to the given time.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}
