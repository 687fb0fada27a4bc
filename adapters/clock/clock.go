// Package clock provides Clock implementations.
package clock

import (
	"sync"
	"time"

	"github.com/stratakit/strata/ports"
)

// System uses the real system time.
type System struct{}

// Now returns the current time.
func (System) Now() time.Time {
	return time.Now()
}

// Ensure interface compliance.
var _ ports.Clock = System{}

// Fake is a controllable clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a fake clock starting at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake clock forward.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set replaces the fake current time.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

// Ensure interface compliance.
var _ ports.Clock = (*Fake)(nil)
