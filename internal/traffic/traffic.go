// Package traffic keeps a sliding window of request outcomes. The health
// handler reads it to decide between healthy, degraded and overloaded.
package traffic

import (
	"sync"
	"time"
)

// Outcome classifies a finished request.
type Outcome int

const (
	// Success is a search or suggestion lookup answered without an upstream failure.
	// A "city not found" answer counts as a success: upstream worked.
	Success Outcome = iota
	// Failure is an upstream error, timeout or open circuit.
	Failure
	// Denied is a request rejected by the rate limiter.
	Denied
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}

// DefaultMaxAge bounds how long outcomes are retained.
const DefaultMaxAge = 5 * time.Minute

var defaultTracker = NewTracker(DefaultMaxAge)

// Record adds an outcome to the process-wide tracker.
func Record(o Outcome) {
	defaultTracker.Record(o)
}

// Snapshot counts process-wide outcomes within window.
func Snapshot(window time.Duration) Counts {
	return defaultTracker.Snapshot(window)
}

// Reset clears the process-wide tracker. For tests only.
func Reset() {
	defaultTracker.Reset()
}

// Counts is the number of each outcome inside a window.
type Counts struct {
	Successes int
	Failures  int
	Denied    int
}

// Total includes denials.
func (c Counts) Total() int {
	return c.Successes + c.Failures + c.Denied
}

// ErrorPct is failures as a percentage of served requests (denials excluded).
// It is 0 when nothing was served.
func (c Counts) ErrorPct() float64 {
	served := c.Successes + c.Failures
	if served == 0 {
		return 0
	}
	return float64(c.Failures) * 100 / float64(served)
}

// DeniedPct is denials as a percentage of all requests.
func (c Counts) DeniedPct() float64 {
	total := c.Total()
	if total == 0 {
		return 0
	}
	return float64(c.Denied) * 100 / float64(total)
}

// Tracker maintains per-outcome timestamp slices, oldest first.
type Tracker struct {
	mu     sync.Mutex
	maxAge time.Duration
	times  [3][]time.Time
	now    func() time.Time
}

// NewTracker returns a tracker that forgets outcomes older than maxAge.
func NewTracker(maxAge time.Duration) *Tracker {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Tracker{maxAge: maxAge, now: time.Now}
}

// Record appends an outcome stamped with the current time.
func (t *Tracker) Record(o Outcome) {
	if o < Success || o > Denied {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.times[o] = append(t.times[o], now)
	t.pruneLocked(now)
}

// Snapshot counts outcomes not older than window.
func (t *Tracker) Snapshot(window time.Duration) Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	return Counts{
		Successes: countSince(t.times[Success], cutoff),
		Failures:  countSince(t.times[Failure], cutoff),
		Denied:    countSince(t.times[Denied], cutoff),
	}
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.times {
		t.times[i] = nil
	}
}

// countSince relies on times being sorted ascending.
func countSince(times []time.Time, cutoff time.Time) int {
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	return len(times) - i
}

// pruneLocked drops entries older than maxAge. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.maxAge)
	for o, times := range t.times {
		i := 0
		for i < len(times) && times[i].Before(cutoff) {
			i++
		}
		if i > 0 {
			t.times[o] = append(times[:0], times[i:]...)
		}
	}
}
