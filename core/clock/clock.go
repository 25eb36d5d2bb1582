// Package clock provides the monotonic millisecond clock abstraction used
// for neighbor, route, and dedup-set expiry comparisons.
package clock

import (
	"sync"
	"time"
)

// Clock returns milliseconds since an arbitrary epoch, monotonically
// non-decreasing from the perspective of callers. Comparisons against a
// stored deadline must use unsigned subtraction (now - last >= T) so that
// uint32 wraparound after ~49 days is handled transparently.
type Clock interface {
	NowMillis() uint32
}

// System is a Clock backed by the real monotonic system clock.
type System struct{}

// NewSystem creates a Clock backed by time.Now().
func NewSystem() *System {
	return &System{}
}

// NowMillis returns the current monotonic time in milliseconds, truncated
// to uint32. Callers compare deadlines with unsigned subtraction, so the
// truncation is harmless as long as no single deadline is ever more than
// ~49 days in the future.
func (s *System) NowMillis() uint32 {
	return uint32(time.Now().UnixMilli())
}

// Manual is a Clock whose value is set explicitly, for deterministic
// tests of the route/neighbor expiry and dedup-window logic.
type Manual struct {
	mu  sync.Mutex
	now uint32
}

// NewManual creates a Manual clock starting at the given value.
func NewManual(start uint32) *Manual {
	return &Manual{now: start}
}

// NowMillis returns the current manual time.
func (m *Manual) NowMillis() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set overrides the manual clock's current value.
func (m *Manual) Set(t uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// Advance moves the manual clock forward by delta milliseconds.
func (m *Manual) Advance(delta uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += delta
}

// Elapsed reports whether at least d milliseconds have passed since mark,
// using unsigned subtraction so a wraparound of the underlying counter
// never looks like elapsed time running backward.
func Elapsed(now, mark uint32, d uint32) bool {
	return now-mark >= d
}
