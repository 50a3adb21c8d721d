package gate

import "time"

// Clock is injected everywhere the gate compares against "now", so tests
// can drive timestamp freshness and token expiry deterministically.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock returns a Clock backed by the wall clock.
func RealClock() Clock { return realClock{} }

// FixedClock is a Clock that always returns the same instant, useful in
// tests that need exact control over "now".
type FixedClock struct {
	At time.Time
}

func (f FixedClock) Now() time.Time { return f.At }
