package agentclient

import "time"

// Clock is injected everywhere the Agent compares against "now" — cached
// token validity and the signed auth timestamp — so tests can drive it
// deterministically. See WithClock.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// FixedClock is a Clock that always returns the same instant.
type FixedClock struct{ At time.Time }

func (f FixedClock) Now() time.Time { return f.At }
