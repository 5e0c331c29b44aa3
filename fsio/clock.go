package fsio

import "time"

// SystemClock implements Clock using the host wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock implements Clock with a constant time, for deterministic tests.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }
