// Package ratelimit throttles outbound data channel sends.
package ratelimit

import "time"

// Clock returns the current time. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
}

// RealClock reads the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
