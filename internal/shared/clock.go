package shared

import "time"

// Clock abstracts the time operations used for backoff and throttling
// so tests can run without sleeping.
type Clock interface {
	Now() time.Time
	// After returns a channel that fires once d has elapsed. d <= 0 fires immediately.
	After(d time.Duration) <-chan time.Time
}

// RealClock is the wall-clock [Clock].
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
