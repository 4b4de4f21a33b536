package state

import "time"

// Clock abstracts timer scheduling so retry logic is testable without
// wall-clock delays.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the Clock used outside tests.
type SystemClock struct{}

// After waits for the duration to elapse.
func (SystemClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// RetryPolicy is a bounded retry policy with capped exponential backoff.
// Attempt numbers are 1-based.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Delay returns the wait before the given attempt. The first attempt
// has no delay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := p.BaseDelay
	for i := 2; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Exhausted reports whether the attempt counter has hit the ceiling.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
