package stt

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds how often a failed transcription re-opens capture.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

// Next reports the delay before retry number attempt (1-based) and whether
// the retry is allowed.
func (p RetryPolicy) Next(attempt int) (time.Duration, bool) {
	if attempt < 1 || attempt > p.MaxAttempts {
		return 0, false
	}
	if p.Backoff == nil {
		return 0, true
	}
	return p.Backoff(attempt), true
}

// ExponentialBackoff returns a deterministic exponential delay schedule.
func ExponentialBackoff(initial, max time.Duration, multiplier float64) func(int) time.Duration {
	if multiplier < 1 {
		multiplier = 1
	}
	return func(attempt int) time.Duration {
		b := &backoff.ExponentialBackOff{
			InitialInterval:     initial,
			RandomizationFactor: 0,
			Multiplier:          multiplier,
			MaxInterval:         max,
		}
		b.Reset()
		delay := b.NextBackOff()
		for i := 1; i < attempt; i++ {
			delay = b.NextBackOff()
		}
		return delay
	}
}
