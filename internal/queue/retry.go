package queue

import (
	"math/rand"
	"time"
)

const (
	// DefaultRetryDelay is the base delay before a failed batch is retried.
	DefaultRetryDelay = 5 * time.Second

	// JitterFactor is the ±percentage of jitter applied to retry delays.
	JitterFactor = 0.2 // ±20%
)

// RetryDelayWithJitter applies ±20% jitter to the base retry delay so a
// fleet of agents recovering from the same outage does not retry in
// lockstep.
func RetryDelayWithJitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = DefaultRetryDelay
	}

	jitterRange := float64(base) * JitterFactor
	jitter := (rand.Float64()*2 - 1) * jitterRange // -20% to +20%

	return time.Duration(float64(base) + jitter)
}
