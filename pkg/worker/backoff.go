package worker

import (
	"math/rand"
	"time"
)

// Backoff returns the retry delay before the next attempt: exponential
// doubling from base, capped, with jitter of ±jitterFraction to spread
// retries of many intents apart.
//
// attempt is the number of attempts already made (>= 1).
func Backoff(base, cap time.Duration, attempt int, jitterFraction float64) time.Duration {
	if base <= 0 {
		base = 30 * time.Second
	}
	if cap <= 0 {
		cap = 10 * time.Minute
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cap {
			delay = cap
			break
		}
	}
	if delay > cap {
		delay = cap
	}

	if jitterFraction > 0 {
		spread := float64(delay) * jitterFraction
		delay += time.Duration((rand.Float64()*2 - 1) * spread)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}
