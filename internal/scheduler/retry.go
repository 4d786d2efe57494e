package scheduler

import (
	"math"
	"math/rand"
	"time"
)

// backoffDelay computes the wait before retry attempt failureCount (1-based):
// exponential in the failure count, capped, plus 10-30% of the uncapped value
// as jitter so synchronized failures fan out.
func backoffDelay(failureCount int, baseSeconds, maxSeconds float64, rng *rand.Rand) time.Duration {
	if failureCount < 1 {
		failureCount = 1
	}
	raw := baseSeconds * math.Pow(2, float64(failureCount-1))
	capped := math.Min(raw, maxSeconds)
	jitter := (0.1 + 0.2*rng.Float64()) * raw
	return time.Duration((capped + jitter) * float64(time.Second))
}
