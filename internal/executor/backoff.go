package executor

import (
	"math/rand"
	"time"
)

// backoffDelay computes the delay before attempt (1-indexed), exponential
// with base 250ms, factor 2, and +-20% jitter, per §4.6 step 3. Grounded on
// the teacher's resilience.Retry backoff math (resilience/retry.go),
// generalized from a fixed jitter formula to uniform +-20% as the spec
// requires.
func backoffDelay(attempt int, rng *rand.Rand) time.Duration {
	const base = 250 * time.Millisecond
	const factor = 2.0
	d := float64(base)
	for i := 1; i < attempt; i++ {
		d *= factor
	}
	jitter := (rng.Float64()*2 - 1) * 0.2 * d
	return time.Duration(d + jitter)
}
