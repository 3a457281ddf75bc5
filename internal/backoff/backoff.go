// Package backoff computes retry delays for failed generation attempts.
// The policy is deterministic and stateless so it can be tested in isolation
// and shared between workers.
package backoff

import (
	"math"
	"time"
)

// Policy computes the delay before re-dispatching a retried job.
// Delay grows as Base^retryCount seconds, capped at Max.
type Policy struct {
	Base int
	Max  time.Duration
}

// Default returns the policy used when no configuration overrides it:
// base 2 capped at 10 minutes.
func Default() Policy {
	return Policy{Base: 2, Max: 600 * time.Second}
}

// Delay returns the wait before retry attempt retryCount. The first retry
// after one failure uses retryCount = 1.
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	base := float64(p.Base)
	if base < 1 {
		base = 1
	}
	d := time.Duration(math.Pow(base, float64(retryCount))) * time.Second
	if p.Max > 0 && (d > p.Max || d <= 0) {
		return p.Max
	}
	return d
}
