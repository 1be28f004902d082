package pipeline

import (
	"errors"
	"math/rand/v2"
	"time"

	"github.com/dgallion1/rtfbridge/internal/failure"
)

// MaxRetries bounds resubmission of work the engine refused.
const MaxRetries = 3

// IsRetryable reports whether err is backpressure, the only failure that
// can go away by itself. A closed engine stays closed.
func IsRetryable(err error) bool {
	return errors.Is(err, failure.ErrOverload) && failure.CodeOf(err) == failure.CodeQueueFull
}

// Backoff returns the wait before attempt n (0-indexed), with jitter.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * 25 * time.Millisecond
	if base > time.Second {
		base = time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}
