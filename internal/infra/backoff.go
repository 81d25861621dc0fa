package infra

import (
	"time"
)

// Backoff returns the exponential backoff duration for a given attempt.
// Logic: minWait * 2^(attempt-1), capped at maxWait.
// attempt is 1-based; values below 1 return minWait.
func Backoff(attempt int, minWait, maxWait time.Duration) time.Duration {
	if attempt < 1 {
		return minWait
	}

	// 2^30 seconds is already far beyond any sane maxWait; cap the
	// shift early to avoid overflow.
	shift := attempt - 1
	if shift > 30 {
		return maxWait
	}

	backoff := minWait * time.Duration(1<<shift)

	if backoff > maxWait || backoff < minWait {
		return maxWait
	}

	return backoff
}
