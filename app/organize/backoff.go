package organize

import (
	"math/rand"
	"time"
)

const (
	backoffBase = 30 * time.Second
	backoffCap  = time.Hour
)

// Backoff returns the delay before the next topic creation retry:
// 30s doubled per prior attempt, capped at one hour, with up to 20%
// jitter in either direction.
func Backoff(retryCount int) time.Duration {
	d := backoffBase << uint(retryCount)
	if d <= 0 || d > backoffCap {
		d = backoffCap
	}

	jitter := time.Duration(rand.Int63n(int64(d) / 5))
	if rand.Intn(2) == 0 {
		return d - jitter
	}

	return d + jitter
}
