package client

import (
	"math/rand"
	"time"
)

// backoff is swappable in tests to avoid multi-second sleeps.
var backoff = backoffDelay

// backoffDelay computes the delay before retry attempt n (n >= 1):
// 2^n seconds plus up to one second of jitter. The jitter spreads out
// retries from clients that failed at the same moment.
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	base := time.Duration(1<<uint(attempt)) * time.Second
	jitter := time.Duration(rand.Int63n(int64(time.Second)))
	return base + jitter
}
