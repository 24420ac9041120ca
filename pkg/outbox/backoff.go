package outbox

import (
	"encoding/binary"
	"hash/fnv"
	"time"
)

// Backoff returns the delay before the given attempt number (1-based):
// base * 2^(attempt-1), capped at max, with symmetric jitter of up to
// jitterRatio. The jitter is a deterministic PRF over the seed so retry
// schedules are reproducible in tests and across worker restarts.
func Backoff(attempt int, base, max time.Duration, jitterRatio float64, seed string) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	if d > max {
		d = max
	}
	if jitterRatio <= 0 {
		return d
	}
	if jitterRatio > 1 {
		jitterRatio = 1
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(seed))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(attempt))
	_, _ = h.Write(buf[:])

	// Map the hash to [-1, +1) and scale by the jitter ratio.
	frac := float64(h.Sum64()%2000)/1000.0 - 1.0
	jitter := time.Duration(float64(d) * jitterRatio * frac)
	return d + jitter
}
