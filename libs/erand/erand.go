package erand

import (
	"crypto/rand"
	"math/big"
	"time"
)

// Int returns a cryptographically secure random number between 0 and max.
func Int(max int) int {
	b, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic(err)
	}
	return int(b.Int64())
}

// Jitter perturbs d by up to plus or minus frac of its value, so that
// retransmission timers across connections do not fire in lockstep.
func Jitter(d time.Duration, frac float64) time.Duration {
	if d <= 0 || frac <= 0 {
		return d
	}
	span := int(float64(d) * frac * 2)
	if span <= 0 {
		return d
	}
	return d - time.Duration(float64(d)*frac) + time.Duration(Int(span))
}
