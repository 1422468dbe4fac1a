package router

import (
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket is the per-session inbound rate limiter (spec §4.5 "Rate
// limiting"), a thin wrapper over golang.org/x/time/rate.Limiter. A zero
// Hz means unlimited, matching max_messages_per_second == 0 (spec §6).
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket builds a bucket allowing hz messages/second with a burst
// equal to hz (one second's worth of headroom). hz == 0 disables limiting.
func NewTokenBucket(hz uint32) *TokenBucket {
	if hz == 0 {
		return &TokenBucket{}
	}
	burst := int(hz)
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(hz), burst)}
}

// Allow reports whether a message may be accepted right now, consuming a
// token on success. Always true when the bucket is unlimited.
func (b *TokenBucket) Allow() bool {
	if b == nil || b.limiter == nil {
		return true
	}
	return b.limiter.Allow()
}

// warnEvery is how often a rate-limit warning may be re-emitted for a
// session (spec §4.5: "at most once per second per session").
const warnEvery = time.Second
