package stream

import (
	"math"
	"time"
)

// Backoff tracks consecutive connection failures. The zero value is not usable; use NewBackoff.
type Backoff struct {
	base       time.Duration
	max        time.Duration // 0 = no ceiling
	maxRetries int

	retries int
	delay   time.Duration
}

// NewBackoff returns a Backoff whose delay starts at base and doubles on every failure.
// maxDelay <= 0 leaves the delay uncapped; the retry budget alone bounds the loop.
func NewBackoff(base, maxDelay time.Duration, maxRetries int) *Backoff {
	return &Backoff{base: base, max: maxDelay, maxRetries: maxRetries, delay: base}
}

// Reset is called after a successful connection.
func (b *Backoff) Reset() {
	b.retries = 0
	b.delay = b.base
}

// Fail records a failure. It returns the delay to wait before the next attempt,
// or ok=false when the retry budget is spent.
func (b *Backoff) Fail() (delay time.Duration, ok bool) {
	b.retries++
	if b.retries > b.maxRetries {
		return 0, false
	}
	if b.delay > math.MaxInt64/2 {
		b.delay = math.MaxInt64
	} else {
		b.delay *= 2
	}
	if b.max > 0 && b.delay > b.max {
		b.delay = b.max
	}
	return b.delay, true
}

// Retries is the number of consecutive failures since the last reset.
func (b *Backoff) Retries() int { return b.retries }

// Delay is the current wait, equal to base right after a reset.
func (b *Backoff) Delay() time.Duration { return b.delay }
