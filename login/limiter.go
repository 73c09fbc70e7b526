package login

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// pruneThreshold is the bucket count above which full buckets are dropped.
const pruneThreshold = 1024

// Limiter is a per-user token bucket with capacity 1. A user may take one
// token per period; the bucket for a user that has fully refilled is
// indistinguishable from a fresh one and may be pruned.
type Limiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	buckets map[string]*rate.Limiter
}

// NewLimiter returns a Limiter that allows one request per period per user.
func NewLimiter(period time.Duration) *Limiter {
	return &Limiter{limit: rate.Every(period), buckets: make(map[string]*rate.Limiter)}
}

// Take consumes the user's token at now. When the bucket is empty it reports
// ok=false and how long until the next token.
func (l *Limiter) Take(userID string, now time.Time) (ok bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, found := l.buckets[userID]
	if !found {
		if len(l.buckets) >= pruneThreshold {
			l.prune(now)
		}
		b = rate.NewLimiter(l.limit, 1)
		l.buckets[userID] = b
	}
	if b.AllowN(now, 1) {
		return true, 0
	}
	missing := 1 - b.TokensAt(now)
	secs := missing / float64(l.limit)
	return false, time.Duration(secs * float64(time.Second)).Round(time.Millisecond)
}

func (l *Limiter) prune(now time.Time) {
	for id, b := range l.buckets {
		if b.TokensAt(now) >= 1 {
			delete(l.buckets, id)
		}
	}
}

// Len reports how many users currently hold a bucket.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
