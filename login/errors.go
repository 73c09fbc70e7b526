package login

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotRegistered means the requester has no member record on the panel.
	ErrNotRegistered = errors.New("login: discord account not registered")
	// ErrDeliveryForbidden means the requester does not accept direct messages.
	ErrDeliveryForbidden = errors.New("login: direct messages not allowed")
)

// RateLimitedError is returned while the requester's cooldown is running.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("login: rate limited, retry in %ds", e.Seconds())
}

// Seconds is the whole number of seconds left, truncated.
func (e *RateLimitedError) Seconds() int {
	return int(e.RetryAfter / time.Second)
}
