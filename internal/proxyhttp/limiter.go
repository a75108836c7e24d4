package proxyhttp

import (
	"golang.org/x/time/rate"
)

// ConcurrencyLimiter bounds the number of requests admitted into the
// handler pipeline at once, backed by a token bucket with no refill rate
// rather than a bare counter: TryAcquire consumes a token, and the
// returned release func gives it back via Cancel, restoring it
// immediately instead of waiting for a refill tick.
type ConcurrencyLimiter struct {
	limiter *rate.Limiter
}

// NewConcurrencyLimiter constructs a limiter admitting at most max
// concurrent requests. max <= 0 disables the ceiling (always admits).
func NewConcurrencyLimiter(max int) *ConcurrencyLimiter {
	if max <= 0 {
		return &ConcurrencyLimiter{}
	}
	return &ConcurrencyLimiter{limiter: rate.NewLimiter(0, max)}
}

// TryAcquire attempts to reserve one concurrency slot. On success it
// returns a release func that must be called exactly once when the
// request finishes; on failure (ceiling reached) it returns ok=false and
// the caller must reject the request without calling anything.
func (c *ConcurrencyLimiter) TryAcquire() (release func(), ok bool) {
	if c.limiter == nil {
		return func() {}, true
	}
	r := c.limiter.Reserve()
	if !r.OK() || r.Delay() > 0 {
		r.Cancel()
		return nil, false
	}
	return func() { r.Cancel() }, true
}
