package http

import "time"

// rateLimiter caps inbound frames per connection per minute. The window
// resets lazily on the first frame after it expires, so no timer goroutine
// is needed. Only the connection's read loop touches it. A limit of zero
// disables the cap.
type rateLimiter struct {
	limit       int
	count       int
	windowStart time.Time
}

func newRateLimiter(limit int) *rateLimiter {
	return &rateLimiter{limit: limit}
}

func (r *rateLimiter) allow() bool {
	if r.limit <= 0 {
		return true
	}
	now := time.Now()
	if now.Sub(r.windowStart) >= time.Minute {
		r.windowStart = now
		r.count = 0
	}
	r.count++
	return r.count <= r.limit
}
