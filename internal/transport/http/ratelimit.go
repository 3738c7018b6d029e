package http

import "golang.org/x/time/rate"

// rateLimiter caps inbound messages on one connection. A nil limiter allows everything.
type rateLimiter struct {
	limiter *rate.Limiter
}

func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &rateLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (r *rateLimiter) allow() bool {
	if r == nil {
		return true
	}
	return r.limiter.Allow()
}
