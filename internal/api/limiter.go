package api

import (
	"sync"

	"tablesync/internal/config"

	"golang.org/x/time/rate"
)

// rateLimiter hands out one token bucket per client key.
type rateLimiter struct {
	limiters sync.Map
	limit    rate.Limit
	burst    int
}

func newRateLimiter(cfg *config.APIConfig) *rateLimiter {
	burst := cfg.RateLimit.Burst
	if burst <= 0 {
		burst = 5
	}
	return &rateLimiter{
		limit: rate.Limit(cfg.RateLimit.RPS),
		burst: burst,
	}
}

func (l *rateLimiter) getLimiter(key string) *rate.Limiter {
	if v, ok := l.limiters.Load(key); ok {
		return v.(*rate.Limiter)
	}
	actual, _ := l.limiters.LoadOrStore(key, rate.NewLimiter(l.limit, l.burst))
	return actual.(*rate.Limiter)
}
