// Package ratelimit throttles calls per key with in-process token buckets.
// The proxy mounts it as HTTP middleware, bucketed by client IP, so a
// misbehaving client cannot turn into a credential-stuffing storm at the
// identity provider via the test and proxy endpoints.
package ratelimit

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Config struct {
	RequestsPerMinute int  `json:"requests_per_minute"`
	Burst             int  `json:"burst"`
	Enabled           bool `json:"enabled"`
}

func DefaultConfig() *Config {
	return &Config{
		RequestsPerMinute: 60,
		Burst:             10,
		Enabled:           true,
	}
}

// Limiter keeps an independent token bucket per key.
type Limiter struct {
	config *Config

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewLimiter(config *Config) *Limiter {
	if config == nil {
		config = DefaultConfig()
	}
	return &Limiter{
		config:  config,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Limit(float64(l.config.RequestsPerMinute)/60.0), l.config.Burst)
		l.buckets[key] = b
	}
	return b
}

// Allow reports whether the call identified by key may proceed now.
func (l *Limiter) Allow(key string) bool {
	if !l.config.Enabled {
		return true
	}
	return l.bucket(key).Allow()
}

// Remaining estimates the tokens left in key's bucket, for response headers.
func (l *Limiter) Remaining(key string) int {
	tokens := int(l.bucket(key).Tokens())
	if tokens < 0 {
		return 0
	}
	return tokens
}

// HTTPMiddleware applies the limiter per request using keyFunc. Requests over
// the limit get a 429 with a Retry-After hint.
func (l *Limiter) HTTPMiddleware(keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.config.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed := l.Allow(key)

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", l.config.RequestsPerMinute))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", l.Remaining(key)))

			if !allowed {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(time.Minute.Seconds())))
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IPBasedKey buckets requests by client address.
func IPBasedKey(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.Header.Get("X-Real-IP")
	}
	if ip == "" {
		ip = r.RemoteAddr
	}
	return fmt.Sprintf("ip:%s", ip)
}
