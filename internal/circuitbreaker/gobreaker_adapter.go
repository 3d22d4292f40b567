// Package circuitbreaker wraps sony/gobreaker for the token endpoints. An
// identity provider that starts failing trips the breaker, which stops the
// manager from hammering it with retries while it recovers.
package circuitbreaker

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"dicomweb-oauth-proxy/internal/common/errors"
	"dicomweb-oauth-proxy/internal/common/logging"
)

// Config controls breaker behavior for a single token endpoint.
type Config struct {
	Name        string
	MaxRequests uint32        // requests allowed through while half-open
	Interval    time.Duration // closed-state counter reset interval
	Timeout     time.Duration // how long the breaker stays open
	// MinRequests and FailureRatio together decide when to trip.
	MinRequests  uint32
	FailureRatio float64
}

// TokenEndpointConfig returns breaker settings tuned for OAuth2 token
// endpoints: trip after a majority of recent exchanges fail, stay open for
// half a minute, then probe with a single request.
func TokenEndpointConfig(name string) Config {
	return Config{
		Name:         name,
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  3,
		FailureRatio: 0.6,
	}
}

// Breaker is a circuit breaker around an identity provider.
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	logger logging.Logger
}

// New creates a Breaker from cfg.
func New(cfg Config, logger logging.Logger) *Breaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state change",
				logging.String("breaker", name),
				logging.String("from", from.String()),
				logging.String("to", to.String()),
			)
		},
	}

	return &Breaker{
		cb:     gobreaker.NewCircuitBreaker(settings),
		logger: logger,
	}
}

// Execute runs fn through the breaker. When the breaker is open the call is
// rejected immediately with a transport-class error, which the caller's retry
// policy treats like any other unreachable endpoint.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, errors.TransportError("circuit breaker open for "+b.cb.Name(), err)
	}
	return result, err
}

// State reports the breaker's current state as a string for status endpoints.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Counts exposes the breaker's request counters.
func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}
