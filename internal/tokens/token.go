// Package tokens implements the per-server OAuth2 token lifecycle: caching,
// freshness decisions, single-flight acquisition, and retry with exponential
// backoff. One Manager exists per configured DICOMweb server; managers share
// no state, so callers for different servers never contend.
package tokens

import (
	"context"
	"time"
)

// Token is an acquired bearer token with its absolute expiry. The zero value
// means no token has been acquired yet.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Present reports whether a token has been acquired at all.
func (t Token) Present() bool {
	return t.Value != ""
}

// Fresh reports whether the token is usable without re-acquisition: a value
// is present and now plus the refresh buffer is still before expiry. The
// buffer keeps a token from expiring mid-request after it has been attached.
func (t Token) Fresh(now time.Time, refreshBuffer time.Duration) bool {
	return t.Present() && now.Add(refreshBuffer).Before(t.ExpiresAt)
}

// Expired reports whether the token is past its hard expiry, ignoring the
// refresh buffer.
func (t Token) Expired(now time.Time) bool {
	return !t.Present() || !now.Before(t.ExpiresAt)
}

// Grant is a successful token-endpoint response. ExpiresIn is zero when the
// provider omitted expires_in; the Manager substitutes its configured
// fallback lifetime.
type Grant struct {
	AccessToken string
	ExpiresIn   time.Duration
}

// Provider performs one token exchange against an identity provider. It
// classifies failures: transport errors are retryable, rejections (non-2xx)
// and protocol errors (unusable 2xx body) are not. Implementations must
// redact client secrets from anything they attach to an error.
type Provider interface {
	Name() string
	Acquire(ctx context.Context) (*Grant, error)
}
