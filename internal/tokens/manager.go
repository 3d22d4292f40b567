package tokens

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"dicomweb-oauth-proxy/internal/cache"
	"dicomweb-oauth-proxy/internal/circuitbreaker"
	"dicomweb-oauth-proxy/internal/common/errors"
	"dicomweb-oauth-proxy/internal/common/logging"
	"dicomweb-oauth-proxy/internal/jwtvalidator"
	"dicomweb-oauth-proxy/internal/metrics"
)

// Config carries the lifecycle policy for one server's Manager.
type Config struct {
	ServerName string

	// RefreshBuffer is subtracted from a token's lifetime when deciding
	// freshness.
	RefreshBuffer time.Duration
	// ExpiryFallback is the assumed lifetime when the provider omits
	// expires_in.
	ExpiryFallback time.Duration

	MaxRetries     int
	RetryBaseDelay time.Duration

	// ServeStaleOnFailure returns the last cached token on acquisition
	// failure as long as it is not hard-expired. Off by default: a token
	// past its buffer may be rejected upstream, and failing fast surfaces
	// provider outages instead of masking them.
	ServeStaleOnFailure bool
}

// Locker serializes token refresh across proxy instances sharing one Redis.
// Best-effort: a lock error or a held lock never prevents this instance from
// acquiring on its own.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

const (
	// refreshLockTTL bounds how long a crashed instance can hold the
	// cross-instance refresh lock.
	refreshLockTTL = 30 * time.Second

	// How long a caller waits for a peer's token to land in the shared
	// cache before acquiring anyway.
	lockWaitInterval = 500 * time.Millisecond
	lockWaitAttempts = 4
)

// Manager owns a single server's token lifecycle and exposes one operation,
// GetToken. At most one acquisition runs per server at any time: callers that
// arrive during an in-flight exchange block on the lock and then observe the
// freshly stored token without a second network call.
type Manager struct {
	cfg      Config
	provider Provider
	store    Store
	mu       sync.Mutex

	logger    logging.Logger
	breaker   *circuitbreaker.Breaker
	shared    cache.Backend
	locker    Locker
	validator *jwtvalidator.Validator
	metrics   *metrics.Metrics

	// now and sleep are injectable for deterministic tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures optional Manager collaborators.
type Option func(*Manager)

// WithBreaker guards the provider exchange with a circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(m *Manager) { m.breaker = b }
}

// WithSharedCache adds a write-through shared token cache, letting other
// proxy instances reuse this instance's tokens.
func WithSharedCache(backend cache.Backend) Option {
	return func(m *Manager) { m.shared = backend }
}

// WithLocker suppresses duplicate acquisitions across proxy instances: the
// refresh lock is taken before the exchange, and a caller that loses the race
// waits briefly for the winner's token to appear in the shared cache.
func WithLocker(l Locker) Option {
	return func(m *Manager) { m.locker = l }
}

// WithValidator verifies acquired tokens before they are stored.
func WithValidator(v *jwtvalidator.Validator) Option {
	return func(m *Manager) { m.validator = v }
}

// WithMetrics records acquisition outcomes, retries, and cache activity.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// WithClock overrides the time source. Tests use it to step through expiry
// windows without sleeping.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithSleeper overrides the backoff wait.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) { m.sleep = sleep }
}

// NewManager creates a Manager for one server.
func NewManager(cfg Config, provider Provider, logger logging.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		provider: provider,
		logger:   logger.WithFields(logging.String("server_name", cfg.ServerName)),
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// GetToken returns a bearer token that is fresh at the moment of return, or a
// typed failure. The total blocking time is bounded by
// MaxRetries x (request timeout + backoff delay).
func (m *Manager) GetToken(ctx context.Context) (string, error) {
	// Fast path: no lock held.
	if value, ok := m.store.ReadIfFresh(m.now(), m.cfg.RefreshBuffer); ok {
		m.recordCacheHit()
		return value, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-checked: another caller may have refreshed while this one
	// waited for the lock.
	if value, ok := m.store.ReadIfFresh(m.now(), m.cfg.RefreshBuffer); ok {
		m.recordCacheHit()
		return value, nil
	}

	// A sibling proxy instance may have refreshed via the shared cache.
	if value, ok := m.readShared(ctx); ok {
		m.recordCacheHit()
		return value, nil
	}

	m.recordCacheMiss()

	if release, ok := m.tryLock(ctx); ok {
		defer release()
	} else {
		// Another instance holds the refresh lock. Wait briefly for its
		// token to land in the shared cache before acquiring anyway.
		if value, ok := m.awaitShared(ctx); ok {
			return value, nil
		}
	}
	return m.acquire(ctx)
}

// tryLock takes the cross-instance refresh lock. The second return is false
// only when a peer verifiably holds the lock; lock errors fall through to a
// local acquisition.
func (m *Manager) tryLock(ctx context.Context) (func(), bool) {
	if m.locker == nil {
		return func() {}, true
	}

	acquired, err := m.locker.AcquireLock(ctx, m.lockKey(), refreshLockTTL)
	if err != nil {
		m.logger.Warn("refresh lock unavailable", logging.Err(err))
		return func() {}, true
	}
	if !acquired {
		return nil, false
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.locker.ReleaseLock(ctx, m.lockKey()); err != nil {
			m.logger.Warn("refresh lock release failed", logging.Err(err))
		}
	}, true
}

// awaitShared polls the shared cache for the lock holder's token.
func (m *Manager) awaitShared(ctx context.Context) (string, bool) {
	for i := 0; i < lockWaitAttempts; i++ {
		if err := m.sleep(ctx, lockWaitInterval); err != nil {
			return "", false
		}
		if value, ok := m.readShared(ctx); ok {
			return value, true
		}
	}
	return "", false
}

func (m *Manager) lockKey() string {
	return "refresh:" + m.cfg.ServerName
}

// acquire runs the exchange with retry and backoff. Caller holds m.mu.
func (m *Manager) acquire(ctx context.Context) (string, error) {
	started := m.now()

	var lastErr error
	for attempt := 0; attempt < m.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			// base x 2^(n-1) before attempt n+1, deterministic.
			delay := m.cfg.RetryBaseDelay << (attempt - 1)
			m.logger.Warn("token exchange failed, retrying",
				logging.Int("attempt", attempt),
				logging.Duration("backoff", delay),
				logging.Err(lastErr),
			)
			m.recordRetry()
			if err := m.sleep(ctx, delay); err != nil {
				return m.fail(started, errors.TransportError("acquisition cancelled", err))
			}
		}

		grant, err := m.exchange(ctx)
		if err == nil {
			return m.succeed(started, grant)
		}

		if !errors.Retryable(err) {
			m.logger.Error("token exchange rejected", err,
				logging.String("error_type", string(errors.GetType(err))))
			return m.fail(started, err)
		}
		lastErr = err
	}

	m.logger.Error("token acquisition exhausted", lastErr,
		logging.Int("attempts", m.cfg.MaxRetries))
	return m.fail(started, errors.ExhaustionError(m.cfg.MaxRetries, lastErr))
}

func (m *Manager) exchange(ctx context.Context) (*Grant, error) {
	defer m.recordBreakerState()

	if m.breaker == nil {
		return m.provider.Acquire(ctx)
	}
	result, err := m.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return m.provider.Acquire(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Grant), nil
}

// succeed validates, stores, and publishes a freshly granted token. Caller
// holds m.mu.
func (m *Manager) succeed(started time.Time, grant *Grant) (string, error) {
	if m.validator != nil {
		if err := m.validator.Validate(grant.AccessToken); err != nil {
			return m.fail(started, err)
		}
	}

	lifetime := grant.ExpiresIn
	if lifetime <= 0 {
		lifetime = m.cfg.ExpiryFallback
	}

	now := m.now()
	expiresAt := now.Add(lifetime)
	m.store.Put(grant.AccessToken, expiresAt)
	m.writeShared(grant.AccessToken, expiresAt)

	m.logger.Info("token acquired",
		logging.Time("expires_at", expiresAt),
		logging.Duration("lifetime", lifetime),
	)
	if m.metrics != nil {
		m.metrics.RecordAcquisition(m.cfg.ServerName, "success", now.Sub(started))
	}
	return grant.AccessToken, nil
}

// fail records the failure and applies the stale-fallback policy. A failed
// acquisition never mutates the store. Caller holds m.mu.
func (m *Manager) fail(started time.Time, err error) (string, error) {
	if m.metrics != nil {
		m.metrics.RecordAcquisition(m.cfg.ServerName, "failure", m.now().Sub(started))
	}

	if m.cfg.ServeStaleOnFailure {
		if token := m.store.Snapshot(); token.Present() && !token.Expired(m.now()) {
			m.logger.Warn("serving stale token after acquisition failure",
				logging.Time("expires_at", token.ExpiresAt),
				logging.Err(err),
			)
			return token.Value, nil
		}
	}
	return "", err
}

// sharedEntry is the shared-cache wire format.
type sharedEntry struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (m *Manager) sharedKey() string {
	return "token:" + m.cfg.ServerName
}

func (m *Manager) readShared(ctx context.Context) (string, bool) {
	if m.shared == nil {
		return "", false
	}
	data, found, err := m.shared.Get(ctx, m.sharedKey())
	if err != nil {
		m.logger.Warn("shared cache read failed", logging.Err(err))
		return "", false
	}
	if !found {
		return "", false
	}

	var entry sharedEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		m.logger.Warn("shared cache entry malformed", logging.Err(err))
		return "", false
	}

	token := Token{Value: entry.AccessToken, ExpiresAt: entry.ExpiresAt}
	if !token.Fresh(m.now(), m.cfg.RefreshBuffer) {
		return "", false
	}

	m.store.Put(token.Value, token.ExpiresAt)
	return token.Value, true
}

func (m *Manager) writeShared(value string, expiresAt time.Time) {
	if m.shared == nil {
		return
	}

	// Entries vanish from the shared cache when they stop being fresh, so
	// readers never need a second staleness check.
	ttl := expiresAt.Sub(m.now()) - m.cfg.RefreshBuffer
	if ttl <= 0 {
		return
	}

	data, err := json.Marshal(sharedEntry{AccessToken: value, ExpiresAt: expiresAt})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.shared.Set(ctx, m.sharedKey(), data, ttl); err != nil {
		m.logger.Warn("shared cache write failed", logging.Err(err))
	}
}

func (m *Manager) recordCacheHit() {
	if m.metrics != nil {
		m.metrics.RecordCacheHit(m.cfg.ServerName)
	}
}

func (m *Manager) recordCacheMiss() {
	if m.metrics != nil {
		m.metrics.RecordCacheMiss(m.cfg.ServerName)
	}
}

func (m *Manager) recordRetry() {
	if m.metrics != nil {
		m.metrics.RecordRetry(m.cfg.ServerName)
	}
}

func (m *Manager) recordBreakerState() {
	if m.metrics != nil && m.breaker != nil {
		m.metrics.SetBreakerOpen(m.cfg.ServerName, m.breaker.State() == "open")
	}
}

// Status describes the manager's cached token without exposing its value.
type Status struct {
	ServerName   string     `json:"server_name"`
	HasToken     bool       `json:"has_token"`
	TokenFresh   bool       `json:"token_fresh"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	BreakerState string     `json:"circuit_breaker_state,omitempty"`
}

// Status reports whether a token is cached and when it expires. The token
// value itself is never included.
func (m *Manager) Status() Status {
	token := m.store.Snapshot()
	status := Status{
		ServerName: m.cfg.ServerName,
		HasToken:   token.Present(),
		TokenFresh: token.Fresh(m.now(), m.cfg.RefreshBuffer),
	}
	if token.Present() {
		expiresAt := token.ExpiresAt
		status.ExpiresAt = &expiresAt
	}
	if m.breaker != nil {
		status.BreakerState = m.breaker.State()
	}
	return status
}
