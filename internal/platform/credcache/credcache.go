// Package credcache holds externally-issued provider credentials (signing
// keys, bearer tokens) and refreshes them lazily on access once they go
// stale. One Cache instance guards one provider's credential bundle and is
// shared by every goroutine that talks to that provider.
package credcache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	dErrors "perroquet/pkg/domain-errors"
	"perroquet/pkg/sentinel"
)

// DefaultTTL is how long a refreshed bundle is served before the next access
// triggers a refresh.
const DefaultTTL = time.Hour

// Bundle pairs refreshable credential data with the time it was obtained.
type Bundle[T any] struct {
	Data        T
	RefreshedAt time.Time
}

// RefreshFunc obtains a fresh credential payload from the provider.
// It is called with the cache's write lock held, so implementations must
// bound their network calls with timeouts.
type RefreshFunc[T any] func(ctx context.Context) (T, error)

// Cache is a concurrency-safe lazily-refreshed holder for one provider
// credential bundle. Reads take a shared lock; a stale bundle upgrades to an
// exclusive lock and re-checks staleness before refreshing, so at most one
// refresh is in flight per provider no matter how many callers observe
// staleness at once.
type Cache[T any] struct {
	provider string
	ttl      time.Duration
	refresh  RefreshFunc[T]
	logger   *slog.Logger
	onError  func(provider string, err error)
	now      func() time.Time

	mu     sync.RWMutex
	bundle Bundle[T]
	primed bool
}

// Option configures a Cache.
type Option[T any] func(*Cache[T])

// WithTTL overrides the staleness threshold when greater than zero.
func WithTTL[T any](ttl time.Duration) Option[T] {
	return func(c *Cache[T]) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithLogger overrides the logger used for refresh failures.
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(c *Cache[T]) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithErrorReporter registers a callback invoked on every refresh failure,
// in addition to logging. Used to feed metrics.
func WithErrorReporter[T any](fn func(provider string, err error)) Option[T] {
	return func(c *Cache[T]) {
		c.onError = fn
	}
}

// withNow injects the clock. Tests only.
func withNow[T any](now func() time.Time) Option[T] {
	return func(c *Cache[T]) {
		c.now = now
	}
}

// New constructs an unprimed cache. The first Access call performs the
// initial refresh.
func New[T any](provider string, refresh RefreshFunc[T], opts ...Option[T]) *Cache[T] {
	c := &Cache[T]{
		provider: provider,
		ttl:      DefaultTTL,
		refresh:  refresh,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Access returns the current bundle, refreshing it first when stale.
//
// Refresh failures are absorbed: the previous bundle keeps being served and
// the failure is logged and reported, never surfaced to the caller - unless
// no bundle was ever populated, in which case there is nothing to serve and
// the caller gets an upstream_unavailable error.
func (c *Cache[T]) Access(ctx context.Context) (Bundle[T], error) {
	c.mu.RLock()
	if c.primed && !c.stale() {
		bundle := c.bundle
		c.mu.RUnlock()
		return bundle, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-check after acquiring the write lock: several readers may race here
	// and only the first should hit the network.
	if c.primed && !c.stale() {
		return c.bundle, nil
	}

	data, err := c.refresh(ctx)
	if err != nil {
		c.logger.ErrorContext(ctx, "provider credential refresh failed",
			"provider", c.provider,
			"error", err,
		)
		if c.onError != nil {
			c.onError(c.provider, err)
		}
		if !c.primed {
			return Bundle[T]{}, dErrors.Wrap(sentinel.ErrNeverRefreshed, dErrors.CodeUnavailable, c.provider+" credentials unavailable")
		}
		// Serve the stale bundle; the downstream provider call decides
		// whether the credential is still usable.
		return c.bundle, nil
	}

	c.bundle = Bundle[T]{Data: data, RefreshedAt: c.now()}
	c.primed = true
	c.logger.InfoContext(ctx, "provider credentials refreshed", "provider", c.provider)
	return c.bundle, nil
}

// stale reports whether the bundle has outlived the TTL. Callers must hold
// at least the read lock.
func (c *Cache[T]) stale() bool {
	return c.now().Sub(c.bundle.RefreshedAt) > c.ttl
}

// forceRefreshedAt rewinds the bundle timestamp. Tests only.
func (c *Cache[T]) forceRefreshedAt(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bundle.RefreshedAt = t
}
