// Package credentials caches bearer tokens for external APIs and refreshes
// them before they expire.
package credentials

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"agentdesk/internal/domain"
)

// DefaultSkew is subtracted from a token's reported expiry; a cached token is
// never handed out inside this window.
const DefaultSkew = 60 * time.Second

// Exchanger performs one authentication exchange.
type Exchanger interface {
	Exchange(ctx context.Context) (domain.Credential, error)
}

// Cache holds at most one live credential for one external system.
// Concurrent GetToken calls share a single in-flight refresh.
type Cache struct {
	name      string
	exchanger Exchanger
	skew      time.Duration
	now       func() time.Time
	logger    *zap.Logger

	mu   sync.Mutex
	cred *domain.Credential

	flight singleflight.Group
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithSkew(skew time.Duration) Option {
	return func(c *Cache) { c.skew = skew }
}

func NewCache(name string, exchanger Exchanger, logger *zap.Logger, opts ...Option) *Cache {
	c := &Cache{
		name:      name,
		exchanger: exchanger,
		skew:      DefaultSkew,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Seed installs a credential obtained elsewhere, e.g. restored from disk.
func (c *Cache) Seed(cred domain.Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cred = &cred
}

// GetToken returns the cached token while now < expiresAt - skew and
// otherwise refreshes it.
func (c *Cache) GetToken(ctx context.Context) (string, error) {
	if token, ok := c.cached(); ok {
		return token, nil
	}

	v, err, shared := c.flight.Do("token", func() (any, error) {
		// A refresh that finished while we waited for the flight is good enough.
		if token, ok := c.cached(); ok {
			return token, nil
		}
		return c.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	if shared {
		c.logger.Debug("credential refresh shared", zap.String("system", c.name))
	}
	return v.(string), nil
}

// Invalidate drops the cached credential so the next GetToken re-authenticates.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cred = nil
}

// ExpiresAt reports the cached credential's expiry, or the zero time.
func (c *Cache) ExpiresAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cred == nil {
		return time.Time{}
	}
	return c.cred.ExpiresAt
}

func (c *Cache) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cred == nil || c.cred.Token == "" {
		return "", false
	}
	if !c.now().Before(c.cred.ExpiresAt.Add(-c.skew)) {
		return "", false
	}
	return c.cred.Token, true
}

func (c *Cache) refresh(ctx context.Context) (string, error) {
	// The refresh is shared by every waiter, so one caller's cancellation
	// must not fail the others. The HTTP client timeout still bounds it.
	cred, err := c.exchanger.Exchange(context.WithoutCancel(ctx))
	if err != nil {
		c.Invalidate()
		c.logger.Warn("credential refresh failed", zap.String("system", c.name), zap.Error(err))
		return "", classify(err)
	}

	c.mu.Lock()
	c.cred = &cred
	c.mu.Unlock()
	c.logger.Info("credential refreshed",
		zap.String("system", c.name),
		zap.Time("expires_at", cred.ExpiresAt),
	)
	return cred.Token, nil
}

// classify makes sure every failure carries one of the auth kinds.
func classify(err error) error {
	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		return err
	}
	return &domain.AuthError{Kind: domain.ErrAuthUnknown, Err: err}
}

// Static serves a fixed API token; Invalidate is a no-op.
type Static string

func (s Static) GetToken(context.Context) (string, error) {
	if s == "" {
		return "", &domain.AuthError{Kind: domain.ErrInvalidCredentials}
	}
	return string(s), nil
}

func (s Static) Invalidate() {}
