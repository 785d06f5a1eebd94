package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/teamcruz/graduation-engine/internal/domain/policy"
)

// PolicyCache is a read-through cache in front of a policy.Repository.
// Cache failures degrade to the inner repository; they never fail a read.
type PolicyCache struct {
	inner  policy.Repository
	cache  *Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewPolicyCache creates a new PolicyCache.
func NewPolicyCache(inner policy.Repository, cache *Cache, ttl time.Duration, logger *slog.Logger) *PolicyCache {
	if ttl <= 0 {
		ttl = TTLPolicyCache
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PolicyCache{inner: inner, cache: cache, ttl: ttl, logger: logger}
}

// Get returns the unit's policy, from cache when possible.
func (c *PolicyCache) Get(ctx context.Context, unitID string) (*policy.UnitPolicy, error) {
	var cached policy.UnitPolicy
	err := c.cache.Get(ctx, PolicyKey(unitID), &cached)
	switch {
	case err == nil:
		return &cached, nil
	case !errors.Is(err, ErrCacheMiss):
		c.logger.Warn("policy cache read failed", "unit_id", unitID, "error", err)
	}

	p, err := c.inner.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, PolicyKey(unitID), p, c.ttl); err != nil {
		c.logger.Warn("policy cache write failed", "unit_id", unitID, "error", err)
	}
	return p, nil
}

// Save writes through and drops the cached copy.
func (c *PolicyCache) Save(ctx context.Context, p *policy.UnitPolicy) error {
	if err := c.inner.Save(ctx, p); err != nil {
		return err
	}
	if err := c.cache.Delete(ctx, PolicyKey(p.UnitID)); err != nil {
		c.logger.Warn("policy cache invalidation failed", "unit_id", p.UnitID, "error", err)
	}
	return nil
}

// ListUnits is not cached.
func (c *PolicyCache) ListUnits(ctx context.Context) ([]string, error) {
	return c.inner.ListUnits(ctx)
}
