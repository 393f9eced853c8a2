package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/orgkit/pkg/cache"
	"github.com/platinummonkey/orgkit/pkg/observability"
)

// Catalog is the read side of the plan catalog.
type Catalog interface {
	// ActivePlans returns the customer-facing plans ordered by sort order.
	ActivePlans(ctx context.Context) ([]*Plan, error)
	// Plan returns an active plan by key.
	Plan(ctx context.Context, key PlanKey) (*Plan, error)
	Meters(ctx context.Context) ([]*BillingMeter, error)
	Meter(ctx context.Context, key string) (*BillingMeter, error)
	// Invalidate drops the cached catalog and every organization's cached
	// plan, which is a snapshot of a catalog entry.
	Invalidate(ctx context.Context) error
}

// CachedCatalog serves the catalog from a cache in front of a PlanStore.
type CachedCatalog struct {
	store  PlanStore
	cache  cache.Cache
	keys   cache.Keys
	ttl    time.Duration
	logger *observability.Logger
}

// NewCachedCatalog creates a catalog. A nil cache reads the store every time.
func NewCachedCatalog(store PlanStore, c cache.Cache, keys cache.Keys, ttl time.Duration, logger *observability.Logger) *CachedCatalog {
	if c == nil {
		c = cache.NoopCache{}
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &CachedCatalog{store: store, cache: c, keys: keys, ttl: ttl, logger: logger}
}

// ActivePlans implements Catalog.
func (c *CachedCatalog) ActivePlans(ctx context.Context) ([]*Plan, error) {
	key := c.keys.Plans()
	plans, err := cache.GetJSON[[]*Plan](ctx, c.cache, key)
	if err == nil {
		return plans, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.WithError(err).Warn("cache read failed for plans, falling back to database")
	}

	plans, err = c.store.ActivePlans(ctx)
	if err != nil {
		return nil, err
	}
	if err := ValidatePriceUniqueness(plans); err != nil {
		c.logger.WithError(err).Error("plan catalog has ambiguous price ids, the lowest sort order wins")
	}

	if err := cache.SetJSON(ctx, c.cache, key, plans, c.ttl); err != nil {
		c.logger.WithError(err).Warn("failed to cache plans")
	}
	return plans, nil
}

// Plan implements Catalog. Inactive plans are not found.
func (c *CachedCatalog) Plan(ctx context.Context, key PlanKey) (*Plan, error) {
	plans, err := c.ActivePlans(ctx)
	if err != nil {
		return nil, err
	}
	for _, plan := range plans {
		if plan.Key == key {
			return plan, nil
		}
	}
	return nil, ErrNotFound
}

// Meters implements Catalog.
func (c *CachedCatalog) Meters(ctx context.Context) ([]*BillingMeter, error) {
	key := c.keys.Meters()
	meters, err := cache.GetJSON[[]*BillingMeter](ctx, c.cache, key)
	if err == nil {
		return meters, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.WithError(err).Warn("cache read failed for meters, falling back to database")
	}

	meters, err = c.store.Meters(ctx)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, c.cache, key, meters, c.ttl); err != nil {
		c.logger.WithError(err).Warn("failed to cache meters")
	}
	return meters, nil
}

// Meter implements Catalog.
func (c *CachedCatalog) Meter(ctx context.Context, key string) (*BillingMeter, error) {
	meters, err := c.Meters(ctx)
	if err != nil {
		return nil, err
	}
	for _, meter := range meters {
		if meter.Key == key {
			return meter, nil
		}
	}
	return nil, ErrNotFound
}

// Invalidate implements Catalog.
func (c *CachedCatalog) Invalidate(ctx context.Context) error {
	if err := c.cache.Delete(ctx, c.keys.Plans(), c.keys.Meters()); err != nil {
		return err
	}
	if err := cache.DeletePattern(ctx, c.cache, c.keys.OrganizationPlans()); err != nil {
		return fmt.Errorf("failed to flush organization plans: %w", err)
	}
	return nil
}
