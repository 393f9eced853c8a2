package cache

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/orgkit/pkg/observability"
)

// Instrumented records hit, miss and error counters for an underlying cache.
type Instrumented struct {
	next    Cache
	name    string
	metrics *observability.Metrics
}

// WithMetrics wraps c so every operation is counted under name.
// A nil metrics value returns c unchanged.
func WithMetrics(c Cache, name string, metrics *observability.Metrics) Cache {
	if metrics == nil {
		return c
	}
	return &Instrumented{next: c, name: name, metrics: metrics}
}

func (c *Instrumented) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.next.Get(ctx, key)
	switch {
	case err == nil:
		c.metrics.CacheHitsTotal.WithLabelValues(c.name).Inc()
	case errors.Is(err, ErrCacheMiss):
		c.metrics.CacheMissesTotal.WithLabelValues(c.name).Inc()
	default:
		c.metrics.CacheErrorsTotal.WithLabelValues(c.name, "get").Inc()
	}
	return data, err
}

func (c *Instrumented) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := c.next.Set(ctx, key, value, ttl)
	if err != nil {
		c.metrics.CacheErrorsTotal.WithLabelValues(c.name, "set").Inc()
	}
	return err
}

func (c *Instrumented) Delete(ctx context.Context, keys ...string) error {
	err := c.next.Delete(ctx, keys...)
	if err != nil {
		c.metrics.CacheErrorsTotal.WithLabelValues(c.name, "delete").Inc()
	}
	return err
}

func (c *Instrumented) DeletePattern(ctx context.Context, pattern string) error {
	err := DeletePattern(ctx, c.next, pattern)
	if err != nil {
		c.metrics.CacheErrorsTotal.WithLabelValues(c.name, "delete").Inc()
	}
	return err
}
