// Package cache provides the best-effort cache port used by the permission
// and plan resolvers, with Redis, in-process and no-op backends.
//
// A cache is never the system of record. Every value stored here can be
// recomputed from PostgreSQL, so callers treat any error, including
// ErrCacheMiss, as "compute it again".
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Cache stores opaque values with a TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// PatternDeleter is implemented by caches that can drop every key matching
// a glob pattern such as "saas:org:*:plan".
type PatternDeleter interface {
	DeletePattern(ctx context.Context, pattern string) error
}

// DeletePattern removes the keys of c matching pattern. Caches without
// pattern support are left alone and their entries age out by TTL.
func DeletePattern(ctx context.Context, c Cache, pattern string) error {
	if d, ok := c.(PatternDeleter); ok {
		return d.DeletePattern(ctx, pattern)
	}
	return nil
}

// GetJSON reads key and decodes it into a T.
func GetJSON[T any](ctx context.Context, c Cache, key string) (T, error) {
	var out T
	data, err := c.Get(ctx, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		// Corrupt entries are dropped so the next read recomputes.
		_ = c.Delete(ctx, key)
		return out, fmt.Errorf("failed to decode cached %s: %w", key, err)
	}
	return out, nil
}

// SetJSON encodes value and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl)
}

// Keys builds the cache keys shared by every orgkit process. Keys from
// different deployments sharing one Redis are separated by Prefix.
type Keys struct {
	Prefix string
}

func (k Keys) key(parts ...string) string {
	out := k.Prefix
	for _, p := range parts {
		if out == "" {
			out = p
			continue
		}
		out += ":" + p
	}
	return out
}

// UserCurrentOrganization is the key of a user's resolved current organization.
func (k Keys) UserCurrentOrganization(userID int64) string {
	return k.key("user", strconv.FormatInt(userID, 10), "current_organization")
}

// UserPermissions is the key of a user's expanded permission set.
func (k Keys) UserPermissions(userID int64) string {
	return k.key("user", strconv.FormatInt(userID, 10), "org_permissions")
}

// OrganizationPlan is the key of an organization's resolved plan.
func (k Keys) OrganizationPlan(orgID int64) string {
	return k.key("org", strconv.FormatInt(orgID, 10), "plan")
}

// OrganizationPlans matches the OrganizationPlan key of every organization.
func (k Keys) OrganizationPlans() string {
	return k.key("org", "*", "plan")
}

func (k Keys) Plans() string  { return k.key("plans") }
func (k Keys) Meters() string { return k.key("meters") }
