// Package authz answers permission questions for a user inside an
// organization.
//
// The Resolver expands a user's role on their current organization into the
// full permission set and caches it per user. The cache is an optimization
// only: every read error degrades to computing the answer from the
// membership store, and every membership mutation in pkg/orgs invalidates
// the affected users through Resolver.Invalidate.
//
//	resolver := authz.NewResolver(store, rbac.DefaultRegistry(), redisCache, authz.Config{
//	    Enabled: true,
//	    TTL:     time.Hour,
//	    Keys:    cache.Keys{Prefix: "saas"},
//	}, logger)
//
//	ok, err := resolver.HasPermission(ctx, user, rbac.PermissionMemberInvite, nil)
package authz

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/platinummonkey/orgkit/pkg/cache"
	"github.com/platinummonkey/orgkit/pkg/observability"
	"github.com/platinummonkey/orgkit/pkg/orgs"
	"github.com/platinummonkey/orgkit/pkg/rbac"
)

// DefaultTTL bounds how long a resolved permission set may be served after
// a failed invalidation.
const DefaultTTL = time.Hour

// Membership is the read side of the membership store the resolver needs.
// orgs.PostgresStore satisfies it.
type Membership interface {
	GetMemberRole(ctx context.Context, orgID, userID int64) (rbac.Role, error)
	GetOrganization(ctx context.Context, id int64) (*orgs.Organization, error)
}

// Config controls caching of resolved authorization state.
type Config struct {
	Enabled bool
	TTL     time.Duration
	Keys    cache.Keys
}

// Resolver computes roles and permission sets for users.
type Resolver struct {
	membership Membership
	registry   *rbac.Registry
	cache      cache.Cache
	config     Config
	metrics    *observability.Metrics
	logger     *observability.Logger
}

// NewResolver creates a resolver. A nil cache or a disabled config sends
// every call through the computation path.
func NewResolver(membership Membership, registry *rbac.Registry, c cache.Cache, config Config, logger *observability.Logger) *Resolver {
	if c == nil || !config.Enabled {
		c = cache.NoopCache{}
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Resolver{
		membership: membership,
		registry:   registry,
		cache:      c,
		config:     config,
		logger:     logger,
	}
}

// WithMetrics counts permission decisions.
func (r *Resolver) WithMetrics(metrics *observability.Metrics) *Resolver {
	r.metrics = metrics
	return r
}

// ResolvePermissions returns the expanded permission keys the user holds on
// their current organization. A user without a current organization, or
// without a membership on it, holds none.
func (r *Resolver) ResolvePermissions(ctx context.Context, user *orgs.User) ([]string, error) {
	if !user.HasCurrentOrganization() {
		return []string{}, nil
	}

	key := r.config.Keys.UserPermissions(user.ID)
	perms, err := cache.GetJSON[[]string](ctx, r.cache, key)
	if err == nil {
		return perms, nil
	}
	r.logCacheReadError(err, user.ID, "permissions")

	perms, err = r.computePermissions(ctx, user.ID, *user.CurrentOrganizationID)
	if err != nil {
		return nil, err
	}

	if err := cache.SetJSON(ctx, r.cache, key, perms, r.config.TTL); err != nil {
		r.logger.WithError(err).WithField("user_id", user.ID).Warn("failed to cache permissions")
	}
	return perms, nil
}

func (r *Resolver) computePermissions(ctx context.Context, userID, orgID int64) ([]string, error) {
	role, err := r.membership.GetMemberRole(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, orgs.ErrNotFound) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to resolve role: %w", err)
	}
	return r.registry.ExpandPermissions(role), nil
}

// ResolveCurrentOrganization returns the user's current organization, or
// nil when there is none. The cached copy does not carry the billing
// customer handle; load the organization from the store when that is
// needed.
func (r *Resolver) ResolveCurrentOrganization(ctx context.Context, user *orgs.User) (*orgs.Organization, error) {
	if !user.HasCurrentOrganization() {
		return nil, nil
	}

	key := r.config.Keys.UserCurrentOrganization(user.ID)
	org, err := cache.GetJSON[*orgs.Organization](ctx, r.cache, key)
	if err == nil && org != nil && org.ID == *user.CurrentOrganizationID {
		return org, nil
	}
	r.logCacheReadError(err, user.ID, "current organization")

	org, err = r.membership.GetOrganization(ctx, *user.CurrentOrganizationID)
	if err != nil {
		if errors.Is(err, orgs.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve current organization: %w", err)
	}

	if err := cache.SetJSON(ctx, r.cache, key, org, r.config.TTL); err != nil {
		r.logger.WithError(err).WithField("user_id", user.ID).Warn("failed to cache current organization")
	}
	return org, nil
}

// HasPermission reports whether the user holds permission on orgID, or on
// their current organization when orgID is nil. Checks against an
// organization other than the current one never read the cache.
func (r *Resolver) HasPermission(ctx context.Context, user *orgs.User, permission rbac.Permission, orgID *int64) (bool, error) {
	allowed, err := r.hasPermission(ctx, user, permission, orgID)
	if err != nil {
		return false, err
	}
	if r.metrics != nil {
		r.metrics.AuthorizationChecksTotal.WithLabelValues(permission.String(), strconv.FormatBool(allowed)).Inc()
	}
	return allowed, nil
}

func (r *Resolver) hasPermission(ctx context.Context, user *orgs.User, permission rbac.Permission, orgID *int64) (bool, error) {
	if orgID != nil && !user.IsCurrentOrganization(*orgID) {
		role, err := r.membership.GetMemberRole(ctx, *orgID, user.ID)
		if err != nil {
			if errors.Is(err, orgs.ErrNotFound) {
				return false, nil
			}
			return false, fmt.Errorf("failed to resolve role: %w", err)
		}
		return r.registry.RoleHasPermission(role, permission), nil
	}

	perms, err := r.ResolvePermissions(ctx, user)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if p == permission.String() {
			return true, nil
		}
	}
	return false, nil
}

// Role returns the user's role on orgID, or on their current organization
// when orgID is nil. The boolean is false when the user is not a member.
func (r *Resolver) Role(ctx context.Context, user *orgs.User, orgID *int64) (rbac.Role, bool, error) {
	target := orgID
	if target == nil {
		target = user.CurrentOrganizationID
	}
	if target == nil {
		return "", false, nil
	}

	role, err := r.membership.GetMemberRole(ctx, *target, user.ID)
	if err != nil {
		if errors.Is(err, orgs.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to resolve role: %w", err)
	}
	return role, true, nil
}

// Invalidate drops both cached entries of every user. It keeps going after
// a failure and returns every failure joined.
func (r *Resolver) Invalidate(ctx context.Context, userIDs ...int64) error {
	var errs []error
	for _, id := range userIDs {
		err := r.cache.Delete(ctx,
			r.config.Keys.UserCurrentOrganization(id),
			r.config.Keys.UserPermissions(id),
		)
		if err != nil {
			r.logger.WithError(err).WithField("user_id", id).Warn("failed to clear organization cache")
			errs = append(errs, fmt.Errorf("user %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Resolver) logCacheReadError(err error, userID int64, what string) {
	if err == nil || errors.Is(err, cache.ErrCacheMiss) {
		return
	}
	r.logger.WithError(err).WithFields(map[string]interface{}{
		"user_id": userID,
		"entry":   what,
	}).Warn("cache read failed, falling back to database")
}
