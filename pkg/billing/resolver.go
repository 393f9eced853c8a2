package billing

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/orgkit/pkg/cache"
	"github.com/platinummonkey/orgkit/pkg/observability"
)

// PlanCacheTTL is how long a resolved plan is cached per organization.
const PlanCacheTTL = 10 * time.Minute

// planEntry wraps the cached plan so that "no plan" is cacheable too.
type planEntry struct {
	Plan *Plan `json:"plan"`
}

// SubscriptionResolver answers which plan an organization is on and whether
// it may use more of a feature.
type SubscriptionResolver struct {
	subscriptions SubscriptionStore
	catalog       Catalog
	cache         cache.Cache
	keys          cache.Keys
	ttl           time.Duration
	group         singleflight.Group
	clock         clockwork.Clock
	metrics       *observability.Metrics
	logger        *observability.Logger
}

// NewSubscriptionResolver creates a resolver. A nil cache resolves from the
// store on every call.
func NewSubscriptionResolver(subscriptions SubscriptionStore, catalog Catalog, c cache.Cache, keys cache.Keys, logger *observability.Logger) *SubscriptionResolver {
	if c == nil {
		c = cache.NoopCache{}
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &SubscriptionResolver{
		subscriptions: subscriptions,
		catalog:       catalog,
		cache:         c,
		keys:          keys,
		ttl:           PlanCacheTTL,
		clock:         clockwork.NewRealClock(),
		logger:        logger,
	}
}

// WithClock replaces the clock, for tests.
func (r *SubscriptionResolver) WithClock(clock clockwork.Clock) *SubscriptionResolver {
	r.clock = clock
	return r
}

// WithMetrics enables drift and denial counters.
func (r *SubscriptionResolver) WithMetrics(metrics *observability.Metrics) *SubscriptionResolver {
	r.metrics = metrics
	return r
}

// CurrentPlan returns the organization's plan. Organizations without a
// valid subscription are on the free plan. The result is nil only when the
// catalog has no free plan.
func (r *SubscriptionResolver) CurrentPlan(ctx context.Context, orgID int64) (*Plan, error) {
	key := r.keys.OrganizationPlan(orgID)
	entry, err := cache.GetJSON[planEntry](ctx, r.cache, key)
	if err == nil {
		return entry.Plan, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		r.logger.WithError(err).WithField("organization_id", orgID).
			Warn("cache read failed for current plan, falling back to database")
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		plan, err := r.resolvePlan(ctx, orgID)
		if err != nil {
			return nil, err
		}
		if err := cache.SetJSON(ctx, r.cache, key, planEntry{Plan: plan}, r.ttl); err != nil {
			r.logger.WithError(err).WithField("organization_id", orgID).Warn("failed to cache current plan")
		}
		return plan, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Plan), nil
}

func (r *SubscriptionResolver) resolvePlan(ctx context.Context, orgID int64) (*Plan, error) {
	sub, err := r.subscriptions.CurrentSubscription(ctx, orgID)
	if errors.Is(err, ErrNotFound) {
		return r.freePlan(ctx)
	}
	if err != nil {
		return nil, err
	}
	if !sub.Valid(r.clock.Now()) {
		return r.freePlan(ctx)
	}

	plans, err := r.catalog.ActivePlans(ctx)
	if err != nil {
		return nil, err
	}
	for _, plan := range plans {
		if plan.HasPrice(sub.PriceID) {
			return plan, nil
		}
	}

	r.logger.WithFields(map[string]interface{}{
		"organization_id": orgID,
		"subscription_id": sub.ProviderID,
		"price_id":        sub.PriceID,
	}).Warn("subscription price matches no active plan, using the free plan")
	if r.metrics != nil {
		r.metrics.PlanResolutionDriftTotal.Inc()
	}
	return r.freePlan(ctx)
}

func (r *SubscriptionResolver) freePlan(ctx context.Context) (*Plan, error) {
	plan, err := r.catalog.Plan(ctx, PlanFree)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return plan, err
}

// CurrentPlanKey returns the key of the current plan, free when none.
func (r *SubscriptionResolver) CurrentPlanKey(ctx context.Context, orgID int64) (PlanKey, error) {
	plan, err := r.CurrentPlan(ctx, orgID)
	if err != nil {
		return "", err
	}
	if plan == nil {
		return PlanFree, nil
	}
	return plan.Key, nil
}

// OnPlan reports whether the organization is on the plan with key.
func (r *SubscriptionResolver) OnPlan(ctx context.Context, orgID int64, key PlanKey) (bool, error) {
	current, err := r.CurrentPlanKey(ctx, orgID)
	if err != nil {
		return false, err
	}
	return current == key, nil
}

func (r *SubscriptionResolver) OnFreePlan(ctx context.Context, orgID int64) (bool, error) {
	return r.OnPlan(ctx, orgID, PlanFree)
}

// OnPaidPlan reports whether the current plan has a recurring price.
func (r *SubscriptionResolver) OnPaidPlan(ctx context.Context, orgID int64) (bool, error) {
	plan, err := r.CurrentPlan(ctx, orgID)
	if err != nil {
		return false, err
	}
	return plan != nil && !plan.IsFree(), nil
}

func (r *SubscriptionResolver) currentSubscription(ctx context.Context, orgID int64) (*Subscription, error) {
	sub, err := r.subscriptions.CurrentSubscription(ctx, orgID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return sub, err
}

// Subscribed reports whether the organization has a valid subscription.
func (r *SubscriptionResolver) Subscribed(ctx context.Context, orgID int64) (bool, error) {
	sub, err := r.currentSubscription(ctx, orgID)
	if err != nil || sub == nil {
		return false, err
	}
	return sub.Valid(r.clock.Now()), nil
}

// OnTrial reports whether the organization's subscription is trialing.
func (r *SubscriptionResolver) OnTrial(ctx context.Context, orgID int64) (bool, error) {
	sub, err := r.currentSubscription(ctx, orgID)
	if err != nil || sub == nil {
		return false, err
	}
	return sub.OnTrial(r.clock.Now()), nil
}

// OnTrialOrSubscribed is the check behind subscription-only routes.
func (r *SubscriptionResolver) OnTrialOrSubscribed(ctx context.Context, orgID int64) (bool, error) {
	subscribed, err := r.Subscribed(ctx, orgID)
	if err != nil || subscribed {
		return subscribed, err
	}
	return r.OnTrial(ctx, orgID)
}

// PlanLimit returns the organization's limit for feature. Nil means
// unlimited. Without any plan the free plan's limit applies, and without a
// free plan the limit is zero.
func (r *SubscriptionResolver) PlanLimit(ctx context.Context, orgID int64, feature Feature) (*int64, error) {
	plan, err := r.CurrentPlan(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		if plan, err = r.freePlan(ctx); err != nil {
			return nil, err
		}
	}
	if plan == nil {
		zero := int64(0)
		return &zero, nil
	}
	return plan.Limit(feature), nil
}

// WithinLimit reports whether count is below the organization's limit.
func (r *SubscriptionResolver) WithinLimit(ctx context.Context, orgID int64, feature Feature, count int64) (bool, error) {
	limit, err := r.PlanLimit(ctx, orgID, feature)
	if err != nil {
		return false, err
	}
	return limit == nil || count < *limit, nil
}

func (r *SubscriptionResolver) ExceedsLimit(ctx context.Context, orgID int64, feature Feature, count int64) (bool, error) {
	within, err := r.WithinLimit(ctx, orgID, feature, count)
	return !within, err
}

// CheckLimit returns a *LimitExceededError when count has reached the limit.
func (r *SubscriptionResolver) CheckLimit(ctx context.Context, orgID int64, feature Feature, count int64) error {
	limit, err := r.PlanLimit(ctx, orgID, feature)
	if err != nil {
		return err
	}
	if limit == nil || count < *limit {
		return nil
	}

	key, err := r.CurrentPlanKey(ctx, orgID)
	if err != nil {
		return err
	}
	if r.metrics != nil {
		r.metrics.PlanLimitDenialsTotal.WithLabelValues(string(feature), string(key)).Inc()
	}
	return &LimitExceededError{Feature: feature, Plan: key, Current: count, Limit: *limit}
}

// Summary is the billing state shown to an organization.
type Summary struct {
	Plan         *Plan         `json:"plan"`
	Subscription *Subscription `json:"subscription,omitempty"`
	Subscribed   bool          `json:"subscribed"`
	OnTrial      bool          `json:"on_trial"`
}

// Summary collects the current plan and subscription of an organization.
func (r *SubscriptionResolver) Summary(ctx context.Context, orgID int64) (*Summary, error) {
	plan, err := r.CurrentPlan(ctx, orgID)
	if err != nil {
		return nil, err
	}
	sub, err := r.currentSubscription(ctx, orgID)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Plan: plan, Subscription: sub}
	if sub != nil {
		now := r.clock.Now()
		summary.Subscribed = sub.Valid(now)
		summary.OnTrial = sub.OnTrial(now)
	}
	return summary, nil
}

// ClearBillingCache drops the cached plan of an organization. Failures are
// logged and the entry expires on its own.
func (r *SubscriptionResolver) ClearBillingCache(ctx context.Context, orgID int64) {
	if err := r.cache.Delete(ctx, r.keys.OrganizationPlan(orgID)); err != nil {
		r.logger.WithError(err).WithField("organization_id", orgID).Warn("failed to clear billing cache")
	}
}
