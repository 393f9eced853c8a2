package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/orgkit/pkg/orgs"
)

// Feature is a plan-limited capability.
type Feature string

const (
	FeatureItems    Feature = "items"
	FeatureAITokens Feature = "ai_tokens"
)

// Features lists every known feature in a stable order.
func Features() []Feature {
	return []Feature{FeatureItems, FeatureAITokens}
}

// IsKnown reports whether f is one of Features.
func (f Feature) IsKnown() bool {
	for _, known := range Features() {
		if f == known {
			return true
		}
	}
	return false
}

// PlanKey identifies a plan in the catalog.
type PlanKey string

const (
	PlanFree       PlanKey = "free"
	PlanPro        PlanKey = "pro"
	PlanEnterprise PlanKey = "enterprise"
)

// Interval is a recurring billing interval.
type Interval string

const (
	IntervalMonthly Interval = "monthly"
	IntervalYearly  Interval = "yearly"
)

// Plan is a billing tier. A nil limit means unlimited; a feature missing
// from Limits has no allowance at all.
type Plan struct {
	ID              int64               `json:"id"`
	Key             PlanKey             `json:"key"`
	Name            string              `json:"name"`
	Description     string              `json:"description"`
	ProductID       string              `json:"-"`
	PriceIDs        map[Interval]string `json:"price_ids,omitempty"`
	MeteredPriceIDs map[string]string   `json:"metered_price_ids,omitempty"`
	Limits          map[Feature]*int64  `json:"limits"`
	Features        []string            `json:"features"`
	SortOrder       int                 `json:"sort_order"`
	Active          bool                `json:"active"`
}

// Limit returns the plan's limit for feature: nil when unlimited, zero when
// the plan does not mention the feature.
func (p *Plan) Limit(feature Feature) *int64 {
	limit, ok := p.Limits[feature]
	if !ok {
		zero := int64(0)
		return &zero
	}
	return limit
}

// IsFree reports whether the plan has no recurring prices.
func (p *Plan) IsFree() bool {
	return len(p.PriceIDs) == 0
}

// PriceID returns the recurring price for interval, or "".
func (p *Plan) PriceID(interval Interval) string {
	return p.PriceIDs[interval]
}

// HasMeteredPricing reports whether the plan bills metered usage.
func (p *Plan) HasMeteredPricing() bool {
	return len(p.MeteredPriceIDs) > 0
}

// HasPrice reports whether priceID is one of the plan's recurring prices.
func (p *Plan) HasPrice(priceID string) bool {
	for _, id := range p.PriceIDs {
		if id == priceID {
			return true
		}
	}
	return false
}

// BillingMeter maps an internal usage key to a provider meter.
type BillingMeter struct {
	ID              int64  `json:"id"`
	Key             string `json:"key"`
	DisplayName     string `json:"display_name"`
	EventName       string `json:"event_name"`
	ProviderMeterID string `json:"provider_meter_id,omitempty"`
}

// SubscriptionStatus is the provider's subscription status.
type SubscriptionStatus string

const (
	StatusActive            SubscriptionStatus = "active"
	StatusTrialing          SubscriptionStatus = "trialing"
	StatusPastDue           SubscriptionStatus = "past_due"
	StatusCanceled          SubscriptionStatus = "canceled"
	StatusUnpaid            SubscriptionStatus = "unpaid"
	StatusIncomplete        SubscriptionStatus = "incomplete"
	StatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	StatusPaused            SubscriptionStatus = "paused"
)

// DefaultSubscriptionType is the subscription slot plans are resolved from.
const DefaultSubscriptionType = "default"

// Subscription is the local mirror of a provider subscription.
type Subscription struct {
	ID               int64              `json:"id"`
	OrganizationID   int64              `json:"organization_id"`
	Type             string             `json:"type"`
	ProviderID       string             `json:"provider_id"`
	Status           SubscriptionStatus `json:"status"`
	PriceID          string             `json:"price_id,omitempty"`
	Quantity         *int64             `json:"quantity,omitempty"`
	TrialEndsAt      *time.Time         `json:"trial_ends_at,omitempty"`
	EndsAt           *time.Time         `json:"ends_at,omitempty"`
	CurrentPeriodEnd *time.Time         `json:"current_period_end,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// OnTrial reports whether the trial has not ended yet.
func (s *Subscription) OnTrial(now time.Time) bool {
	return s.TrialEndsAt != nil && now.Before(*s.TrialEndsAt)
}

// OnGracePeriod reports whether the subscription is cancelled but paid up
// until a future end date.
func (s *Subscription) OnGracePeriod(now time.Time) bool {
	return s.EndsAt != nil && now.Before(*s.EndsAt)
}

// Ended reports whether the subscription is cancelled and past its end.
func (s *Subscription) Ended(now time.Time) bool {
	if s.EndsAt != nil {
		return !s.OnGracePeriod(now)
	}
	return s.Status == StatusCanceled
}

// Active reports whether the subscription is in good standing. Past due,
// unpaid and incomplete subscriptions are not.
func (s *Subscription) Active(now time.Time) bool {
	if s.Ended(now) {
		return false
	}
	switch s.Status {
	case StatusIncomplete, StatusIncompleteExpired, StatusPastDue, StatusUnpaid, StatusPaused:
		return false
	}
	return true
}

// Valid reports whether the subscription currently entitles the
// organization to its plan.
func (s *Subscription) Valid(now time.Time) bool {
	return s.Active(now) || s.OnTrial(now) || s.OnGracePeriod(now)
}

var (
	// ErrNotFound is returned by stores when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNoCustomer is returned when an organization has no provider customer.
	ErrNoCustomer = errors.New("organization has no billing customer")
)

// Checkout rejections. They are validation errors so transports render them
// like any other field error.
var (
	ErrPlanUnavailable = &orgs.ValidationError{
		Field: "plan", Code: "plan_unavailable", Message: "The selected plan is not available.",
	}
	ErrFreePlanCheckout = &orgs.ValidationError{
		Field: "plan", Code: "free_plan", Message: "The free plan does not require checkout.",
	}
	ErrIntervalUnavailable = &orgs.ValidationError{
		Field: "interval", Code: "interval_unavailable", Message: "The selected billing interval is not available for this plan.",
	}
)

// LimitExceededError is returned when an organization has reached its plan
// limit for a feature.
type LimitExceededError struct {
	Feature Feature
	Plan    PlanKey
	Current int64
	Limit   int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("plan limit reached for %s: %d of %d", e.Feature, e.Current, e.Limit)
}

// IsLimitExceeded reports whether err is a LimitExceededError.
func IsLimitExceeded(err error) bool {
	var le *LimitExceededError
	return errors.As(err, &le)
}

// ValidatePriceUniqueness fails when a recurring price id belongs to more
// than one plan, since subscription resolution would then be ambiguous.
func ValidatePriceUniqueness(plans []*Plan) error {
	owners := make(map[string]PlanKey)
	var errs []error
	for _, plan := range plans {
		for _, id := range plan.PriceIDs {
			if id == "" {
				continue
			}
			if owner, ok := owners[id]; ok && owner != plan.Key {
				errs = append(errs, fmt.Errorf("price %s is used by plans %s and %s", id, owner, plan.Key))
				continue
			}
			owners[id] = plan.Key
		}
	}
	return errors.Join(errs...)
}
