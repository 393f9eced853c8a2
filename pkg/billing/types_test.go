package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/orgkit/pkg/orgs"
)

func int64Ptr(v int64) *int64 { return &v }

func TestPlan_Limit(t *testing.T) {
	plan := &Plan{Limits: map[Feature]*int64{
		FeatureItems:    int64Ptr(10),
		FeatureAITokens: nil,
	}}

	require.NotNil(t, plan.Limit(FeatureItems))
	assert.Equal(t, int64(10), *plan.Limit(FeatureItems))
	assert.Nil(t, plan.Limit(FeatureAITokens), "explicit null is unlimited")

	missing := plan.Limit(Feature("storage"))
	require.NotNil(t, missing)
	assert.Equal(t, int64(0), *missing, "absent feature has no allowance")
}

func TestPlan_Pricing(t *testing.T) {
	free := &Plan{Key: PlanFree}
	pro := &Plan{
		Key:             PlanPro,
		PriceIDs:        map[Interval]string{IntervalMonthly: "price_m", IntervalYearly: "price_y"},
		MeteredPriceIDs: map[string]string{"ai_tokens_extra": "price_tokens"},
	}

	assert.True(t, free.IsFree())
	assert.False(t, pro.IsFree())
	assert.Equal(t, "price_y", pro.PriceID(IntervalYearly))
	assert.Empty(t, free.PriceID(IntervalMonthly))
	assert.True(t, pro.HasMeteredPricing())
	assert.True(t, pro.HasPrice("price_m"))
	assert.False(t, pro.HasPrice("price_tokens"), "metered prices do not identify a plan")
}

func TestFeature_IsKnown(t *testing.T) {
	assert.True(t, FeatureItems.IsKnown())
	assert.True(t, FeatureAITokens.IsKnown())
	assert.False(t, Feature("seats").IsKnown())
}

func TestSubscription_States(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)
	past := now.Add(-24 * time.Hour)

	tests := []struct {
		name    string
		sub     Subscription
		valid   bool
		onTrial bool
		grace   bool
	}{
		{"active", Subscription{Status: StatusActive}, true, false, false},
		{"trialing", Subscription{Status: StatusTrialing, TrialEndsAt: &future}, true, true, false},
		{"trial over but active", Subscription{Status: StatusActive, TrialEndsAt: &past}, true, false, false},
		{"cancelled in grace", Subscription{Status: StatusActive, EndsAt: &future}, true, false, true},
		{"cancelled and ended", Subscription{Status: StatusCanceled, EndsAt: &past}, false, false, false},
		{"cancelled without end date", Subscription{Status: StatusCanceled}, false, false, false},
		{"past due", Subscription{Status: StatusPastDue}, false, false, false},
		{"incomplete", Subscription{Status: StatusIncomplete}, false, false, false},
		{"unpaid on trial", Subscription{Status: StatusUnpaid, TrialEndsAt: &future}, true, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.sub.Valid(now))
			assert.Equal(t, tt.onTrial, tt.sub.OnTrial(now))
			assert.Equal(t, tt.grace, tt.sub.OnGracePeriod(now))
		})
	}
}

func TestValidatePriceUniqueness(t *testing.T) {
	plans := []*Plan{
		{Key: PlanFree},
		{Key: PlanPro, PriceIDs: map[Interval]string{IntervalMonthly: "price_1", IntervalYearly: "price_2"}},
		{Key: PlanEnterprise, PriceIDs: map[Interval]string{IntervalMonthly: "price_3"}},
	}
	assert.NoError(t, ValidatePriceUniqueness(plans))

	plans[2].PriceIDs[IntervalYearly] = "price_2"
	err := ValidatePriceUniqueness(plans)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "price_2")
}

func TestCheckoutErrorsAreValidationErrors(t *testing.T) {
	for _, err := range []error{ErrPlanUnavailable, ErrFreePlanCheckout, ErrIntervalUnavailable} {
		ve, ok := orgs.AsValidationError(err)
		require.True(t, ok)
		assert.NotEmpty(t, ve.Code)
	}
	assert.True(t, orgs.HasCode(ErrIntervalUnavailable, "interval_unavailable"))
}

func TestLimitExceededError(t *testing.T) {
	err := error(&LimitExceededError{Feature: FeatureItems, Plan: PlanFree, Current: 10, Limit: 10})
	assert.True(t, IsLimitExceeded(err))
	assert.Equal(t, "plan limit reached for items: 10 of 10", err.Error())
	assert.False(t, IsLimitExceeded(ErrNotFound))
}
