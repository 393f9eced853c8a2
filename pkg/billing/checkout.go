package billing

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"github.com/jonboulle/clockwork"

	"github.com/platinummonkey/orgkit/pkg/observability"
	"github.com/platinummonkey/orgkit/pkg/orgs"
)

// CheckoutConfig holds the deployment settings of hosted checkout.
type CheckoutConfig struct {
	// TrialDays is granted to organizations that never subscribed before.
	TrialDays  int
	SuccessURL string
	CancelURL  string
}

// SubscribeInput selects a plan and billing interval. The interval
// defaults to monthly.
type SubscribeInput struct {
	Plan     PlanKey  `json:"plan"`
	Interval Interval `json:"interval,omitempty"`
}

// CheckoutService starts subscriptions and opens the billing portal.
type CheckoutService struct {
	store    SubscriptionStore
	catalog  Catalog
	provider Provider
	billing  orgs.BillingCache
	config   CheckoutConfig
	clock    clockwork.Clock
	logger   *observability.Logger
}

// NewCheckoutService creates a checkout service. billing may be nil.
func NewCheckoutService(store SubscriptionStore, catalog Catalog, provider Provider, billing orgs.BillingCache, config CheckoutConfig, logger *observability.Logger) *CheckoutService {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &CheckoutService{
		store:    store,
		catalog:  catalog,
		provider: provider,
		billing:  billing,
		config:   config,
		clock:    clockwork.NewRealClock(),
		logger:   logger,
	}
}

// WithClock replaces the clock, for tests.
func (s *CheckoutService) WithClock(clock clockwork.Clock) *CheckoutService {
	s.clock = clock
	return s
}

// Subscribe creates a checkout session for org on the selected plan.
func (s *CheckoutService) Subscribe(ctx context.Context, org *orgs.Organization, input SubscribeInput) (*CheckoutSession, error) {
	if input.Interval == "" {
		input.Interval = IntervalMonthly
	}
	logger := s.logger.WithFields(map[string]interface{}{
		"organization_id": org.ID,
		"plan":            string(input.Plan),
		"interval":        string(input.Interval),
	})
	logger.Debug("starting checkout")

	plan, err := s.catalog.Plan(ctx, input.Plan)
	if errors.Is(err, ErrNotFound) {
		logger.Warn("plan not found or inactive")
		return nil, ErrPlanUnavailable
	}
	if err != nil {
		return nil, err
	}
	if plan.IsFree() {
		return nil, ErrFreePlanCheckout
	}

	priceID := plan.PriceID(input.Interval)
	if priceID == "" {
		logger.Warn("plan has no price for interval")
		return nil, ErrIntervalUnavailable
	}

	hasSubscribed, err := s.store.HasSubscribed(ctx, org.ID)
	if err != nil {
		return nil, err
	}
	trialDays := 0
	if s.config.TrialDays > 0 && !hasSubscribed {
		trialDays = s.config.TrialDays
	}

	customerID, err := s.ensureCustomer(ctx, org)
	if err != nil {
		return nil, err
	}

	req := CheckoutRequest{
		CustomerID: customerID,
		PriceIDs:   []string{priceID},
		TrialDays:  trialDays,
		Metadata: map[string]string{
			"plan_key":        string(plan.Key),
			"organization_id": strconv.FormatInt(org.ID, 10),
		},
		SuccessURL: s.config.SuccessURL,
		CancelURL:  s.config.CancelURL,
	}
	if plan.HasMeteredPricing() {
		req.MeteredPriceIDs = sortedValues(plan.MeteredPriceIDs)
	}

	session, err := s.provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		logger.WithError(err).Error("checkout failed")
		return nil, err
	}

	if s.billing != nil {
		s.billing.ClearBillingCache(ctx, org.ID)
	}
	logger.WithField("trial", trialDays > 0).Info("checkout session created")
	return session, nil
}

// ensureCustomer returns the organization's provider customer, creating
// and recording one on first checkout.
func (s *CheckoutService) ensureCustomer(ctx context.Context, org *orgs.Organization) (string, error) {
	if org.StripeCustomerID != nil && *org.StripeCustomerID != "" {
		return *org.StripeCustomerID, nil
	}

	customerID, err := s.provider.CreateCustomer(ctx, CustomerRequest{OrganizationID: org.ID, Name: org.Name})
	if err != nil {
		return "", err
	}
	if err := s.store.SetCustomerID(ctx, org.ID, customerID, s.clock.Now().UTC()); err != nil {
		return "", err
	}
	org.StripeCustomerID = &customerID
	return customerID, nil
}

// Portal returns the provider's self-service billing portal URL.
func (s *CheckoutService) Portal(ctx context.Context, org *orgs.Organization, returnURL string) (string, error) {
	if org.StripeCustomerID == nil || *org.StripeCustomerID == "" {
		return "", ErrNoCustomer
	}
	return s.provider.PortalURL(ctx, *org.StripeCustomerID, returnURL)
}

func sortedValues(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]string, 0, len(keys))
	for _, k := range keys {
		values = append(values, m[k])
	}
	return values
}
