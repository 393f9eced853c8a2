package billing

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/orgkit/pkg/cache"
	"github.com/platinummonkey/orgkit/pkg/observability"
	"github.com/platinummonkey/orgkit/pkg/orgs"
	"github.com/platinummonkey/orgkit/pkg/rbac"
	"github.com/platinummonkey/orgkit/pkg/storage/sqlitetest"
)

var keys = cache.Keys{Prefix: "saas"}

var errProviderDown = errors.New("stripe unavailable")

// fakeProvider records every call and answers with canned ids.
type fakeProvider struct {
	mu sync.Mutex

	customers []CustomerRequest
	checkouts []CheckoutRequest
	usage     []UsageEvent
	portals   []string
	event     *WebhookEvent

	err error
}

func (p *fakeProvider) CreateCustomer(_ context.Context, req CustomerRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.customers = append(p.customers, req)
	return "cus_test", nil
}

func (p *fakeProvider) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.checkouts = append(p.checkouts, req)
	return &CheckoutSession{ID: "cs_test", URL: "https://checkout.example.com/cs_test"}, nil
}

func (p *fakeProvider) PortalURL(_ context.Context, customerID, returnURL string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.portals = append(p.portals, customerID)
	return "https://portal.example.com/" + customerID, nil
}

func (p *fakeProvider) ReportUsage(_ context.Context, event UsageEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.usage = append(p.usage, event)
	return nil
}

func (p *fakeProvider) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	if signature != "valid" || p.event == nil {
		return nil, ErrInvalidWebhook
	}
	return p.event, nil
}

func (p *fakeProvider) usageEvents() []UsageEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]UsageEvent(nil), p.usage...)
}

type fixture struct {
	ctx      context.Context
	clock    *clockwork.FakeClock
	store    *PostgresStore
	orgs     *orgs.Service
	cache    *cache.MemoryCache
	catalog  *CachedCatalog
	resolver *SubscriptionResolver
	provider *fakeProvider
	logs     *bytes.Buffer
	logger   *observability.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := sqlitetest.Open(t)

	f := &fixture{
		ctx:      context.Background(),
		clock:    clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)),
		store:    NewPostgresStore(db),
		provider: &fakeProvider{},
		logs:     &bytes.Buffer{},
	}
	f.logger = observability.NewLogger(observability.DebugLevel, f.logs)
	f.cache = cache.NewMemoryCache(100, time.Hour, f.clock)
	f.catalog = NewCachedCatalog(f.store, f.cache, keys, time.Hour, f.logger)
	f.resolver = NewSubscriptionResolver(f.store, f.catalog, f.cache, keys, f.logger).WithClock(f.clock)
	f.orgs = orgs.NewService(orgs.NewPostgresStore(db), rbac.DefaultRegistry(), nil, nil, orgs.Config{}, nil).
		WithClock(f.clock).
		WithBillingCache(f.resolver)

	f.seedCatalog(t)
	return f
}

// seedCatalog stores the shipped free, pro and enterprise plans.
func (f *fixture) seedCatalog(t *testing.T) {
	t.Helper()
	plans := []*Plan{
		{
			Key: PlanFree, Name: "Free", SortOrder: 0, Active: true,
			Limits: map[Feature]*int64{FeatureItems: int64Ptr(10), FeatureAITokens: int64Ptr(1000)},
		},
		{
			Key: PlanPro, Name: "Pro", SortOrder: 1, Active: true, ProductID: "prod_pro",
			PriceIDs:        map[Interval]string{IntervalMonthly: "price_pro_m", IntervalYearly: "price_pro_y"},
			MeteredPriceIDs: map[string]string{"ai_tokens_extra": "price_tokens"},
			Limits:          map[Feature]*int64{FeatureItems: int64Ptr(1000), FeatureAITokens: int64Ptr(50000)},
		},
		{
			Key: PlanEnterprise, Name: "Enterprise", SortOrder: 2, Active: true, ProductID: "prod_ent",
			PriceIDs: map[Interval]string{IntervalMonthly: "price_ent_m"},
			Limits:   map[Feature]*int64{FeatureItems: nil, FeatureAITokens: nil},
		},
	}
	for _, plan := range plans {
		require.NoError(t, f.store.UpsertPlan(f.ctx, plan, f.clock.Now()))
	}
	require.NoError(t, f.store.UpsertMeter(f.ctx, &BillingMeter{
		Key: "ai_tokens", DisplayName: "AI Token Usage", EventName: "ai_tokens_used", ProviderMeterID: "mtr_1",
	}, f.clock.Now()))
}

func (f *fixture) organization(t *testing.T) *orgs.Organization {
	t.Helper()
	user, err := f.orgs.RegisterUser(f.ctx, orgs.RegisterUserInput{Name: "Ada", Email: "ada@example.com"})
	require.NoError(t, err)
	org, err := f.orgs.CreateOrganization(f.ctx, user, orgs.CreateOrganizationInput{Name: "Acme"})
	require.NoError(t, err)
	return org
}

// subscribe mirrors a provider subscription for org on priceID.
func (f *fixture) subscribe(t *testing.T, org *orgs.Organization, id, priceID string, status SubscriptionStatus) *Subscription {
	t.Helper()
	sub := &Subscription{
		OrganizationID: org.ID,
		ProviderID:     id,
		Status:         status,
		PriceID:        priceID,
	}
	require.NoError(t, f.store.UpsertSubscription(f.ctx, sub, f.clock.Now()))
	f.resolver.ClearBillingCache(f.ctx, org.ID)
	return sub
}

func (f *fixture) withCustomer(t *testing.T, org *orgs.Organization, customerID string) {
	t.Helper()
	require.NoError(t, f.store.SetCustomerID(f.ctx, org.ID, customerID, f.clock.Now()))
	org.StripeCustomerID = &customerID
}
