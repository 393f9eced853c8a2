package jobs

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/orgkit/pkg/billing"
	"github.com/platinummonkey/orgkit/pkg/cache"
	"github.com/platinummonkey/orgkit/pkg/notify"
	"github.com/platinummonkey/orgkit/pkg/observability"
	"github.com/platinummonkey/orgkit/pkg/orgs"
	"github.com/platinummonkey/orgkit/pkg/rbac"
	"github.com/platinummonkey/orgkit/pkg/storage/sqlitetest"
)

// outbox records every delivered message.
type outbox struct {
	mu   sync.Mutex
	sent []notify.Message
	to   []notify.Recipient
}

func (o *outbox) Notify(_ context.Context, to notify.Recipient, msg notify.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	o.to = append(o.to, to)
	return nil
}

func (o *outbox) messages() []notify.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]notify.Message(nil), o.sent...)
}

type fixture struct {
	ctx       context.Context
	clock     *clockwork.FakeClock
	orgStore  *orgs.PostgresStore
	orgs      *orgs.Service
	billing   *billing.PostgresStore
	inbox     *notify.PostgresStore
	outbox    *outbox
	metrics   *observability.Metrics
	runner    *Runner
	logs      *bytes.Buffer
	userCount int
}

func int64Ptr(v int64) *int64 { return &v }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := sqlitetest.Open(t)

	f := &fixture{
		ctx:      context.Background(),
		clock:    clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)),
		orgStore: orgs.NewPostgresStore(db),
		billing:  billing.NewPostgresStore(db),
		inbox:    notify.NewPostgresStore(db),
		outbox:   &outbox{},
		metrics:  observability.NewMetrics(prometheus.NewRegistry()),
		logs:     &bytes.Buffer{},
	}
	logger := observability.NewLogger(observability.DebugLevel, f.logs)
	f.orgs = orgs.NewService(f.orgStore, rbac.DefaultRegistry(), nil, nil, orgs.Config{}, nil).WithClock(f.clock)

	for _, plan := range []*billing.Plan{
		{
			Key: billing.PlanFree, Name: "Free", Active: true,
			Limits: map[billing.Feature]*int64{billing.FeatureItems: int64Ptr(10), billing.FeatureAITokens: int64Ptr(1000)},
		},
		{
			Key: billing.PlanPro, Name: "Pro", SortOrder: 1, Active: true,
			PriceIDs: map[billing.Interval]string{billing.IntervalMonthly: "price_pro_m"},
			Limits:   map[billing.Feature]*int64{billing.FeatureItems: int64Ptr(1000)},
		},
		{
			Key: billing.PlanEnterprise, Name: "Enterprise", SortOrder: 2, Active: true,
			PriceIDs: map[billing.Interval]string{billing.IntervalMonthly: "price_ent_m"},
			Limits:   map[billing.Feature]*int64{billing.FeatureItems: nil, billing.FeatureAITokens: nil},
		},
	} {
		require.NoError(t, f.billing.UpsertPlan(f.ctx, plan, f.clock.Now()))
	}

	keys := cache.Keys{Prefix: "saas"}
	catalog := billing.NewCachedCatalog(f.billing, cache.NoopCache{}, keys, time.Hour, logger)
	resolver := billing.NewSubscriptionResolver(f.billing, catalog, cache.NoopCache{}, keys, logger).WithClock(f.clock)
	notifier := notify.NewDatabaseNotifier(f.inbox, f.outbox, f.clock)

	f.runner = NewRunner(NewPostgresStore(db), resolver, MemberUsage{Members: f.orgStore}, f.inbox, notifier, Config{}, logger).
		WithClock(f.clock).
		WithMetrics(f.metrics)
	return f
}

func (f *fixture) organization(t *testing.T, name string) *orgs.Organization {
	t.Helper()
	f.userCount++
	user, err := f.orgs.RegisterUser(f.ctx, orgs.RegisterUserInput{
		Name:  name + " Owner",
		Email: fmt.Sprintf("owner%d@example.com", f.userCount),
	})
	require.NoError(t, err)
	org, err := f.orgs.CreateOrganization(f.ctx, user, orgs.CreateOrganizationInput{Name: name})
	require.NoError(t, err)
	return org
}

func (f *fixture) addMembers(t *testing.T, org *orgs.Organization, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		f.userCount++
		user := &orgs.User{
			Name:      fmt.Sprintf("Member %d", f.userCount),
			Email:     fmt.Sprintf("member%d@example.com", f.userCount),
			CreatedAt: f.clock.Now(),
			UpdatedAt: f.clock.Now(),
		}
		require.NoError(t, f.orgStore.CreateUser(f.ctx, user, nil))
		require.NoError(t, f.orgStore.AddMember(f.ctx, org.ID, user.ID, rbac.RoleMember, f.clock.Now()))
	}
}

func (f *fixture) subscribe(t *testing.T, org *orgs.Organization, priceID string, status billing.SubscriptionStatus, trialEnds, ends *time.Time) {
	t.Helper()
	require.NoError(t, f.billing.UpsertSubscription(f.ctx, &billing.Subscription{
		OrganizationID: org.ID,
		ProviderID:     fmt.Sprintf("sub_%d", org.ID),
		Status:         status,
		PriceID:        priceID,
		TrialEndsAt:    trialEnds,
		EndsAt:         ends,
	}, f.clock.Now()))
}

func at(t time.Time) *time.Time { return &t }

func TestCheckExpiringPlans(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()

	trialing := f.organization(t, "Trialing")
	f.subscribe(t, trialing, "price_pro_m", billing.StatusTrialing, at(now.AddDate(0, 0, 7).Add(6*time.Hour)), nil)

	cancelled := f.organization(t, "Cancelled")
	f.subscribe(t, cancelled, "price_pro_m", billing.StatusActive, nil, at(now.AddDate(0, 0, 3).Add(-8*time.Hour)))

	later := f.organization(t, "Later")
	f.subscribe(t, later, "price_pro_m", billing.StatusTrialing, at(now.AddDate(0, 0, 5)), nil)

	f.organization(t, "Unsubscribed")

	sent, err := f.runner.CheckExpiringPlans(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	subjects := map[string]bool{}
	for _, msg := range f.outbox.messages() {
		assert.Equal(t, notify.KindPlanExpiring, msg.Kind)
		subjects[msg.Subject] = true
	}
	assert.Equal(t, map[string]bool{"Pro expires in 7 days": true, "Pro expires in 3 days": true}, subjects)

	inbox, err := f.inbox.List(f.ctx, trialing.OwnerID, false, 10)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, float64(trialing.ID), inbox[0].Data["organization_id"])
	assert.Equal(t, float64(7), inbox[0].Data["days_remaining"])

	t.Run("notifies each offset once", func(t *testing.T) {
		sent, err := f.runner.CheckExpiringPlans(f.ctx)
		require.NoError(t, err)
		assert.Zero(t, sent)
	})

	t.Run("later offsets notify again", func(t *testing.T) {
		f.clock.Advance(4 * 24 * time.Hour)
		sent, err := f.runner.CheckExpiringPlans(f.ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, sent, "trialing is 3 days out, later is 1 day out")

		inbox, err := f.inbox.List(f.ctx, later.OwnerID, false, 10)
		require.NoError(t, err)
		require.Len(t, inbox, 1)
		assert.Equal(t, "Pro expires in 1 day", inbox[0].Subject)
	})

	assert.Equal(t, float64(3), testutil.ToFloat64(f.metrics.JobRunsTotal.WithLabelValues(JobCheckExpiringPlans, "success")))
}

func TestCheckUsageLimits(t *testing.T) {
	f := newFixture(t)

	org := f.organization(t, "Growing")
	f.addMembers(t, org, 7)

	unlimited := f.organization(t, "Enterprise")
	f.addMembers(t, unlimited, 12)
	f.subscribe(t, unlimited, "price_ent_m", billing.StatusActive, nil, nil)

	sent, err := f.runner.CheckUsageLimits(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent, "8 of 10 members reaches 80%")

	msgs := f.outbox.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, notify.KindUsageThreshold, msgs[0].Kind)
	assert.Equal(t, "Usage alert: 80% of items limit reached", msgs[0].Subject)
	assert.Equal(t, "items", msgs[0].Data["feature"])
	assert.Equal(t, int64(8), msgs[0].Data["current_usage"])
	assert.Equal(t, int64(10), msgs[0].Data["limit"])

	t.Run("next threshold only", func(t *testing.T) {
		f.addMembers(t, org, 1)
		sent, err := f.runner.CheckUsageLimits(f.ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, sent)
		assert.Equal(t, "Usage alert: 90% of items limit reached", f.outbox.messages()[1].Subject)
	})

	t.Run("once per month", func(t *testing.T) {
		sent, err := f.runner.CheckUsageLimits(f.ctx)
		require.NoError(t, err)
		assert.Zero(t, sent)
	})

	t.Run("new month notifies again", func(t *testing.T) {
		f.clock.Advance(31 * 24 * time.Hour)
		sent, err := f.runner.CheckUsageLimits(f.ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, sent)
	})

	inbox, err := f.inbox.List(f.ctx, unlimited.OwnerID, false, 10)
	require.NoError(t, err)
	assert.Empty(t, inbox, "unlimited plans never alert")
}

func TestCheckUsageLimits_Pages(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < pageSize+5; i++ {
		f.organization(t, fmt.Sprintf("Org %d", i))
	}
	last := f.organization(t, "Last")
	f.addMembers(t, last, 8)

	sent, err := f.runner.CheckUsageLimits(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sent, "organizations past the first page are checked")
}

func TestRun(t *testing.T) {
	f := newFixture(t)

	sent, err := f.runner.Run(f.ctx, JobCheckUsageLimits)
	require.NoError(t, err)
	assert.Zero(t, sent)

	_, err = f.runner.Run(f.ctx, "rebuild_search_index")
	var unknown *UnknownJobError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "rebuild_search_index", unknown.Job)
}
