package billing

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/orgkit/pkg/observability"
)

func (f *fixture) webhooks() (*WebhookHandler, *observability.Metrics) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	h := NewWebhookHandler(f.provider, f.store, f.resolver, f.logger).WithClock(f.clock).WithMetrics(metrics)
	return h, metrics
}

func TestWebhook_SubscriptionCreated(t *testing.T) {
	f := newFixture(t)
	org := f.organization(t)
	f.withCustomer(t, org, "cus_1")
	handler, metrics := f.webhooks()

	key, err := f.resolver.CurrentPlanKey(f.ctx, org.ID)
	require.NoError(t, err)
	require.Equal(t, PlanFree, key)

	periodEnd := f.clock.Now().Add(30 * 24 * time.Hour)
	f.provider.event = &WebhookEvent{
		ID:         "evt_1",
		Type:       EventSubscriptionCreated,
		CustomerID: "cus_1",
		Subscription: &Subscription{
			ProviderID:       "sub_1",
			Status:           StatusActive,
			PriceID:          "price_pro_m",
			CurrentPeriodEnd: &periodEnd,
		},
	}
	require.NoError(t, handler.Handle(f.ctx, []byte(`{}`), "valid"))

	sub, err := f.store.CurrentSubscription(f.ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, "sub_1", sub.ProviderID)
	assert.Equal(t, "price_pro_m", sub.PriceID)

	key, err = f.resolver.CurrentPlanKey(f.ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, PlanPro, key, "webhook clears the cached plan")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.WebhookEventsTotal.WithLabelValues(EventSubscriptionCreated, "processed")))
}

func TestWebhook_SubscriptionDeleted(t *testing.T) {
	f := newFixture(t)
	org := f.organization(t)
	f.withCustomer(t, org, "cus_1")
	f.subscribe(t, org, "sub_1", "price_pro_m", StatusActive)
	handler, _ := f.webhooks()

	key, err := f.resolver.CurrentPlanKey(f.ctx, org.ID)
	require.NoError(t, err)
	require.Equal(t, PlanPro, key)

	f.provider.event = &WebhookEvent{
		ID:           "evt_2",
		Type:         EventSubscriptionDeleted,
		CustomerID:   "cus_1",
		Subscription: &Subscription{ProviderID: "sub_1", Status: StatusActive, PriceID: "price_pro_m"},
	}
	require.NoError(t, handler.Handle(f.ctx, []byte(`{}`), "valid"))

	sub, err := f.store.CurrentSubscription(f.ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, sub.Status)
	require.NotNil(t, sub.EndsAt)

	key, err = f.resolver.CurrentPlanKey(f.ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, PlanFree, key)
}

func TestWebhook_UnmatchedEventsAreAcknowledged(t *testing.T) {
	tests := []struct {
		name  string
		event *WebhookEvent
		log   string
	}{
		{
			name:  "unknown customer",
			event: &WebhookEvent{Type: EventSubscriptionUpdated, CustomerID: "cus_unknown", Subscription: &Subscription{ProviderID: "sub_9"}},
			log:   "organization not found for customer",
		},
		{
			name:  "missing customer",
			event: &WebhookEvent{Type: EventSubscriptionUpdated, Subscription: &Subscription{ProviderID: "sub_9"}},
			log:   "missing customer id",
		},
		{
			name:  "other event type",
			event: &WebhookEvent{Type: "invoice.paid", CustomerID: "cus_1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			org := f.organization(t)
			f.withCustomer(t, org, "cus_1")
			handler, _ := f.webhooks()
			f.provider.event = tt.event

			require.NoError(t, handler.Handle(f.ctx, []byte(`{}`), "valid"))

			_, err := f.store.CurrentSubscription(f.ctx, org.ID)
			assert.ErrorIs(t, err, ErrNotFound)
			if tt.log != "" {
				assert.Contains(t, f.logs.String(), tt.log)
			}
		})
	}
}

func TestWebhook_InvalidSignature(t *testing.T) {
	f := newFixture(t)
	handler, metrics := f.webhooks()
	f.provider.event = &WebhookEvent{Type: EventSubscriptionCreated}

	err := handler.Handle(f.ctx, []byte(`{}`), "forged")
	assert.ErrorIs(t, err, ErrInvalidWebhook)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.WebhookEventsTotal.WithLabelValues("unknown", "invalid")))
}
