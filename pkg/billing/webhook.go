package billing

import (
	"context"
	"errors"

	"github.com/jonboulle/clockwork"

	"github.com/platinummonkey/orgkit/pkg/observability"
	"github.com/platinummonkey/orgkit/pkg/orgs"
)

// Subscription event types mirrored locally.
const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

func isSubscriptionEvent(eventType string) bool {
	switch eventType {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		return true
	}
	return false
}

// WebhookHandler applies provider events to the subscription mirror.
type WebhookHandler struct {
	provider Provider
	store    SubscriptionStore
	billing  orgs.BillingCache
	clock    clockwork.Clock
	metrics  *observability.Metrics
	logger   *observability.Logger
}

// NewWebhookHandler creates a webhook handler. billing may be nil.
func NewWebhookHandler(provider Provider, store SubscriptionStore, billing orgs.BillingCache, logger *observability.Logger) *WebhookHandler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &WebhookHandler{
		provider: provider,
		store:    store,
		billing:  billing,
		clock:    clockwork.NewRealClock(),
		logger:   logger,
	}
}

// WithClock replaces the clock, for tests.
func (h *WebhookHandler) WithClock(clock clockwork.Clock) *WebhookHandler {
	h.clock = clock
	return h
}

// WithMetrics enables webhook counters.
func (h *WebhookHandler) WithMetrics(metrics *observability.Metrics) *WebhookHandler {
	h.metrics = metrics
	return h
}

func (h *WebhookHandler) count(eventType, result string) {
	if h.metrics != nil {
		h.metrics.WebhookEventsTotal.WithLabelValues(eventType, result).Inc()
	}
}

// Handle verifies and applies one webhook delivery. Only store failures are
// returned, so the provider retries them; events that cannot be matched to
// an organization are logged and acknowledged.
func (h *WebhookHandler) Handle(ctx context.Context, payload []byte, signature string) error {
	event, err := h.provider.ParseWebhook(payload, signature)
	if err != nil {
		h.count("unknown", "invalid")
		return err
	}

	if !isSubscriptionEvent(event.Type) {
		h.count(event.Type, "ignored")
		return nil
	}

	logger := h.logger.WithFields(map[string]interface{}{
		"event_id":    event.ID,
		"event_type":  event.Type,
		"customer_id": event.CustomerID,
	})
	logger.Info("subscription event received")

	if event.CustomerID == "" || event.Subscription == nil {
		logger.Warn("missing customer id in payload")
		h.count(event.Type, "skipped")
		return nil
	}

	orgID, err := h.store.OrganizationByCustomer(ctx, event.CustomerID)
	if errors.Is(err, ErrNotFound) {
		logger.Warn("organization not found for customer")
		h.count(event.Type, "skipped")
		return nil
	}
	if err != nil {
		h.count(event.Type, "error")
		return err
	}

	sub := event.Subscription
	sub.OrganizationID = orgID
	now := h.clock.Now().UTC()
	if event.Type == EventSubscriptionDeleted {
		sub.Status = StatusCanceled
		if sub.EndsAt == nil {
			sub.EndsAt = &now
		}
	}
	if err := h.store.UpsertSubscription(ctx, sub, now); err != nil {
		h.count(event.Type, "error")
		return err
	}

	if h.billing != nil {
		h.billing.ClearBillingCache(ctx, orgID)
	}
	logger.WithField("organization_id", orgID).Debug("billing cache cleared")
	h.count(event.Type, "processed")
	return nil
}
