package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/platinummonkey/orgkit/pkg/observability"
)

// StripeConfig configures the Stripe provider.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	// BackendURL overrides the API endpoint, for tests and stripe-mock.
	BackendURL        string
	MaxNetworkRetries int64
}

// StripeProvider implements Provider and CatalogProvider with stripe-go.
type StripeProvider struct {
	client        *client.API
	webhookSecret string
	logger        *observability.Logger
}

// NewStripeProvider creates a Stripe client. API calls are logged through
// logger at the level Stripe reports them.
func NewStripeProvider(config StripeConfig, logger *observability.Logger) *StripeProvider {
	if logger == nil {
		logger = observability.NopLogger()
	}

	backendConfig := &stripe.BackendConfig{
		LeveledLogger:     logger,
		MaxNetworkRetries: stripe.Int64(config.MaxNetworkRetries),
	}
	if config.BackendURL != "" {
		backendConfig.URL = stripe.String(config.BackendURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig)
	backends := &stripe.Backends{API: backend, Connect: backend, Uploads: backend}

	return &StripeProvider{
		client:        client.New(config.SecretKey, backends),
		webhookSecret: config.WebhookSecret,
		logger:        logger,
	}
}

// CreateCustomer implements Provider.
func (p *StripeProvider) CreateCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	params := &stripe.CustomerParams{Name: stripe.String(req.Name)}
	if req.Email != "" {
		params.Email = stripe.String(req.Email)
	}
	params.AddMetadata("organization_id", strconv.FormatInt(req.OrganizationID, 10))
	params.Context = ctx

	customer, err := p.client.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create stripe customer: %w", err)
	}
	return customer.ID, nil
}

// CreateCheckoutSession implements Provider.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:                stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:            stripe.String(req.CustomerID),
		SuccessURL:          stripe.String(req.SuccessURL),
		CancelURL:           stripe.String(req.CancelURL),
		AllowPromotionCodes: stripe.Bool(true),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: req.Metadata,
		},
	}
	if req.TrialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripe.Int64(int64(req.TrialDays))
	}
	for _, id := range req.PriceIDs {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Price:    stripe.String(id),
			Quantity: stripe.Int64(1),
		})
	}
	for _, id := range req.MeteredPriceIDs {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Price: stripe.String(id),
		})
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	session, err := p.client.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return &CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// PortalURL implements Provider.
func (p *StripeProvider) PortalURL(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	session, err := p.client.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create billing portal session: %w", err)
	}
	return session.URL, nil
}

// ReportUsage implements Provider with a billing meter event.
func (p *StripeProvider) ReportUsage(ctx context.Context, event UsageEvent) error {
	params := &stripe.BillingMeterEventParams{
		EventName: stripe.String(event.EventName),
		Payload: map[string]string{
			"stripe_customer_id": event.CustomerID,
			"value":              strconv.FormatInt(event.Value, 10),
		},
	}
	if !event.Timestamp.IsZero() {
		params.Timestamp = stripe.Int64(event.Timestamp.Unix())
	}
	params.Context = ctx

	if _, err := p.client.BillingMeterEvents.New(params); err != nil {
		return fmt.Errorf("failed to report meter event: %w", err)
	}
	return nil
}

// ParseWebhook implements Provider. The signature is the Stripe-Signature
// header.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}

	out := &WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if !strings.HasPrefix(out.Type, "customer.subscription.") || event.Data == nil {
		return out, nil
	}

	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, fmt.Errorf("%w: failed to decode subscription: %v", ErrInvalidWebhook, err)
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	out.Subscription = subscriptionFromStripe(&sub)
	return out, nil
}

func unixPtr(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

// subscriptionFromStripe maps a Stripe subscription onto the local mirror.
// The plan price is the first licensed item; metered items are ignored.
func subscriptionFromStripe(sub *stripe.Subscription) *Subscription {
	out := &Subscription{
		Type:             DefaultSubscriptionType,
		ProviderID:       sub.ID,
		Status:           SubscriptionStatus(sub.Status),
		TrialEndsAt:      unixPtr(sub.TrialEnd),
		CurrentPeriodEnd: unixPtr(sub.CurrentPeriodEnd),
	}

	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item.Price == nil {
				continue
			}
			if item.Price.Recurring != nil && item.Price.Recurring.UsageType == stripe.PriceRecurringUsageTypeMetered {
				continue
			}
			out.PriceID = item.Price.ID
			quantity := item.Quantity
			out.Quantity = &quantity
			break
		}
	}

	switch {
	case sub.CancelAtPeriodEnd:
		out.EndsAt = unixPtr(sub.CurrentPeriodEnd)
	case sub.CancelAt > 0:
		out.EndsAt = unixPtr(sub.CancelAt)
	case sub.EndedAt > 0:
		out.EndsAt = unixPtr(sub.EndedAt)
	}
	return out
}

// CreateMeter implements CatalogProvider. Meters sum their event values and
// read the customer from the stripe_customer_id payload key.
func (p *StripeProvider) CreateMeter(ctx context.Context, displayName, eventName string) (string, error) {
	params := &stripe.BillingMeterParams{
		DisplayName: stripe.String(displayName),
		EventName:   stripe.String(eventName),
		DefaultAggregation: &stripe.BillingMeterDefaultAggregationParams{
			Formula: stripe.String("sum"),
		},
	}
	params.Context = ctx

	meter, err := p.client.BillingMeters.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create meter: %w", err)
	}
	return meter.ID, nil
}

// UpsertProduct implements CatalogProvider.
func (p *StripeProvider) UpsertProduct(ctx context.Context, productID, name, description string) (string, error) {
	params := &stripe.ProductParams{Name: stripe.String(name)}
	if description != "" {
		params.Description = stripe.String(description)
	}
	params.Context = ctx

	if productID != "" {
		if _, err := p.client.Products.Update(productID, params); err != nil {
			return productID, fmt.Errorf("failed to update product %s: %w", productID, err)
		}
		return productID, nil
	}

	product, err := p.client.Products.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create product: %w", err)
	}
	return product.ID, nil
}

// DeactivateProduct implements CatalogProvider.
func (p *StripeProvider) DeactivateProduct(ctx context.Context, productID string) error {
	params := &stripe.ProductParams{Active: stripe.Bool(false)}
	params.Context = ctx
	if _, err := p.client.Products.Update(productID, params); err != nil {
		return fmt.Errorf("failed to deactivate product %s: %w", productID, err)
	}
	return nil
}

// PriceAmount implements CatalogProvider.
func (p *StripeProvider) PriceAmount(ctx context.Context, priceID string) (int64, error) {
	params := &stripe.PriceParams{}
	params.Context = ctx
	price, err := p.client.Prices.Get(priceID, params)
	if err != nil {
		return 0, fmt.Errorf("failed to get price %s: %w", priceID, err)
	}
	return price.UnitAmount, nil
}

func stripeInterval(interval Interval) string {
	switch interval {
	case IntervalYearly:
		return string(stripe.PriceRecurringIntervalYear)
	default:
		return string(stripe.PriceRecurringIntervalMonth)
	}
}

// CreatePrice implements CatalogProvider.
func (p *StripeProvider) CreatePrice(ctx context.Context, req PriceRequest) (string, error) {
	recurring := &stripe.PriceRecurringParams{
		Interval: stripe.String(stripeInterval(req.Interval)),
	}
	if req.MeterID != "" {
		recurring.UsageType = stripe.String(string(stripe.PriceRecurringUsageTypeMetered))
		recurring.Meter = stripe.String(req.MeterID)
	}
	params := &stripe.PriceParams{
		Product:    stripe.String(req.ProductID),
		UnitAmount: stripe.Int64(req.Amount),
		Currency:   stripe.String(req.Currency),
		Recurring:  recurring,
	}
	params.Context = ctx

	price, err := p.client.Prices.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create price: %w", err)
	}
	return price.ID, nil
}

// DeactivatePrice implements CatalogProvider.
func (p *StripeProvider) DeactivatePrice(ctx context.Context, priceID string) error {
	params := &stripe.PriceParams{Active: stripe.Bool(false)}
	params.Context = ctx
	if _, err := p.client.Prices.Update(priceID, params); err != nil {
		return fmt.Errorf("failed to deactivate price %s: %w", priceID, err)
	}
	return nil
}
