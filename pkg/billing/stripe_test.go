package billing

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79/webhook"
)

const testWebhookSecret = "whsec_test"

func signedPayload(t *testing.T, payload string) (string, []byte) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: []byte(payload),
		Secret:  testWebhookSecret,
	})
	return signed.Header, signed.Payload
}

func TestStripeProvider_ParseSubscriptionEvent(t *testing.T) {
	p := NewStripeProvider(StripeConfig{SecretKey: "sk_test", WebhookSecret: testWebhookSecret}, nil)

	payload := `{
		"id": "evt_1",
		"object": "event",
		"type": "customer.subscription.updated",
		"data": {"object": {
			"id": "sub_1",
			"object": "subscription",
			"customer": "cus_1",
			"status": "trialing",
			"trial_end": 1775000000,
			"current_period_end": 1776000000,
			"cancel_at_period_end": true,
			"items": {"object": "list", "data": [
				{"id": "si_1", "object": "subscription_item", "quantity": 0,
				 "price": {"id": "price_tokens", "object": "price", "recurring": {"interval": "month", "usage_type": "metered"}}},
				{"id": "si_2", "object": "subscription_item", "quantity": 1,
				 "price": {"id": "price_pro_m", "object": "price", "recurring": {"interval": "month", "usage_type": "licensed"}}}
			]}
		}}
	}`
	header, body := signedPayload(t, payload)

	event, err := p.ParseWebhook(body, header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, EventSubscriptionUpdated, event.Type)
	assert.Equal(t, "cus_1", event.CustomerID)

	sub := event.Subscription
	require.NotNil(t, sub)
	assert.Equal(t, "sub_1", sub.ProviderID)
	assert.Equal(t, StatusTrialing, sub.Status)
	assert.Equal(t, "price_pro_m", sub.PriceID, "metered items do not identify the plan")
	require.NotNil(t, sub.Quantity)
	assert.Equal(t, int64(1), *sub.Quantity)
	require.NotNil(t, sub.TrialEndsAt)
	assert.Equal(t, time.Unix(1775000000, 0).UTC(), *sub.TrialEndsAt)
	require.NotNil(t, sub.EndsAt)
	assert.Equal(t, time.Unix(1776000000, 0).UTC(), *sub.EndsAt, "cancel at period end ends with the period")
}

func TestStripeProvider_ParseOtherEvent(t *testing.T) {
	p := NewStripeProvider(StripeConfig{SecretKey: "sk_test", WebhookSecret: testWebhookSecret}, nil)
	header, body := signedPayload(t, `{"id": "evt_2", "object": "event", "type": "invoice.paid", "data": {"object": {"id": "in_1", "object": "invoice"}}}`)

	event, err := p.ParseWebhook(body, header)
	require.NoError(t, err)
	assert.Equal(t, "invoice.paid", event.Type)
	assert.Nil(t, event.Subscription)
}

func TestStripeProvider_RejectsBadSignature(t *testing.T) {
	p := NewStripeProvider(StripeConfig{SecretKey: "sk_test", WebhookSecret: testWebhookSecret}, nil)
	_, body := signedPayload(t, `{"id": "evt_3", "object": "event", "type": "invoice.paid"}`)

	_, err := p.ParseWebhook(body, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidWebhook)
}

// stripeServer answers Stripe API calls with fixed objects and records the
// decoded form of each request.
func stripeServer(t *testing.T, responses map[string]string) (*StripeProvider, map[string]map[string][]string) {
	t.Helper()
	forms := map[string]map[string][]string{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		key := r.Method + " " + r.URL.Path
		forms[key] = r.PostForm

		body, ok := responses[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error": {"type": "invalid_request_error", "message": "no such route"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)

	p := NewStripeProvider(StripeConfig{SecretKey: "sk_test", BackendURL: srv.URL}, nil)
	return p, forms
}

func TestStripeProvider_CreateCustomer(t *testing.T) {
	p, forms := stripeServer(t, map[string]string{
		"POST /v1/customers": `{"id": "cus_new", "object": "customer"}`,
	})

	id, err := p.CreateCustomer(context.Background(), CustomerRequest{OrganizationID: 7, Name: "Acme", Email: "billing@acme.test"})
	require.NoError(t, err)
	assert.Equal(t, "cus_new", id)

	form := forms["POST /v1/customers"]
	assert.Equal(t, []string{"Acme"}, form["name"])
	assert.Equal(t, []string{"billing@acme.test"}, form["email"])
	assert.Equal(t, []string{"7"}, form["metadata[organization_id]"])
}

func TestStripeProvider_CreateCheckoutSession(t *testing.T) {
	p, forms := stripeServer(t, map[string]string{
		"POST /v1/checkout/sessions": `{"id": "cs_1", "object": "checkout.session", "url": "https://checkout.stripe.com/c/pay/cs_1"}`,
	})

	session, err := p.CreateCheckoutSession(context.Background(), CheckoutRequest{
		CustomerID:      "cus_1",
		PriceIDs:        []string{"price_pro_m"},
		MeteredPriceIDs: []string{"price_tokens"},
		TrialDays:       14,
		Metadata:        map[string]string{"plan_key": "pro"},
		SuccessURL:      "https://app.example.com/ok",
		CancelURL:       "https://app.example.com/cancel",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_1", session.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_1", session.URL)

	form := forms["POST /v1/checkout/sessions"]
	assert.Equal(t, []string{"subscription"}, form["mode"])
	assert.Equal(t, []string{"cus_1"}, form["customer"])
	assert.Equal(t, []string{"price_pro_m"}, form["line_items[0][price]"])
	assert.Equal(t, []string{"1"}, form["line_items[0][quantity]"])
	assert.Equal(t, []string{"price_tokens"}, form["line_items[1][price]"])
	assert.Empty(t, form["line_items[1][quantity]"])
	assert.Equal(t, []string{"14"}, form["subscription_data[trial_period_days]"])
	assert.Equal(t, []string{"pro"}, form["subscription_data[metadata][plan_key]"])
	assert.Equal(t, []string{"true"}, form["allow_promotion_codes"])
}

func TestStripeProvider_ReportUsage(t *testing.T) {
	p, forms := stripeServer(t, map[string]string{
		"POST /v1/billing/meter_events": `{"object": "billing.meter_event", "event_name": "ai_tokens_used"}`,
	})

	err := p.ReportUsage(context.Background(), UsageEvent{
		EventName:  "ai_tokens_used",
		CustomerID: "cus_1",
		Value:      120,
		Timestamp:  time.Unix(1775000000, 0),
	})
	require.NoError(t, err)

	form := forms["POST /v1/billing/meter_events"]
	assert.Equal(t, []string{"ai_tokens_used"}, form["event_name"])
	assert.Equal(t, []string{"cus_1"}, form["payload[stripe_customer_id]"])
	assert.Equal(t, []string{"120"}, form["payload[value]"])
	assert.Equal(t, []string{"1775000000"}, form["timestamp"])
}

func TestStripeProvider_APIError(t *testing.T) {
	p, _ := stripeServer(t, map[string]string{})

	_, err := p.PortalURL(context.Background(), "cus_1", "https://app.example.com/billing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create billing portal session")
}

func TestStripeProvider_CatalogCalls(t *testing.T) {
	p, forms := stripeServer(t, map[string]string{
		"POST /v1/billing/meters":    `{"id": "mtr_1", "object": "billing.meter"}`,
		"POST /v1/products":          `{"id": "prod_1", "object": "product"}`,
		"GET /v1/prices/price_old":   `{"id": "price_old", "object": "price", "unit_amount": 2900}`,
		"POST /v1/prices":            `{"id": "price_new", "object": "price"}`,
		"POST /v1/prices/price_old":  `{"id": "price_old", "object": "price", "active": false}`,
		"POST /v1/products/prod_old": `{"id": "prod_old", "object": "product", "active": false}`,
	})
	ctx := context.Background()

	meterID, err := p.CreateMeter(ctx, "AI Token Usage", "ai_tokens_used")
	require.NoError(t, err)
	assert.Equal(t, "mtr_1", meterID)
	assert.Equal(t, []string{"sum"}, forms["POST /v1/billing/meters"]["default_aggregation[formula]"])

	productID, err := p.UpsertProduct(ctx, "", "Pro", "For growing teams")
	require.NoError(t, err)
	assert.Equal(t, "prod_1", productID)

	amount, err := p.PriceAmount(ctx, "price_old")
	require.NoError(t, err)
	assert.Equal(t, int64(2900), amount)

	priceID, err := p.CreatePrice(ctx, PriceRequest{ProductID: "prod_1", Amount: 1, Currency: "usd", Interval: IntervalMonthly, MeterID: "mtr_1"})
	require.NoError(t, err)
	assert.Equal(t, "price_new", priceID)
	form := forms["POST /v1/prices"]
	assert.Equal(t, []string{"metered"}, form["recurring[usage_type]"])
	assert.Equal(t, []string{"mtr_1"}, form["recurring[meter]"])
	assert.Equal(t, []string{"month"}, form["recurring[interval]"])

	require.NoError(t, p.DeactivatePrice(ctx, "price_old"))
	assert.Equal(t, []string{"false"}, forms["POST /v1/prices/price_old"]["active"])

	require.NoError(t, p.DeactivateProduct(ctx, "prod_old"))
	assert.Equal(t, []string{"false"}, forms["POST /v1/products/prod_old"]["active"])
}
