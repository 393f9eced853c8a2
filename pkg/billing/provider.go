package billing

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidWebhook is returned when a webhook payload is malformed or its
// signature does not verify.
var ErrInvalidWebhook = errors.New("invalid webhook")

// CustomerRequest describes the customer created for an organization.
type CustomerRequest struct {
	OrganizationID int64
	Name           string
	Email          string
}

// CheckoutRequest describes a hosted subscription checkout.
type CheckoutRequest struct {
	CustomerID string
	// PriceIDs are licensed prices billed at quantity one.
	PriceIDs []string
	// MeteredPriceIDs are usage based prices billed from meter events.
	MeteredPriceIDs []string
	// TrialDays is zero for no trial.
	TrialDays  int
	Metadata   map[string]string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is a hosted checkout the customer is redirected to.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// UsageEvent is one metered usage report.
type UsageEvent struct {
	EventName  string
	CustomerID string
	Value      int64
	Timestamp  time.Time
}

// WebhookEvent is a verified provider event. Subscription is set for
// subscription events.
type WebhookEvent struct {
	ID           string
	Type         string
	CustomerID   string
	Subscription *Subscription
}

// Provider is the payment provider used at request time.
type Provider interface {
	CreateCustomer(ctx context.Context, req CustomerRequest) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	PortalURL(ctx context.Context, customerID, returnURL string) (string, error)
	ReportUsage(ctx context.Context, event UsageEvent) error
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// PriceRequest describes a recurring price. A non-empty MeterID makes the
// price metered.
type PriceRequest struct {
	ProductID string
	Amount    int64
	Currency  string
	Interval  Interval
	MeterID   string
}

// CatalogProvider manages products, prices and meters on the provider side.
// It is only used by the catalog sync.
type CatalogProvider interface {
	CreateMeter(ctx context.Context, displayName, eventName string) (string, error)
	// UpsertProduct updates productID, or creates a product when it is empty,
	// and returns the product id.
	UpsertProduct(ctx context.Context, productID, name, description string) (string, error)
	DeactivateProduct(ctx context.Context, productID string) error
	PriceAmount(ctx context.Context, priceID string) (int64, error)
	CreatePrice(ctx context.Context, req PriceRequest) (string, error)
	DeactivatePrice(ctx context.Context, priceID string) error
}
