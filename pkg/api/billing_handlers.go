package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/orgkit/pkg/billing"
	"github.com/platinummonkey/orgkit/pkg/httputil"
	"github.com/platinummonkey/orgkit/pkg/middleware"
	"github.com/platinummonkey/orgkit/pkg/observability"
	"github.com/platinummonkey/orgkit/pkg/orgs"
	"github.com/platinummonkey/orgkit/pkg/rbac"
)

// StripeSignatureHeader carries the webhook signature.
const StripeSignatureHeader = "Stripe-Signature"

// maxWebhookBytes bounds webhook payloads.
const maxWebhookBytes = 1 << 20

// BillingHandlers handles pricing, checkout, the billing portal, metered
// usage and provider webhooks.
type BillingHandlers struct {
	orgs          *orgs.Service
	catalog       billing.Catalog
	subscriptions *billing.SubscriptionResolver
	checkout      *billing.CheckoutService
	usage         *billing.UsageReporter
	webhooks      *billing.WebhookHandler
	permissions   middleware.PermissionChecker
	returnURL     string
}

// NewBillingHandlers creates a new BillingHandlers. returnURL is where the
// billing portal sends users back to.
func NewBillingHandlers(
	service *orgs.Service,
	catalog billing.Catalog,
	subscriptions *billing.SubscriptionResolver,
	checkout *billing.CheckoutService,
	usage *billing.UsageReporter,
	webhooks *billing.WebhookHandler,
	permissions middleware.PermissionChecker,
	returnURL string,
) *BillingHandlers {
	return &BillingHandlers{
		orgs:          service,
		catalog:       catalog,
		subscriptions: subscriptions,
		checkout:      checkout,
		usage:         usage,
		webhooks:      webhooks,
		permissions:   permissions,
		returnURL:     returnURL,
	}
}

// RegisterPublicRoutes registers the routes that need no token.
func (h *BillingHandlers) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/pricing", h.Pricing).Methods("GET")
	router.HandleFunc("/webhooks/stripe", h.Webhook).Methods("POST")
}

// RegisterRoutes registers the authenticated billing routes. All of them
// act on the caller's current organization.
func (h *BillingHandlers) RegisterRoutes(router *mux.Router) {
	manage := middleware.RequirePermission(h.permissions, rbac.PermissionOrganizationUpdate)
	metered := httputil.Chain(
		middleware.RequireSubscription(h.subscriptions),
		middleware.RequirePlanLimit(h.subscriptions, billing.FeatureAITokens, "quantity"),
	)

	sub := router.PathPrefix("/billing").Subrouter()
	sub.Use(middleware.EnsureHasOrganization)
	sub.HandleFunc("", h.Summary).Methods("GET")
	sub.Handle("/checkout", manage(http.HandlerFunc(h.Checkout))).Methods("POST")
	sub.Handle("/portal", manage(http.HandlerFunc(h.Portal))).Methods("GET")
	sub.Handle("/usage", metered(http.HandlerFunc(h.ReportUsage))).Methods("POST")
}

// Pricing lists the active plans.
func (h *BillingHandlers) Pricing(w http.ResponseWriter, r *http.Request) {
	plans, err := h.catalog.ActivePlans(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if plans == nil {
		plans = []*billing.Plan{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"plans": plans})
}

// currentOrganization loads the caller's current organization from the
// store, billing customer included.
func (h *BillingHandlers) currentOrganization(w http.ResponseWriter, r *http.Request) (*orgs.Organization, bool) {
	user, ok := currentUser(w, r)
	if !ok {
		return nil, false
	}
	if !user.HasCurrentOrganization() {
		httputil.WriteConflict(w, "no_current_organization")
		return nil, false
	}

	org, err := h.orgs.Organization(r.Context(), *user.CurrentOrganizationID)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return org, true
}

type summaryResponse struct {
	*billing.Summary
	Plans []*billing.Plan `json:"plans"`
}

// Summary returns the current plan and subscription together with the
// plans available for an upgrade.
func (h *BillingHandlers) Summary(w http.ResponseWriter, r *http.Request) {
	org, ok := h.currentOrganization(w, r)
	if !ok {
		return
	}

	summary, err := h.subscriptions.Summary(r.Context(), org.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	plans, err := h.catalog.ActivePlans(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if plans == nil {
		plans = []*billing.Plan{}
	}
	httputil.WriteSuccess(w, summaryResponse{Summary: summary, Plans: plans})
}

// Checkout starts a hosted checkout for the requested plan.
func (h *BillingHandlers) Checkout(w http.ResponseWriter, r *http.Request) {
	org, ok := h.currentOrganization(w, r)
	if !ok {
		return
	}

	var input billing.SubscribeInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	session, err := h.checkout.Subscribe(r.Context(), org, input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, session)
}

// Portal returns the self-service billing portal URL.
func (h *BillingHandlers) Portal(w http.ResponseWriter, r *http.Request) {
	org, ok := h.currentOrganization(w, r)
	if !ok {
		return
	}

	url, err := h.checkout.Portal(r.Context(), org, h.returnURL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"url": url})
}

// ReportUsage records metered usage for the current organization. The
// report is delivered in the background; the response does not wait for
// the provider.
func (h *BillingHandlers) ReportUsage(w http.ResponseWriter, r *http.Request) {
	org, ok := h.currentOrganization(w, r)
	if !ok {
		return
	}

	meter := r.FormValue("meter")
	if meter == "" {
		meter = string(billing.FeatureAITokens)
	}
	quantity := httputil.InputInt64(r, "quantity")
	if quantity <= 0 {
		httputil.WriteFieldError(w, "quantity", "The quantity must be at least 1.")
		return
	}

	h.usage.ReportAsync(r.Context(), org, meter, quantity)
	httputil.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"meter":    meter,
		"quantity": quantity,
	})
}

// Webhook applies a provider webhook delivery. Invalid signatures and
// payloads get 400; store failures get 500 so the provider retries.
func (h *BillingHandlers) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read body")
		return
	}

	if err := h.webhooks.Handle(r.Context(), payload, r.Header.Get(StripeSignatureHeader)); err != nil {
		if errors.Is(err, billing.ErrInvalidWebhook) {
			observability.FromContext(r.Context()).WithError(err).Warn("rejected webhook")
			httputil.WriteBadRequest(w, "invalid webhook")
			return
		}
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]bool{"received": true})
}
