package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/orgkit/pkg/auth"
	"github.com/platinummonkey/orgkit/pkg/authz"
	"github.com/platinummonkey/orgkit/pkg/billing"
	"github.com/platinummonkey/orgkit/pkg/httputil"
	"github.com/platinummonkey/orgkit/pkg/middleware"
	"github.com/platinummonkey/orgkit/pkg/notify"
	"github.com/platinummonkey/orgkit/pkg/observability"
	"github.com/platinummonkey/orgkit/pkg/orgs"
)

// writeError maps service errors onto responses: validation failures to
// 422, missing rows to 404, policy denials to 403, plan limits to 402.
// Anything else is logged and answered with an opaque 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if ve, ok := orgs.AsValidationError(err); ok {
		httputil.WriteCodedFieldError(w, ve.Field, ve.Code, ve.Message)
		return
	}

	var limitErr *billing.LimitExceededError
	switch {
	case errors.As(err, &limitErr):
		httputil.WritePaymentRequired(w, middleware.PlanLimitMessage, string(limitErr.Feature))
	case errors.Is(err, authz.ErrForbidden):
		httputil.WriteForbidden(w, middleware.ForbiddenMessage)
	case errors.Is(err, orgs.ErrNotFound),
		errors.Is(err, billing.ErrNotFound),
		errors.Is(err, notify.ErrNotFound),
		errors.Is(err, auth.ErrNotFound):
		httputil.WriteNotFoundError(w, "not found")
	case errors.Is(err, billing.ErrNoCustomer):
		httputil.WriteConflict(w, "no_billing_customer")
	default:
		observability.FromContext(r.Context()).WithError(err).WithField("path", r.URL.Path).Error("request failed")
		httputil.WriteInternalError(w)
	}
}

// currentUser returns the authenticated user. Routes using it are mounted
// behind middleware.Authenticator, so a missing user is a wiring bug.
func currentUser(w http.ResponseWriter, r *http.Request) (*orgs.User, bool) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
	}
	return user, ok
}
