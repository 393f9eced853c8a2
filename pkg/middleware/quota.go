package middleware

import (
	"context"
	"net/http"

	"github.com/platinummonkey/orgkit/pkg/billing"
	"github.com/platinummonkey/orgkit/pkg/httputil"
	"github.com/platinummonkey/orgkit/pkg/observability"
)

const (
	// PlanLimitMessage is returned with 402 when a plan limit is reached.
	PlanLimitMessage = "You have reached the limit for this feature. Please upgrade your plan."
	// SubscriptionRequiredMessage is returned with 402 by RequireSubscription.
	SubscriptionRequiredMessage = "An active subscription is required."
)

// PlanChecker answers plan questions for an organization.
// *billing.SubscriptionResolver satisfies it.
type PlanChecker interface {
	CheckLimit(ctx context.Context, orgID int64, feature billing.Feature, count int64) error
	OnTrialOrSubscribed(ctx context.Context, orgID int64) (bool, error)
}

// RequirePlanLimit rejects the request with 402 when the current
// organization has reached its limit for feature. The count compared
// against the limit is read from the countParam query or form input and is
// zero when countParam is empty. Users without a current organization pass
// through.
func RequirePlanLimit(plans PlanChecker, feature billing.Feature, countParam string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			user, ok := UserFromContext(ctx)
			if !ok || !user.HasCurrentOrganization() {
				next.ServeHTTP(w, r)
				return
			}
			orgID := *user.CurrentOrganizationID

			var count int64
			if countParam != "" {
				count = httputil.InputInt64(r, countParam)
			}

			logger := observability.FromContext(ctx).WithFields(map[string]interface{}{
				"feature":       string(feature),
				"current_count": count,
			})
			logger.Debug("checking plan limit")

			if err := plans.CheckLimit(ctx, orgID, feature, count); err != nil {
				if billing.IsLimitExceeded(err) {
					logger.Warn("plan limit exceeded")
					httputil.WritePaymentRequired(w, PlanLimitMessage, string(feature))
					return
				}
				logger.WithError(err).Error("failed to check plan limit")
				httputil.WriteInternalError(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSubscription rejects the request with 402 unless the current
// organization is subscribed or on trial.
func RequireSubscription(plans PlanChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			user, ok := UserFromContext(ctx)
			if !ok || !user.HasCurrentOrganization() {
				httputil.WritePaymentRequired(w, SubscriptionRequiredMessage, "")
				return
			}

			active, err := plans.OnTrialOrSubscribed(ctx, *user.CurrentOrganizationID)
			if err != nil {
				observability.FromContext(ctx).WithError(err).Error("failed to check subscription")
				httputil.WriteInternalError(w)
				return
			}
			if !active {
				observability.FromContext(ctx).Debug("organization is not subscribed")
				httputil.WritePaymentRequired(w, SubscriptionRequiredMessage, "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
