// Package middleware provides HTTP middleware for authentication, organization
// guards, plan enforcement, and rate limiting.
//
// # Middleware Components
//
// Authenticator: bearer API token authentication
//
//	authn := middleware.NewAuthenticator(tokenManager, orgService, logger)
//	router.Use(authn.Handler)
//	// stores *orgs.User, user id and current organization id in the context
//
// EnsureHasOrganization: 409 {"error":"no_current_organization"} for users
// without a current organization.
//
// RequirePermission: 403 unless the user holds every listed permission on
// their current organization. The response never names the permission.
//
//	router.Handle("/orgs/{org_id}/members",
//	    middleware.RequirePermission(resolver, rbac.PermissionMemberView)(handler))
//
// RequirePlanLimit and RequireSubscription: 402 when the current
// organization is over its plan limit or has no active subscription or
// trial.
//
//	middleware.RequirePlanLimit(subscriptions, billing.FeatureItems, "count")
//
// RateLimit: per-user limits for authenticated requests, per-IP limits
// otherwise, backed by an in-process token bucket or by Redis.
//
// # Ordering
//
// Authenticator must run before every other middleware here. Guards that
// find no user in the context answer 401, and RateLimit falls back to the
// anonymous limiter.
package middleware
