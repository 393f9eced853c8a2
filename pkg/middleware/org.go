package middleware

import (
	"context"
	"net/http"

	"github.com/platinummonkey/orgkit/pkg/httputil"
	"github.com/platinummonkey/orgkit/pkg/observability"
	"github.com/platinummonkey/orgkit/pkg/orgs"
	"github.com/platinummonkey/orgkit/pkg/rbac"
)

// ForbiddenMessage is the body of every authorization denial. It never
// names the missing permission.
const ForbiddenMessage = "This action is unauthorized."

// PermissionChecker answers permission questions. *authz.Resolver
// satisfies it.
type PermissionChecker interface {
	HasPermission(ctx context.Context, user *orgs.User, permission rbac.Permission, orgID *int64) (bool, error)
}

// EnsureHasOrganization rejects users without a current organization with
// 409 so clients can send them to organization creation.
func EnsureHasOrganization(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		if !user.HasCurrentOrganization() {
			observability.FromContext(r.Context()).Debug("user has no current organization")
			httputil.WriteConflict(w, "no_current_organization")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePermission allows the request only when the user holds every
// permission on their current organization.
func RequirePermission(checker PermissionChecker, permissions ...rbac.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			user, ok := UserFromContext(ctx)
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			if !user.HasCurrentOrganization() {
				httputil.WriteForbidden(w, ForbiddenMessage)
				return
			}

			for _, permission := range permissions {
				allowed, err := checker.HasPermission(ctx, user, permission, nil)
				if err != nil {
					observability.FromContext(ctx).WithError(err).Error("failed to check permission")
					httputil.WriteInternalError(w)
					return
				}
				if !allowed {
					observability.FromContext(ctx).WithField("permission", string(permission)).Warn("permission denied")
					httputil.WriteForbidden(w, ForbiddenMessage)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
