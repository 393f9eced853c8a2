package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/platinummonkey/orgkit/pkg/auth"
	"github.com/platinummonkey/orgkit/pkg/contextkeys"
	"github.com/platinummonkey/orgkit/pkg/httputil"
	"github.com/platinummonkey/orgkit/pkg/observability"
	"github.com/platinummonkey/orgkit/pkg/orgs"
)

// TokenValidator resolves a presented bearer token. *auth.TokenManager
// satisfies it.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*auth.APIToken, error)
}

// UserLoader loads the owner of a token. *orgs.Service satisfies it.
type UserLoader interface {
	User(ctx context.Context, id int64) (*orgs.User, error)
}

// Authenticator authenticates requests with bearer API tokens and stores
// the token owner in the request context.
type Authenticator struct {
	tokens TokenValidator
	users  UserLoader
	logger *observability.Logger
}

// NewAuthenticator creates a new authentication middleware
func NewAuthenticator(tokens TokenValidator, users UserLoader, logger *observability.Logger) *Authenticator {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Authenticator{tokens: tokens, users: users, logger: logger}
}

// Handler wraps an HTTP handler with authentication
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		// Format: "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		ctx := r.Context()
		token, err := a.tokens.ValidateToken(ctx, strings.TrimSpace(parts[1]))
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				httputil.WriteUnauthorized(w, "invalid or expired token")
				return
			}
			a.logger.WithError(err).Error("failed to validate token")
			httputil.WriteInternalError(w)
			return
		}

		user, err := a.users.User(ctx, token.UserID)
		if err != nil {
			if errors.Is(err, orgs.ErrNotFound) {
				httputil.WriteUnauthorized(w, "invalid or expired token")
				return
			}
			a.logger.WithError(err).WithField("user_id", token.UserID).Error("failed to load token owner")
			httputil.WriteInternalError(w)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(ctx, user)))
	})
}

// WithUser stores user in ctx along with the ids used for log enrichment.
func WithUser(ctx context.Context, user *orgs.User) context.Context {
	ctx = contextkeys.WithUser(ctx, user)
	ctx = contextkeys.WithUserID(ctx, user.ID)
	if user.HasCurrentOrganization() {
		ctx = contextkeys.WithOrganizationID(ctx, *user.CurrentOrganizationID)
	}
	return ctx
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (*orgs.User, bool) {
	user, ok := ctx.Value(contextkeys.UserKey).(*orgs.User)
	return user, ok && user != nil
}
