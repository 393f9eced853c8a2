// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application are defined here so that
// producers and consumers agree on the key and the stored type.
//
//	ctx = contextkeys.WithUser(ctx, user)
//	user, ok := ctx.Value(contextkeys.UserKey).(*orgs.User)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// UserKey contains *orgs.User
	// Set by: middleware.Authenticator (pkg/middleware/auth.go)
	// Required by: every authenticated endpoint and organization guard
	UserKey Key = "user"

	// UserIDKey contains the authenticated user id (int64)
	// Set by: middleware.Authenticator
	// Used by: Logger
	UserIDKey Key = "user_id"

	// OrganizationIDKey contains the current organization id (int64)
	// Set by: middleware.Authenticator when the user has a current organization
	// Used by: Logger, plan-limit guards
	OrganizationIDKey Key = "organization_id"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestID
	// Used by: Logger
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	LoggerKey Key = "logger"
)

// WithUser adds the authenticated user to the context
func WithUser(ctx context.Context, user interface{}) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithOrganizationID adds the current organization id to the context
func WithOrganizationID(ctx context.Context, orgID int64) context.Context {
	return context.WithValue(ctx, OrganizationIDKey, orgID)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(UserIDKey).(int64)
	return userID, ok
}

// GetOrganizationID retrieves the current organization id from context
func GetOrganizationID(ctx context.Context) (int64, bool) {
	orgID, ok := ctx.Value(OrganizationIDKey).(int64)
	return orgID, ok
}
