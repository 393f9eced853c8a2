// Package auth provides API token management for orgkit.
//
// Tokens have the form orgkit_<base64url(32 random bytes)>. Only the
// SHA256 hash is stored, so a token can be shown to its owner exactly once
// at creation:
//
//	manager := auth.NewTokenManager(auth.NewPostgresTokenStore(db), logger)
//	record, token, err := manager.CreateToken(ctx, user.ID, "CI", nil)
//
// middleware.Authenticator resolves bearer tokens through
// TokenManager.ValidateToken and loads the owning user.
package auth
