package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/platinummonkey/orgkit/pkg/observability"
)

const (
	// TokenPrefix identifies orgkit tokens
	TokenPrefix = "orgkit_"
	// TokenLength is the total length of random bytes (32 bytes = 256 bits)
	TokenLength = 32
)

// ErrInvalidToken is returned for malformed, unknown or expired tokens.
var ErrInvalidToken = errors.New("invalid or expired token")

// GenerateToken creates a new API token and the hash stored for it.
// Format: orgkit_<base64url(32 random bytes)>
func GenerateToken() (token string, tokenHash string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	token = TokenPrefix + base64.RawURLEncoding.EncodeToString(randomBytes)
	return token, HashToken(token), nil
}

// HashToken computes the SHA256 hash of a token for lookup
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks if a token has the correct format
func ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}

	encodedPart := strings.TrimPrefix(token, TokenPrefix)
	if len(encodedPart) == 0 {
		return fmt.Errorf("token is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encodedPart); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}
	return nil
}

// TokenManager issues and authenticates API tokens. Plaintext tokens are
// returned once at issue time and never stored.
type TokenManager struct {
	store  TokenStore
	clock  clockwork.Clock
	logger *observability.Logger
}

// NewTokenManager creates a new token manager
func NewTokenManager(store TokenStore, logger *observability.Logger) *TokenManager {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &TokenManager{store: store, clock: clockwork.NewRealClock(), logger: logger}
}

// WithClock replaces the clock, for tests.
func (tm *TokenManager) WithClock(clock clockwork.Clock) *TokenManager {
	tm.clock = clock
	return tm
}

// CreateToken issues a token for userID. expiresAt may be nil for a token
// that never expires.
func (tm *TokenManager) CreateToken(ctx context.Context, userID int64, name string, expiresAt *time.Time) (*APIToken, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", fmt.Errorf("token name is required")
	}

	token, tokenHash, err := GenerateToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}

	apiToken := &APIToken{
		UserID:    userID,
		Name:      name,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: tm.clock.Now().UTC(),
	}
	if err := tm.store.CreateToken(ctx, apiToken); err != nil {
		return nil, "", err
	}

	tm.logger.WithFields(map[string]interface{}{
		"user_id":  userID,
		"token_id": apiToken.ID,
	}).Info("api token created")
	return apiToken, token, nil
}

// ValidateToken resolves a presented token. Unknown, malformed and
// expired tokens all give ErrInvalidToken.
func (tm *TokenManager) ValidateToken(ctx context.Context, token string) (*APIToken, error) {
	if err := ValidateTokenFormat(token); err != nil {
		return nil, ErrInvalidToken
	}

	apiToken, err := tm.store.GetTokenByHash(ctx, HashToken(token))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}

	now := tm.clock.Now().UTC()
	if apiToken.IsExpired(now) {
		return nil, ErrInvalidToken
	}

	if err := tm.store.TouchToken(ctx, apiToken.ID, now); err != nil {
		tm.logger.WithError(err).WithField("token_id", apiToken.ID).Warn("failed to record token use")
	}
	apiToken.LastUsedAt = &now
	return apiToken, nil
}

// ListUserTokens lists all tokens for a user
func (tm *TokenManager) ListUserTokens(ctx context.Context, userID int64) ([]*APIToken, error) {
	return tm.store.ListTokens(ctx, userID)
}

// RevokeToken deletes one of userID's tokens.
func (tm *TokenManager) RevokeToken(ctx context.Context, userID, tokenID int64) error {
	if err := tm.store.DeleteToken(ctx, userID, tokenID); err != nil {
		return err
	}
	tm.logger.WithFields(map[string]interface{}{
		"user_id":  userID,
		"token_id": tokenID,
	}).Info("api token revoked")
	return nil
}

// CleanupExpiredTokens removes tokens that expired before now.
func (tm *TokenManager) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	return tm.store.DeleteExpiredTokens(ctx, tm.clock.Now().UTC())
}
