package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/orgkit/pkg/storage/sqlitetest"
)

func TestGenerateToken(t *testing.T) {
	token, tokenHash, err := GenerateToken()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(token, TokenPrefix))
	assert.Len(t, tokenHash, 64, "SHA256 = 64 hex chars")
	assert.Equal(t, HashToken(token), tokenHash)
	assert.NoError(t, ValidateTokenFormat(token))
}

func TestGenerateToken_Uniqueness(t *testing.T) {
	tokens := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, _, err := GenerateToken()
		require.NoError(t, err)
		require.False(t, tokens[token], "duplicate token generated")
		tokens[token] = true
	}
}

func TestValidateTokenFormat(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid", TokenPrefix + "YWJjZGVmZ2hpamtsbW5vcA", false},
		{"wrong prefix", "acme_YWJjZGVm", true},
		{"prefix only", TokenPrefix, true},
		{"bad encoding", TokenPrefix + "not base64!", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTokenFormat(tt.token)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func newManager(t *testing.T) (*TokenManager, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	return NewTokenManager(NewPostgresTokenStore(sqlitetest.Open(t)), nil).WithClock(clock), clock
}

func TestTokenManager_Lifecycle(t *testing.T) {
	tm, clock := newManager(t)
	ctx := context.Background()

	record, token, err := tm.CreateToken(ctx, 7, "  CI pipeline ", nil)
	require.NoError(t, err)
	assert.NotZero(t, record.ID)
	assert.Equal(t, "CI pipeline", record.Name)
	assert.NotContains(t, record.TokenHash, token)

	clock.Advance(time.Minute)
	found, err := tm.ValidateToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), found.UserID)
	require.NotNil(t, found.LastUsedAt)
	assert.Equal(t, clock.Now().UTC(), *found.LastUsedAt)

	tokens, err := tm.ListUserTokens(ctx, 7)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	require.NotNil(t, tokens[0].LastUsedAt)

	assert.ErrorIs(t, tm.RevokeToken(ctx, 8, record.ID), ErrNotFound, "only the owner revokes")
	require.NoError(t, tm.RevokeToken(ctx, 7, record.ID))

	_, err = tm.ValidateToken(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenManager_RejectsInvalidTokens(t *testing.T) {
	tm, _ := newManager(t)
	ctx := context.Background()

	unknown, _, err := GenerateToken()
	require.NoError(t, err)

	for _, token := range []string{"", "Bearer abc", "acme_abc", unknown} {
		_, err := tm.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken, token)
	}

	_, _, err = tm.CreateToken(ctx, 7, "   ", nil)
	assert.Error(t, err)
}

func TestTokenManager_Expiry(t *testing.T) {
	tm, clock := newManager(t)
	ctx := context.Background()

	expires := clock.Now().Add(24 * time.Hour)
	_, token, err := tm.CreateToken(ctx, 7, "short lived", &expires)
	require.NoError(t, err)
	_, keep, err := tm.CreateToken(ctx, 7, "forever", nil)
	require.NoError(t, err)

	_, err = tm.ValidateToken(ctx, token)
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	_, err = tm.ValidateToken(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	removed, err := tm.CleanupExpiredTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = tm.ValidateToken(ctx, keep)
	assert.NoError(t, err)
}
