package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// TokenStore persists API tokens.
type TokenStore interface {
	CreateToken(ctx context.Context, token *APIToken) error
	GetTokenByHash(ctx context.Context, tokenHash string) (*APIToken, error)
	TouchToken(ctx context.Context, id int64, at time.Time) error
	ListTokens(ctx context.Context, userID int64) ([]*APIToken, error)
	DeleteToken(ctx context.Context, userID, id int64) error
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// PostgresTokenStore implements TokenStore on the api_tokens table.
type PostgresTokenStore struct {
	db *sql.DB
}

// NewPostgresTokenStore creates a new token store
func NewPostgresTokenStore(db *sql.DB) *PostgresTokenStore {
	return &PostgresTokenStore{db: db}
}

const tokenColumns = `id, user_id, name, token_hash, last_used_at, expires_at, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanToken(row rowScanner) (*APIToken, error) {
	token := &APIToken{}
	var lastUsedAt, expiresAt sql.NullTime
	if err := row.Scan(&token.ID, &token.UserID, &token.Name, &token.TokenHash,
		&lastUsedAt, &expiresAt, &token.CreatedAt); err != nil {
		return nil, err
	}
	if lastUsedAt.Valid {
		token.LastUsedAt = &lastUsedAt.Time
	}
	if expiresAt.Valid {
		token.ExpiresAt = &expiresAt.Time
	}
	return token, nil
}

// CreateToken inserts a token and sets its ID.
func (s *PostgresTokenStore) CreateToken(ctx context.Context, token *APIToken) error {
	var expiresAt sql.NullTime
	if token.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *token.ExpiresAt, Valid: true}
	}
	query := `
		INSERT INTO api_tokens (user_id, name, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		token.UserID, token.Name, token.TokenHash, expiresAt, token.CreatedAt,
	).Scan(&token.ID)
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}
	return nil
}

// GetTokenByHash looks a token up by the hash of its plaintext.
func (s *PostgresTokenStore) GetTokenByHash(ctx context.Context, tokenHash string) (*APIToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM api_tokens WHERE token_hash = $1`
	token, err := scanToken(s.db.QueryRowContext(ctx, query, tokenHash))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return token, nil
}

// TouchToken records the last use of a token.
func (s *PostgresTokenStore) TouchToken(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE api_tokens SET last_used_at = $1 WHERE id = $2`
	if _, err := s.db.ExecContext(ctx, query, at, id); err != nil {
		return fmt.Errorf("failed to update token: %w", err)
	}
	return nil
}

// ListTokens returns a user's tokens, newest first.
func (s *PostgresTokenStore) ListTokens(ctx context.Context, userID int64) ([]*APIToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM api_tokens WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	tokens := []*APIToken{}
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	return tokens, nil
}

// DeleteToken removes a token owned by userID.
func (s *PostgresTokenStore) DeleteToken(ctx context.Context, userID, id int64) error {
	query := `DELETE FROM api_tokens WHERE id = $1 AND user_id = $2`
	result, err := s.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpiredTokens removes every token that expired before now.
func (s *PostgresTokenStore) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM api_tokens WHERE expires_at IS NOT NULL AND expires_at <= $1`
	result, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	return result.RowsAffected()
}
