package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Target is an organization together with the owner who receives its
// notifications.
type Target struct {
	OrganizationID   int64
	OrganizationName string
	OwnerID          int64
	OwnerName        string
	OwnerEmail       string
}

// Store is the read-only view the scans need over organizations and
// subscriptions.
type Store interface {
	// ExpiringOrganizations returns organizations with an owner and a
	// subscription whose trial or end falls in [from, to).
	ExpiringOrganizations(ctx context.Context, from, to time.Time) ([]*Target, error)
	// OrganizationsWithOwners pages through organizations with an owner in
	// id order, starting after afterID.
	OrganizationsWithOwners(ctx context.Context, afterID int64, limit int) ([]*Target, error)
}

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new jobs store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const targetColumns = `o.id, o.name, u.id, u.name, u.email`

func scanTargets(rows *sql.Rows) ([]*Target, error) {
	targets := []*Target{}
	for rows.Next() {
		t := &Target{}
		if err := rows.Scan(&t.OrganizationID, &t.OrganizationName, &t.OwnerID, &t.OwnerName, &t.OwnerEmail); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating organizations: %w", err)
	}
	return targets, nil
}

// ExpiringOrganizations implements Store.
func (s *PostgresStore) ExpiringOrganizations(ctx context.Context, from, to time.Time) ([]*Target, error) {
	query := `
		SELECT ` + targetColumns + `
		FROM organizations o
		JOIN users u ON u.id = o.owner_id
		WHERE EXISTS (
			SELECT 1 FROM subscriptions s
			WHERE s.organization_id = o.id
			  AND ((s.trial_ends_at >= $1 AND s.trial_ends_at < $2)
			    OR (s.ends_at >= $1 AND s.ends_at < $2))
		)
		ORDER BY o.id
	`
	rows, err := s.db.QueryContext(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query expiring organizations: %w", err)
	}
	defer rows.Close()
	return scanTargets(rows)
}

// OrganizationsWithOwners implements Store.
func (s *PostgresStore) OrganizationsWithOwners(ctx context.Context, afterID int64, limit int) ([]*Target, error) {
	query := `
		SELECT ` + targetColumns + `
		FROM organizations o
		JOIN users u ON u.id = o.owner_id
		WHERE o.id > $1
		ORDER BY o.id
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()
	return scanTargets(rows)
}
