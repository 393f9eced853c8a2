package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// ErrNotFound is returned when a notification does not exist for the user.
var ErrNotFound = errors.New("notification not found")

// Notification is a persisted message in a user's inbox.
type Notification struct {
	ID        uuid.UUID              `json:"id"`
	UserID    *int64                 `json:"user_id,omitempty"`
	Email     string                 `json:"email"`
	Kind      Kind                   `json:"kind"`
	Subject   string                 `json:"subject"`
	Data      map[string]interface{} `json:"data"`
	DedupeKey string                 `json:"-"`
	ReadAt    *time.Time             `json:"read_at,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// IsRead reports whether the notification has been read.
func (n *Notification) IsRead() bool {
	return n.ReadAt != nil
}

// Store persists notifications and answers the dedupe queries of the
// scheduled scans.
type Store interface {
	Create(ctx context.Context, n *Notification) error
	List(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]*Notification, error)
	UnreadCount(ctx context.Context, userID int64) (int64, error)
	MarkRead(ctx context.Context, userID int64, id uuid.UUID, at time.Time) error
	MarkAllRead(ctx context.Context, userID int64, at time.Time) (int64, error)
	Delete(ctx context.Context, userID int64, id uuid.UUID) error
	// Exists reports whether a notification of kind with dedupeKey was
	// recorded, optionally only since the given instant.
	Exists(ctx context.Context, kind Kind, dedupeKey string, since *time.Time) (bool, error)
}

// PostgresStore implements Store on the notifications table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new notification store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts a notification, assigning an ID when missing.
func (s *PostgresStore) Create(ctx context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal notification data: %w", err)
	}

	var userID sql.NullInt64
	if n.UserID != nil {
		userID = sql.NullInt64{Int64: *n.UserID, Valid: true}
	}

	query := `
		INSERT INTO notifications (id, user_id, email, kind, subject, data, dedupe_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.db.ExecContext(ctx, query,
		n.ID, userID, n.Email, string(n.Kind), n.Subject, string(data), n.DedupeKey, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// List returns the newest notifications of a user.
func (s *PostgresStore) List(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]*Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `
		SELECT id, user_id, email, kind, subject, data, dedupe_key, read_at, created_at
		FROM notifications
		WHERE user_id = $1
	`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		n := &Notification{}
		var (
			uid    sql.NullInt64
			kind   string
			data   string
			readAt sql.NullTime
		)
		if err := rows.Scan(&n.ID, &uid, &n.Email, &kind, &n.Subject, &data, &n.DedupeKey, &readAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Kind = Kind(kind)
		if uid.Valid {
			n.UserID = &uid.Int64
		}
		if readAt.Valid {
			n.ReadAt = &readAt.Time
		}
		if data != "" {
			if err := json.Unmarshal([]byte(data), &n.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal notification data: %w", err)
			}
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// UnreadCount counts unread notifications of a user.
func (s *PostgresStore) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL`
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead marks one notification read. Marking an already read
// notification succeeds without moving its read_at.
func (s *PostgresStore) MarkRead(ctx context.Context, userID int64, id uuid.UUID, at time.Time) error {
	query := `UPDATE notifications SET read_at = COALESCE(read_at, $1) WHERE id = $2 AND user_id = $3`
	result, err := s.db.ExecContext(ctx, query, at, id, userID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
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

// MarkAllRead marks every unread notification of a user and returns how
// many changed.
func (s *PostgresStore) MarkAllRead(ctx context.Context, userID int64, at time.Time) (int64, error) {
	query := `UPDATE notifications SET read_at = $1 WHERE user_id = $2 AND read_at IS NULL`
	result, err := s.db.ExecContext(ctx, query, at, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}

// Delete removes a notification owned by userID.
func (s *PostgresStore) Delete(ctx context.Context, userID int64, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
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

// Exists implements the dedupe lookup of the scheduled scans.
func (s *PostgresStore) Exists(ctx context.Context, kind Kind, dedupeKey string, since *time.Time) (bool, error) {
	var exists bool
	var err error
	if since == nil {
		query := `SELECT EXISTS (SELECT 1 FROM notifications WHERE kind = $1 AND dedupe_key = $2)`
		err = s.db.QueryRowContext(ctx, query, string(kind), dedupeKey).Scan(&exists)
	} else {
		query := `SELECT EXISTS (SELECT 1 FROM notifications WHERE kind = $1 AND dedupe_key = $2 AND created_at >= $3)`
		err = s.db.QueryRowContext(ctx, query, string(kind), dedupeKey, *since).Scan(&exists)
	}
	if err != nil {
		return false, fmt.Errorf("failed to check notification: %w", err)
	}
	return exists, nil
}

// DatabaseNotifier records every message in the recipient's inbox before
// handing it to the next notifier. The stored row is what dedupe lookups
// see, so it is written even when delivery fails.
type DatabaseNotifier struct {
	store Store
	next  Notifier
	clock clockwork.Clock
}

// NewDatabaseNotifier creates a DatabaseNotifier. next may be nil.
func NewDatabaseNotifier(store Store, next Notifier, clock clockwork.Clock) *DatabaseNotifier {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &DatabaseNotifier{store: store, next: next, clock: clock}
}

func (n *DatabaseNotifier) Notify(ctx context.Context, to Recipient, msg Message) error {
	record := &Notification{
		UserID:    to.UserID,
		Email:     to.Email,
		Kind:      msg.Kind,
		Subject:   msg.Subject,
		Data:      msg.Data,
		DedupeKey: msg.DedupeKey,
		CreatedAt: n.clock.Now().UTC(),
	}
	if err := n.store.Create(ctx, record); err != nil {
		return err
	}
	if n.next == nil {
		return nil
	}
	return n.next.Notify(ctx, to, msg)
}
