package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PlanStore persists the plan catalog and billing meters.
type PlanStore interface {
	ActivePlans(ctx context.Context) ([]*Plan, error)
	GetPlan(ctx context.Context, key PlanKey) (*Plan, error)
	UpsertPlan(ctx context.Context, plan *Plan, at time.Time) error
	DeactivatePlan(ctx context.Context, key PlanKey, at time.Time) error
	Meters(ctx context.Context) ([]*BillingMeter, error)
	GetMeter(ctx context.Context, key string) (*BillingMeter, error)
	UpsertMeter(ctx context.Context, meter *BillingMeter, at time.Time) error
}

// SubscriptionStore persists the local mirror of provider subscriptions and
// the organization to customer mapping.
type SubscriptionStore interface {
	CurrentSubscription(ctx context.Context, orgID int64) (*Subscription, error)
	HasSubscribed(ctx context.Context, orgID int64) (bool, error)
	UpsertSubscription(ctx context.Context, sub *Subscription, at time.Time) error
	OrganizationByCustomer(ctx context.Context, customerID string) (int64, error)
	SetCustomerID(ctx context.Context, orgID int64, customerID string, at time.Time) error
}

// Store is the complete billing persistence interface.
type Store interface {
	PlanStore
	SubscriptionStore
}

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new billing store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const planColumns = `id, key, name, description, stripe_product_id, stripe_price_ids,
	stripe_metered_price_ids, limits, features, sort_order, is_active`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPlan(row rowScanner) (*Plan, error) {
	plan := &Plan{}
	var productID sql.NullString
	var priceIDs, meteredIDs, limits, features string
	if err := row.Scan(&plan.ID, &plan.Key, &plan.Name, &plan.Description, &productID,
		&priceIDs, &meteredIDs, &limits, &features, &plan.SortOrder, &plan.Active); err != nil {
		return nil, err
	}
	plan.ProductID = productID.String

	columns := []struct {
		name string
		raw  string
		dest interface{}
	}{
		{"stripe_price_ids", priceIDs, &plan.PriceIDs},
		{"stripe_metered_price_ids", meteredIDs, &plan.MeteredPriceIDs},
		{"limits", limits, &plan.Limits},
		{"features", features, &plan.Features},
	}
	for _, c := range columns {
		if c.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(c.raw), c.dest); err != nil {
			return nil, fmt.Errorf("failed to unmarshal plan %s: %w", c.name, err)
		}
	}
	return plan, nil
}

func marshalColumn(v interface{}, empty string) (string, error) {
	if v == nil {
		return empty, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}

// ActivePlans returns the customer-facing plans ordered by sort order.
func (s *PostgresStore) ActivePlans(ctx context.Context) ([]*Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE is_active = $1 ORDER BY sort_order, id`
	rows, err := s.db.QueryContext(ctx, query, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	plans := []*Plan{}
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	return plans, nil
}

// GetPlan retrieves a plan by key, active or not.
func (s *PostgresStore) GetPlan(ctx context.Context, key PlanKey) (*Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE key = $1`
	plan, err := scanPlan(s.db.QueryRowContext(ctx, query, string(key)))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return plan, nil
}

// UpsertPlan inserts or updates the plan with plan.Key and sets its ID.
func (s *PostgresStore) UpsertPlan(ctx context.Context, plan *Plan, at time.Time) error {
	priceIDs, err := marshalColumn(plan.PriceIDs, "{}")
	if err != nil {
		return fmt.Errorf("failed to marshal price ids: %w", err)
	}
	meteredIDs, err := marshalColumn(plan.MeteredPriceIDs, "{}")
	if err != nil {
		return fmt.Errorf("failed to marshal metered price ids: %w", err)
	}
	limits, err := marshalColumn(plan.Limits, "{}")
	if err != nil {
		return fmt.Errorf("failed to marshal limits: %w", err)
	}
	features, err := marshalColumn(plan.Features, "[]")
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}

	var productID sql.NullString
	if plan.ProductID != "" {
		productID = sql.NullString{String: plan.ProductID, Valid: true}
	}

	query := `
		INSERT INTO plans (key, name, description, stripe_product_id, stripe_price_ids,
			stripe_metered_price_ids, limits, features, sort_order, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (key) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			stripe_product_id = excluded.stripe_product_id,
			stripe_price_ids = excluded.stripe_price_ids,
			stripe_metered_price_ids = excluded.stripe_metered_price_ids,
			limits = excluded.limits,
			features = excluded.features,
			sort_order = excluded.sort_order,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
		RETURNING id
	`
	err = s.db.QueryRowContext(ctx, query,
		string(plan.Key), plan.Name, plan.Description, productID, priceIDs,
		meteredIDs, limits, features, plan.SortOrder, plan.Active, at,
	).Scan(&plan.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert plan: %w", err)
	}
	return nil
}

// DeactivatePlan hides a plan from customers. Existing subscriptions keep
// resolving against it until the catalog is reloaded.
func (s *PostgresStore) DeactivatePlan(ctx context.Context, key PlanKey, at time.Time) error {
	query := `UPDATE plans SET is_active = $1, updated_at = $2 WHERE key = $3`
	result, err := s.db.ExecContext(ctx, query, false, at, string(key))
	if err != nil {
		return fmt.Errorf("failed to deactivate plan: %w", err)
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

const meterColumns = `id, key, display_name, event_name, stripe_meter_id`

func scanMeter(row rowScanner) (*BillingMeter, error) {
	meter := &BillingMeter{}
	var meterID sql.NullString
	if err := row.Scan(&meter.ID, &meter.Key, &meter.DisplayName, &meter.EventName, &meterID); err != nil {
		return nil, err
	}
	meter.ProviderMeterID = meterID.String
	return meter, nil
}

// Meters lists every billing meter.
func (s *PostgresStore) Meters(ctx context.Context) ([]*BillingMeter, error) {
	query := `SELECT ` + meterColumns + ` FROM billing_meters ORDER BY key`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list meters: %w", err)
	}
	defer rows.Close()

	meters := []*BillingMeter{}
	for rows.Next() {
		meter, err := scanMeter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan meter: %w", err)
		}
		meters = append(meters, meter)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list meters: %w", err)
	}
	return meters, nil
}

// GetMeter retrieves a meter by key.
func (s *PostgresStore) GetMeter(ctx context.Context, key string) (*BillingMeter, error) {
	query := `SELECT ` + meterColumns + ` FROM billing_meters WHERE key = $1`
	meter, err := scanMeter(s.db.QueryRowContext(ctx, query, key))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get meter: %w", err)
	}
	return meter, nil
}

// UpsertMeter inserts or updates the meter with meter.Key. An empty
// provider meter id never overwrites a stored one.
func (s *PostgresStore) UpsertMeter(ctx context.Context, meter *BillingMeter, at time.Time) error {
	var meterID sql.NullString
	if meter.ProviderMeterID != "" {
		meterID = sql.NullString{String: meter.ProviderMeterID, Valid: true}
	}

	query := `
		INSERT INTO billing_meters (key, display_name, event_name, stripe_meter_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (key) DO UPDATE SET
			display_name = excluded.display_name,
			event_name = excluded.event_name,
			stripe_meter_id = COALESCE(excluded.stripe_meter_id, billing_meters.stripe_meter_id),
			updated_at = excluded.updated_at
		RETURNING id
	`
	if err := s.db.QueryRowContext(ctx, query, meter.Key, meter.DisplayName, meter.EventName, meterID, at).Scan(&meter.ID); err != nil {
		return fmt.Errorf("failed to upsert meter: %w", err)
	}
	return nil
}

const subscriptionColumns = `id, organization_id, type, stripe_id, stripe_status, stripe_price,
	quantity, trial_ends_at, ends_at, current_period_end, created_at, updated_at`

func scanSubscription(row rowScanner) (*Subscription, error) {
	sub := &Subscription{}
	var price sql.NullString
	var quantity sql.NullInt64
	var trialEndsAt, endsAt, periodEnd sql.NullTime
	if err := row.Scan(&sub.ID, &sub.OrganizationID, &sub.Type, &sub.ProviderID, &sub.Status, &price,
		&quantity, &trialEndsAt, &endsAt, &periodEnd, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	sub.PriceID = price.String
	if quantity.Valid {
		sub.Quantity = &quantity.Int64
	}
	sub.TrialEndsAt = timePtr(trialEndsAt)
	sub.EndsAt = timePtr(endsAt)
	sub.CurrentPeriodEnd = timePtr(periodEnd)
	return sub, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// CurrentSubscription returns the organization's most recent default
// subscription.
func (s *PostgresStore) CurrentSubscription(ctx context.Context, orgID int64) (*Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE organization_id = $1 AND type = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, query, orgID, DefaultSubscriptionType))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// HasSubscribed reports whether the organization ever had a default
// subscription.
func (s *PostgresStore) HasSubscribed(ctx context.Context, orgID int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM subscriptions WHERE organization_id = $1 AND type = $2)`
	if err := s.db.QueryRowContext(ctx, query, orgID, DefaultSubscriptionType).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check subscriptions: %w", err)
	}
	return exists, nil
}

// UpsertSubscription inserts or updates the mirror row keyed by the
// provider subscription id and sets sub.ID.
func (s *PostgresStore) UpsertSubscription(ctx context.Context, sub *Subscription, at time.Time) error {
	if sub.Type == "" {
		sub.Type = DefaultSubscriptionType
	}
	var price sql.NullString
	if sub.PriceID != "" {
		price = sql.NullString{String: sub.PriceID, Valid: true}
	}
	var quantity sql.NullInt64
	if sub.Quantity != nil {
		quantity = sql.NullInt64{Int64: *sub.Quantity, Valid: true}
	}

	query := `
		INSERT INTO subscriptions (organization_id, type, stripe_id, stripe_status, stripe_price,
			quantity, trial_ends_at, ends_at, current_period_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (stripe_id) DO UPDATE SET
			stripe_status = excluded.stripe_status,
			stripe_price = excluded.stripe_price,
			quantity = excluded.quantity,
			trial_ends_at = excluded.trial_ends_at,
			ends_at = excluded.ends_at,
			current_period_end = excluded.current_period_end,
			updated_at = excluded.updated_at
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		sub.OrganizationID, sub.Type, sub.ProviderID, string(sub.Status), price,
		quantity, nullTime(sub.TrialEndsAt), nullTime(sub.EndsAt), nullTime(sub.CurrentPeriodEnd), at,
	).Scan(&sub.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// OrganizationByCustomer resolves a provider customer id to an organization.
func (s *PostgresStore) OrganizationByCustomer(ctx context.Context, customerID string) (int64, error) {
	var orgID int64
	query := `SELECT id FROM organizations WHERE stripe_id = $1`
	err := s.db.QueryRowContext(ctx, query, customerID).Scan(&orgID)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to find organization by customer: %w", err)
	}
	return orgID, nil
}

// SetCustomerID records the provider customer of an organization.
func (s *PostgresStore) SetCustomerID(ctx context.Context, orgID int64, customerID string, at time.Time) error {
	query := `UPDATE organizations SET stripe_id = $1, updated_at = $2 WHERE id = $3`
	result, err := s.db.ExecContext(ctx, query, customerID, at, orgID)
	if err != nil {
		return fmt.Errorf("failed to set customer id: %w", err)
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
