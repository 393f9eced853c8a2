package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/platinummonkey/orgkit/pkg/rbac"
)

// Store is the relational system of record for users, organizations,
// memberships and invitations.
type Store interface {
	// CreateUser inserts user and, when personal is non-nil, the personal
	// organization with its owner membership as the user's current
	// organization, all in one transaction.
	CreateUser(ctx context.Context, user *User, personal *Organization) error
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	SetCurrentOrganization(ctx context.Context, userID int64, orgID *int64, at time.Time) error

	// CreateOrganization inserts org and the owner's membership atomically.
	CreateOrganization(ctx context.Context, org *Organization) error
	GetOrganization(ctx context.Context, id int64) (*Organization, error)
	SlugExists(ctx context.Context, slug string, excludeID int64) (bool, error)
	UpdateOrganization(ctx context.Context, org *Organization) error
	// DeleteOrganization removes the organization, its memberships and its
	// invitations in one transaction and returns the members as they were
	// before deletion.
	DeleteOrganization(ctx context.Context, id int64) ([]*User, error)
	ListUserOrganizations(ctx context.Context, userID int64) ([]*Organization, error)

	AddMember(ctx context.Context, orgID, userID int64, role rbac.Role, at time.Time) error
	GetMemberRole(ctx context.Context, orgID, userID int64) (rbac.Role, error)
	UpdateMemberRole(ctx context.Context, orgID, userID int64, role rbac.Role, at time.Time) error
	RemoveMember(ctx context.Context, orgID, userID int64) error
	ListMembers(ctx context.Context, orgID int64) ([]*Member, error)
	ListMemberIDs(ctx context.Context, orgID int64) ([]int64, error)
	CountMembers(ctx context.Context, orgID int64) (int64, error)
	IsMemberEmail(ctx context.Context, orgID int64, email string) (bool, error)

	CreateInvitation(ctx context.Context, inv *Invitation) error
	GetInvitation(ctx context.Context, id uuid.UUID) (*Invitation, error)
	HasInvitation(ctx context.Context, orgID int64, email string) (bool, error)
	ListInvitations(ctx context.Context, orgID int64) ([]*Invitation, error)
	RefreshInvitation(ctx context.Context, id uuid.UUID, expiresAt *time.Time, sentAt time.Time) error
	DeleteInvitation(ctx context.Context, id uuid.UUID) error
	// AcceptInvitation adds the membership and deletes the invitation atomically.
	AcceptInvitation(ctx context.Context, inv *Invitation, userID int64, at time.Time) error
}

// PostgresStore implements Store on PostgreSQL.
//
// Queries stay within the SQL subset shared with SQLite and number their
// placeholders in order of appearance, so the same store runs against an
// in-memory SQLite database in tests.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const organizationColumns = `o.id, o.name, o.slug, o.personal_organization, o.owner_id, o.stripe_id, o.created_at, o.updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrganization(row rowScanner) (*Organization, error) {
	org := &Organization{}
	var stripeID sql.NullString
	if err := row.Scan(&org.ID, &org.Name, &org.Slug, &org.IsPersonal, &org.OwnerID,
		&stripeID, &org.CreatedAt, &org.UpdatedAt); err != nil {
		return nil, err
	}
	if stripeID.Valid {
		org.StripeCustomerID = &stripeID.String
	}
	return org, nil
}

func scanUser(row rowScanner) (*User, error) {
	user := &User{}
	var current sql.NullInt64
	if err := row.Scan(&user.ID, &user.Name, &user.Email, &current, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	if current.Valid {
		user.CurrentOrganizationID = &current.Int64
	}
	return user, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// CreateUser inserts a user and sets its ID. A non-nil personal
// organization is created in the same transaction, owned by the user and
// set as their current organization.
func (s *PostgresStore) CreateUser(ctx context.Context, user *User, personal *Organization) error {
	if personal == nil {
		return insertUser(ctx, s.db, user)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertUser(ctx, tx, user); err != nil {
		return err
	}
	personal.OwnerID = user.ID
	if err := insertOrganization(ctx, tx, personal); err != nil {
		return err
	}

	query := `UPDATE users SET current_organization_id = $1, updated_at = $2 WHERE id = $3`
	if _, err := tx.ExecContext(ctx, query, personal.ID, personal.CreatedAt, user.ID); err != nil {
		return fmt.Errorf("failed to set current organization: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit user: %w", err)
	}
	current := personal.ID
	user.CurrentOrganizationID = &current
	return nil
}

func insertUser(ctx context.Context, db queryRower, user *User) error {
	query := `
		INSERT INTO users (name, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	err := db.QueryRowContext(ctx, query, user.Name, user.Email, user.CreatedAt, user.UpdatedAt).Scan(&user.ID)
	if isUniqueViolation(err) {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID
func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*User, error) {
	query := `SELECT id, name, email, current_organization_id, created_at, updated_at FROM users WHERE id = $1`
	user, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by normalized email
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT id, name, email, current_organization_id, created_at, updated_at FROM users WHERE lower(email) = $1`
	user, err := scanUser(s.db.QueryRowContext(ctx, query, NormalizeEmail(email)))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return user, nil
}

// SetCurrentOrganization moves the user's current organization pointer.
func (s *PostgresStore) SetCurrentOrganization(ctx context.Context, userID int64, orgID *int64, at time.Time) error {
	query := `UPDATE users SET current_organization_id = $1, updated_at = $2 WHERE id = $3`
	result, err := s.db.ExecContext(ctx, query, orgID, at, userID)
	if err != nil {
		return fmt.Errorf("failed to set current organization: %w", err)
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

// CreateOrganization inserts the organization and the owner membership.
func (s *PostgresStore) CreateOrganization(ctx context.Context, org *Organization) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertOrganization(ctx, tx, org); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit organization: %w", err)
	}
	return nil
}

func insertOrganization(ctx context.Context, tx *sql.Tx, org *Organization) error {
	query := `
		INSERT INTO organizations (name, slug, personal_organization, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := tx.QueryRowContext(ctx, query,
		org.Name, org.Slug, org.IsPersonal, org.OwnerID, org.CreatedAt, org.UpdatedAt,
	).Scan(&org.ID)
	if isUniqueViolation(err) {
		return ErrSlugTaken
	}
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}

	memberQuery := `
		INSERT INTO organization_user (organization_id, user_id, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.ExecContext(ctx, memberQuery, org.ID, org.OwnerID, string(rbac.RoleOwner), org.CreatedAt, org.CreatedAt); err != nil {
		return fmt.Errorf("failed to add owner membership: %w", err)
	}
	return nil
}

// GetOrganization retrieves an organization by ID
func (s *PostgresStore) GetOrganization(ctx context.Context, id int64) (*Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations o WHERE o.id = $1`
	org, err := scanOrganization(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// SlugExists reports whether another organization uses slug.
func (s *PostgresStore) SlugExists(ctx context.Context, slug string, excludeID int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM organizations WHERE slug = $1 AND id <> $2)`
	if err := s.db.QueryRowContext(ctx, query, slug, excludeID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return exists, nil
}

// UpdateOrganization persists the name and slug.
func (s *PostgresStore) UpdateOrganization(ctx context.Context, org *Organization) error {
	query := `UPDATE organizations SET name = $1, slug = $2, updated_at = $3 WHERE id = $4`
	result, err := s.db.ExecContext(ctx, query, org.Name, org.Slug, org.UpdatedAt, org.ID)
	if isUniqueViolation(err) {
		return ErrSlugTaken
	}
	if err != nil {
		return fmt.Errorf("failed to update organization: %w", err)
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

// DeleteOrganization deletes an organization with its memberships and invitations.
func (s *PostgresStore) DeleteOrganization(ctx context.Context, id int64) ([]*User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT u.id, u.name, u.email, u.current_organization_id, u.created_at, u.updated_at
		FROM users u
		JOIN organization_user ou ON ou.user_id = u.id
		WHERE ou.organization_id = $1
		ORDER BY u.id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	var members []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, user)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}

	statements := []string{
		`DELETE FROM organization_user WHERE organization_id = $1`,
		`DELETE FROM organization_invitations WHERE organization_id = $1`,
		`UPDATE users SET current_organization_id = NULL WHERE current_organization_id = $1`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return nil, fmt.Errorf("failed to delete organization: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete organization: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit deletion: %w", err)
	}
	return members, nil
}

// ListUserOrganizations lists the organizations a user belongs to, oldest
// membership first.
func (s *PostgresStore) ListUserOrganizations(ctx context.Context, userID int64) ([]*Organization, error) {
	query := `
		SELECT ` + organizationColumns + `
		FROM organizations o
		JOIN organization_user ou ON ou.organization_id = o.id
		WHERE ou.user_id = $1
		ORDER BY ou.created_at ASC, o.id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

// AddMember attaches a user to an organization with role.
func (s *PostgresStore) AddMember(ctx context.Context, orgID, userID int64, role rbac.Role, at time.Time) error {
	return addMember(ctx, s.db, orgID, userID, role, at)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func addMember(ctx context.Context, db execer, orgID, userID int64, role rbac.Role, at time.Time) error {
	query := `
		INSERT INTO organization_user (organization_id, user_id, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (organization_id, user_id) DO NOTHING
	`
	result, err := db.ExecContext(ctx, query, orgID, userID, string(role), at, at)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAlreadyMember
	}
	return nil
}

// GetMemberRole returns the role of userID on orgID, or ErrNotFound.
func (s *PostgresStore) GetMemberRole(ctx context.Context, orgID, userID int64) (rbac.Role, error) {
	var role string
	query := `SELECT role FROM organization_user WHERE organization_id = $1 AND user_id = $2`
	err := s.db.QueryRowContext(ctx, query, orgID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get member role: %w", err)
	}
	return rbac.Role(role), nil
}

// UpdateMemberRole updates a member's role
func (s *PostgresStore) UpdateMemberRole(ctx context.Context, orgID, userID int64, role rbac.Role, at time.Time) error {
	query := `UPDATE organization_user SET role = $1, updated_at = $2 WHERE organization_id = $3 AND user_id = $4`
	result, err := s.db.ExecContext(ctx, query, string(role), at, orgID, userID)
	if err != nil {
		return fmt.Errorf("failed to update member role: %w", err)
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

// RemoveMember detaches a user from an organization
func (s *PostgresStore) RemoveMember(ctx context.Context, orgID, userID int64) error {
	query := `DELETE FROM organization_user WHERE organization_id = $1 AND user_id = $2`
	result, err := s.db.ExecContext(ctx, query, orgID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
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

// ListMembers lists members with their roles, oldest first.
func (s *PostgresStore) ListMembers(ctx context.Context, orgID int64) ([]*Member, error) {
	query := `
		SELECT u.id, u.name, u.email, ou.role, ou.created_at
		FROM organization_user ou
		JOIN users u ON u.id = ou.user_id
		WHERE ou.organization_id = $1
		ORDER BY ou.created_at ASC, u.id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		m := &Member{}
		var role string
		if err := rows.Scan(&m.UserID, &m.Name, &m.Email, &role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		m.Role = rbac.Role(role)
		members = append(members, m)
	}
	return members, rows.Err()
}

// ListMemberIDs lists the user ids of every member.
func (s *PostgresStore) ListMemberIDs(ctx context.Context, orgID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM organization_user WHERE organization_id = $1 ORDER BY user_id`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list member ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountMembers counts the members of an organization.
func (s *PostgresStore) CountMembers(ctx context.Context, orgID int64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM organization_user WHERE organization_id = $1`, orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return count, nil
}

// IsMemberEmail reports whether a member of orgID has the given email.
func (s *PostgresStore) IsMemberEmail(ctx context.Context, orgID int64, email string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM organization_user ou
			JOIN users u ON u.id = ou.user_id
			WHERE ou.organization_id = $1 AND lower(u.email) = $2
		)
	`
	if err := s.db.QueryRowContext(ctx, query, orgID, NormalizeEmail(email)).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check member email: %w", err)
	}
	return exists, nil
}

// CreateInvitation inserts an invitation.
func (s *PostgresStore) CreateInvitation(ctx context.Context, inv *Invitation) error {
	query := `
		INSERT INTO organization_invitations (id, organization_id, email, role, expires_at, sent_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		inv.ID, inv.OrganizationID, inv.Email, string(inv.Role), nullTime(inv.ExpiresAt),
		inv.SentAt, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	return nil
}

const invitationColumns = `id, organization_id, email, role, expires_at, sent_at, created_at, updated_at`

func scanInvitation(row rowScanner) (*Invitation, error) {
	inv := &Invitation{}
	var role string
	var expiresAt sql.NullTime
	if err := row.Scan(&inv.ID, &inv.OrganizationID, &inv.Email, &role, &expiresAt,
		&inv.SentAt, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
		return nil, err
	}
	inv.Role = rbac.Role(role)
	if expiresAt.Valid {
		inv.ExpiresAt = &expiresAt.Time
	}
	return inv, nil
}

// GetInvitation retrieves an invitation by ID
func (s *PostgresStore) GetInvitation(ctx context.Context, id uuid.UUID) (*Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM organization_invitations WHERE id = $1`
	inv, err := scanInvitation(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return inv, nil
}

// HasInvitation reports whether email already has an invitation to orgID.
func (s *PostgresStore) HasInvitation(ctx context.Context, orgID int64, email string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM organization_invitations WHERE organization_id = $1 AND lower(email) = $2)`
	if err := s.db.QueryRowContext(ctx, query, orgID, NormalizeEmail(email)).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check invitation: %w", err)
	}
	return exists, nil
}

// ListInvitations lists the pending invitations of an organization, newest first.
func (s *PostgresStore) ListInvitations(ctx context.Context, orgID int64) ([]*Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM organization_invitations WHERE organization_id = $1 ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []*Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}
	return invitations, rows.Err()
}

// RefreshInvitation moves the expiry and records a new delivery.
func (s *PostgresStore) RefreshInvitation(ctx context.Context, id uuid.UUID, expiresAt *time.Time, sentAt time.Time) error {
	query := `UPDATE organization_invitations SET expires_at = $1, sent_at = $2, updated_at = $3 WHERE id = $4`
	result, err := s.db.ExecContext(ctx, query, nullTime(expiresAt), sentAt, sentAt, id)
	if err != nil {
		return fmt.Errorf("failed to refresh invitation: %w", err)
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

// DeleteInvitation deletes an invitation
func (s *PostgresStore) DeleteInvitation(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM organization_invitations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete invitation: %w", err)
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

// AcceptInvitation attaches userID with the invitation's role and deletes
// the invitation.
func (s *PostgresStore) AcceptInvitation(ctx context.Context, inv *Invitation, userID int64, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := addMember(ctx, tx, inv.OrganizationID, userID, inv.Role, at); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM organization_invitations WHERE id = $1`, inv.ID); err != nil {
		return fmt.Errorf("failed to delete invitation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit invitation acceptance: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// slugify lowercases name and joins its alphanumeric runs with dashes.
func slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		return "org"
	}
	return slug
}
