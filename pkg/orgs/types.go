package orgs

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/orgkit/pkg/rbac"
)

// User is an account that can belong to several organizations. At most one
// of them is current at a time.
type User struct {
	ID                    int64     `json:"id"`
	Name                  string    `json:"name"`
	Email                 string    `json:"email"`
	CurrentOrganizationID *int64    `json:"current_organization_id,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// HasCurrentOrganization reports whether the user has a current organization.
func (u *User) HasCurrentOrganization() bool {
	return u != nil && u.CurrentOrganizationID != nil
}

// IsCurrentOrganization reports whether orgID is the user's current organization.
func (u *User) IsCurrentOrganization(orgID int64) bool {
	return u.HasCurrentOrganization() && *u.CurrentOrganizationID == orgID
}

// Organization is the tenant boundary for membership and billing.
type Organization struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	Slug             string    `json:"slug"`
	IsPersonal       bool      `json:"personal_organization"`
	OwnerID          int64     `json:"owner_id"`
	StripeCustomerID *string   `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// IsOwnedBy reports whether userID owns the organization.
func (o *Organization) IsOwnedBy(userID int64) bool {
	return o.OwnerID == userID
}

// Member is a user together with their role on one organization.
type Member struct {
	UserID   int64     `json:"user_id"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Role     rbac.Role `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// Invitation is a pending offer for an email address to join an organization.
type Invitation struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID int64      `json:"organization_id"`
	Email          string     `json:"email"`
	Role           rbac.Role  `json:"role"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	SentAt         time.Time  `json:"sent_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsExpired reports whether the invitation has an expiry that has passed.
// Invitations without an expiry never expire.
func (i *Invitation) IsExpired(now time.Time) bool {
	return i.ExpiresAt != nil && !now.Before(*i.ExpiresAt)
}

// NormalizeEmail lowercases and trims an email address so membership and
// invitation lookups compare addresses consistently.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var (
	// ErrNotFound is returned by stores when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrSlugTaken is returned when an organization slug is already in use.
	ErrSlugTaken = errors.New("slug already taken")
	// ErrEmailTaken is returned when a user email is already registered.
	ErrEmailTaken = errors.New("email already registered")
	// ErrAlreadyMember is returned when a membership edge already exists.
	ErrAlreadyMember = errors.New("already a member")
)

// Validation error codes. They are stable and safe to expose to API clients.
const (
	CodeInvalidInput           = "invalid_input"
	CodeNotAMember             = "not_a_member"
	CodeOwnerProtected         = "owner_protected"
	CodeInvalidRole            = "invalid_role"
	CodeOwnerRoleNotAssignable = "owner_role_not_assignable"
	CodePersonalOrganization   = "personal_organization"
	CodeSlugTaken              = "slug_taken"
	CodeEmailTaken             = "email_taken"
	CodeAlreadyMember          = "already_member"
	CodeAlreadyInvited         = "already_invited"
	CodeInvitationExpired      = "invitation_expired"
	CodeInvitationMismatch     = "invitation_mismatch"
	CodeResendCooldown         = "resend_cooldown"
)

// ValidationError is a business rule rejection attributed to an input field.
// It is an expected outcome and is never logged above warning level.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func newValidationError(field, code, message string) *ValidationError {
	return &ValidationError{Field: field, Code: code, Message: message}
}

// AsValidationError extracts a ValidationError from err.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// HasCode reports whether err is a ValidationError with the given code.
func HasCode(err error, code string) bool {
	ve, ok := AsValidationError(err)
	return ok && ve.Code == code
}
