package orgs

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/platinummonkey/orgkit/pkg/notify"
	"github.com/platinummonkey/orgkit/pkg/observability"
	"github.com/platinummonkey/orgkit/pkg/rbac"
)

// PermissionCache drops the cached authorization state of users.
type PermissionCache interface {
	Invalidate(ctx context.Context, userIDs ...int64) error
}

// BillingCache drops the cached plan resolution of an organization.
// Implementations log their own failures.
type BillingCache interface {
	ClearBillingCache(ctx context.Context, orgID int64)
}

// Config holds the organization behaviour that is configurable per
// deployment.
type Config struct {
	// PersonalOrganization creates a personal organization for every
	// registered user.
	PersonalOrganization bool
	// InvitationExpiryDays is the invitation lifetime. Nil or zero means
	// invitations never expire.
	InvitationExpiryDays *int
	// ResendCooldown is the minimum time between two deliveries of one
	// invitation.
	ResendCooldown time.Duration
	// AcceptURL is the base URL the invitation id is appended to in
	// invitation messages.
	AcceptURL string
}

// DefaultResendCooldown is used when Config.ResendCooldown is zero.
const DefaultResendCooldown = time.Minute

// Service implements the membership, context-switch and invitation
// operations on top of a Store.
type Service struct {
	store       Store
	registry    *rbac.Registry
	permissions PermissionCache
	billing     BillingCache
	notifier    notify.Notifier
	config      Config
	clock       clockwork.Clock
	logger      *observability.Logger
}

// NewService creates a new organization service. permissions and notifier
// may be nil.
func NewService(store Store, registry *rbac.Registry, permissions PermissionCache, notifier notify.Notifier, config Config, logger *observability.Logger) *Service {
	if config.ResendCooldown <= 0 {
		config.ResendCooldown = DefaultResendCooldown
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Service{
		store:       store,
		registry:    registry,
		permissions: permissions,
		notifier:    notifier,
		config:      config,
		clock:       clockwork.NewRealClock(),
		logger:      logger,
	}
}

// WithClock replaces the clock, for tests.
func (s *Service) WithClock(clock clockwork.Clock) *Service {
	s.clock = clock
	return s
}

// WithBillingCache makes organization deletion drop the billing cache.
func (s *Service) WithBillingCache(billing BillingCache) *Service {
	s.billing = billing
	return s
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

// RegisterUser creates a user and, when configured, their personal
// organization, which becomes their current organization.
func (s *Service) RegisterUser(ctx context.Context, input RegisterUserInput) (*User, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Email = NormalizeEmail(input.Email)
	if err := validateInput(input); err != nil {
		return nil, err
	}

	emailTaken := newValidationError("email", CodeEmailTaken, "The email has already been taken.")
	if _, err := s.store.GetUserByEmail(ctx, input.Email); err == nil {
		return nil, emailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := s.now()
	user := &User{Name: input.Name, Email: input.Email, CreatedAt: now, UpdatedAt: now}
	var personal *Organization
	if s.config.PersonalOrganization {
		name := user.Name + "'s Organization"
		personal = &Organization{
			Name:       name,
			Slug:       generateSlug(name),
			IsPersonal: true,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}

	if err := s.store.CreateUser(ctx, user, personal); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, emailTaken
		}
		return nil, fmt.Errorf("failed to register user: %w", err)
	}

	if personal != nil {
		s.ClearUserCache(ctx, user.ID)
		s.logger.WithFields(map[string]interface{}{
			"organization_id": personal.ID,
			"user_id":         user.ID,
		}).Info("personal organization created")
	}

	s.logger.WithField("user_id", user.ID).Info("user registered")
	return user, nil
}

// User returns a user by id.
func (s *Service) User(ctx context.Context, id int64) (*User, error) {
	return s.store.GetUser(ctx, id)
}

// Organization returns an organization by id.
func (s *Service) Organization(ctx context.Context, id int64) (*Organization, error) {
	return s.store.GetOrganization(ctx, id)
}

// ListOrganizations lists the organizations user belongs to.
func (s *Service) ListOrganizations(ctx context.Context, user *User) ([]*Organization, error) {
	return s.store.ListUserOrganizations(ctx, user.ID)
}

// CreateOrganization creates an organization owned by user and makes it
// the user's current organization.
func (s *Service) CreateOrganization(ctx context.Context, user *User, input CreateOrganizationInput) (*Organization, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := validateInput(input); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"user_id": user.ID,
		"name":    input.Name,
	}).Debug("creating organization")

	slug := input.Slug
	if slug == "" {
		slug = generateSlug(input.Name)
	} else if err := s.ensureSlugAvailable(ctx, slug, 0); err != nil {
		return nil, err
	}

	now := s.now()
	org := &Organization{
		Name:      input.Name,
		Slug:      slug,
		OwnerID:   user.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateOrganization(ctx, org); err != nil {
		if errors.Is(err, ErrSlugTaken) {
			return nil, slugTakenError()
		}
		return nil, err
	}

	if err := s.SwitchCurrentOrganization(ctx, user, org.ID); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"organization_id": org.ID,
		"user_id":         user.ID,
		"name":            org.Name,
	}).Info("organization created")
	return org, nil
}

// UpdateOrganization changes the name and/or slug and drops the cached
// organization of every member.
func (s *Service) UpdateOrganization(ctx context.Context, orgID int64, input UpdateOrganizationInput) (*Organization, error) {
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		input.Name = &name
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}

	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}

	var changes []string
	if input.Name != nil {
		org.Name = *input.Name
		changes = append(changes, "name")
	}
	if input.Slug != nil && *input.Slug != org.Slug {
		if err := s.ensureSlugAvailable(ctx, *input.Slug, org.ID); err != nil {
			return nil, err
		}
		org.Slug = *input.Slug
		changes = append(changes, "slug")
	}
	s.logger.WithFields(map[string]interface{}{
		"organization_id": org.ID,
		"changes":         changes,
	}).Debug("updating organization")

	org.UpdatedAt = s.now()
	if err := s.store.UpdateOrganization(ctx, org); err != nil {
		if errors.Is(err, ErrSlugTaken) {
			return nil, slugTakenError()
		}
		return nil, err
	}

	s.ClearOrganizationCache(ctx, org.ID)
	return org, nil
}

func (s *Service) ensureSlugAvailable(ctx context.Context, slug string, excludeID int64) error {
	taken, err := s.store.SlugExists(ctx, slug, excludeID)
	if err != nil {
		return err
	}
	if taken {
		return slugTakenError()
	}
	return nil
}

func slugTakenError() error {
	return newValidationError("slug", CodeSlugTaken, "The slug has already been taken.")
}

// generateSlug derives a slug from name with a random suffix.
func generateSlug(name string) string {
	return slugify(name) + "-" + strings.ToLower(rand.Text()[:5])
}

// SwitchCurrentOrganization makes orgID the user's current organization.
// It is the only place the pointer is set to an organization, and it drops
// the user's cached permissions before returning. user is updated in place.
func (s *Service) SwitchCurrentOrganization(ctx context.Context, user *User, orgID int64) error {
	if _, err := s.store.GetMemberRole(ctx, orgID, user.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return newValidationError("organization", CodeNotAMember, "You are not a member of this organization.")
		}
		return err
	}

	s.logger.WithFields(map[string]interface{}{
		"user_id":              user.ID,
		"from_organization_id": user.CurrentOrganizationID,
		"to_organization_id":   orgID,
	}).Debug("switching current organization")

	if err := s.store.SetCurrentOrganization(ctx, user.ID, &orgID, s.now()); err != nil {
		return err
	}
	s.ClearUserCache(ctx, user.ID)

	current := orgID
	user.CurrentOrganizationID = &current
	return nil
}

// ReassignCurrentOrganization moves a user off vacatedOrgID when it is
// their current organization: to their personal organization, else to the
// oldest remaining membership, else to no organization.
func (s *Service) ReassignCurrentOrganization(ctx context.Context, user *User, vacatedOrgID int64) error {
	if !user.IsCurrentOrganization(vacatedOrgID) {
		return nil
	}

	remaining, err := s.store.ListUserOrganizations(ctx, user.ID)
	if err != nil {
		return err
	}

	var fallback *Organization
	for _, org := range remaining {
		if org.ID == vacatedOrgID {
			continue
		}
		if org.IsPersonal && org.IsOwnedBy(user.ID) {
			fallback = org
			break
		}
		if fallback == nil {
			fallback = org
		}
	}

	if fallback != nil {
		return s.SwitchCurrentOrganization(ctx, user, fallback.ID)
	}

	if err := s.store.SetCurrentOrganization(ctx, user.ID, nil, s.now()); err != nil {
		return err
	}
	s.ClearUserCache(ctx, user.ID)
	user.CurrentOrganizationID = nil
	return nil
}

// ClearUserCache drops the cached authorization state of users. Failures
// are logged; the cache TTL bounds any staleness.
func (s *Service) ClearUserCache(ctx context.Context, userIDs ...int64) {
	if s.permissions == nil || len(userIDs) == 0 {
		return
	}
	if err := s.permissions.Invalidate(ctx, userIDs...); err != nil {
		s.logger.WithError(err).WithField("user_ids", userIDs).Warn("failed to clear organization cache for users")
		return
	}
	s.logger.WithField("user_ids", userIDs).Debug("cleared organization cache for users")
}

// ClearOrganizationCache drops the cached authorization state of every
// member of orgID.
func (s *Service) ClearOrganizationCache(ctx context.Context, orgID int64) {
	ids, err := s.store.ListMemberIDs(ctx, orgID)
	if err != nil {
		s.logger.WithError(err).WithField("organization_id", orgID).Warn("failed to clear organization cache for members")
		return
	}
	s.ClearUserCache(ctx, ids...)
}
