package orgs

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/orgkit/pkg/notify"
)

// Invitation returns an invitation by id.
func (s *Service) Invitation(ctx context.Context, id uuid.UUID) (*Invitation, error) {
	return s.store.GetInvitation(ctx, id)
}

// ListInvitations lists the pending invitations of an organization.
func (s *Service) ListInvitations(ctx context.Context, orgID int64) ([]*Invitation, error) {
	return s.store.ListInvitations(ctx, orgID)
}

func (s *Service) expiresAt(now time.Time) *time.Time {
	days := s.config.InvitationExpiryDays
	if days == nil || *days <= 0 {
		return nil
	}
	t := now.AddDate(0, 0, *days)
	return &t
}

// Invite records an invitation for an email that is neither a member nor
// already invited, and delivers it.
func (s *Service) Invite(ctx context.Context, orgID int64, input InviteInput) (*Invitation, error) {
	input.Email = NormalizeEmail(input.Email)
	if err := validateInput(input); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"organization_id": orgID,
		"email":           input.Email,
		"role":            string(input.Role),
	}).Debug("inviting member")

	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}

	member, err := s.store.IsMemberEmail(ctx, orgID, input.Email)
	if err != nil {
		return nil, err
	}
	if member {
		return nil, newValidationError("email", CodeAlreadyMember, "This user is already a member of the organization.")
	}

	invited, err := s.store.HasInvitation(ctx, orgID, input.Email)
	if err != nil {
		return nil, err
	}
	if invited {
		return nil, newValidationError("email", CodeAlreadyInvited, "An invitation has already been sent to this email.")
	}

	if !s.registry.IsRegistered(input.Role) {
		return nil, newValidationError("role", CodeInvalidRole, "The selected role is invalid.")
	}
	if !s.registry.IsAssignable(input.Role) {
		return nil, newValidationError("role", CodeOwnerRoleNotAssignable, "Cannot assign the owner role.")
	}

	now := s.now()
	inv := &Invitation{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Email:          input.Email,
		Role:           input.Role,
		ExpiresAt:      s.expiresAt(now),
		SentAt:         now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateInvitation(ctx, inv); err != nil {
		return nil, err
	}

	s.deliverInvitation(ctx, org, inv)

	s.logger.WithFields(map[string]interface{}{
		"organization_id": orgID,
		"invitation_id":   inv.ID.String(),
		"email":           inv.Email,
	}).Info("invitation sent")
	return inv, nil
}

// AcceptInvitation turns an invitation into a membership of user and makes
// the organization their current one. Expired invitations and invitations
// for organizations the user already belongs to are deleted.
func (s *Service) AcceptInvitation(ctx context.Context, user *User, invitationID uuid.UUID) (*Organization, error) {
	inv, err := s.store.GetInvitation(ctx, invitationID)
	if err != nil {
		return nil, err
	}

	log := s.logger.WithFields(map[string]interface{}{
		"user_id":         user.ID,
		"invitation_id":   inv.ID.String(),
		"organization_id": inv.OrganizationID,
	})
	log.Debug("accepting invitation")

	if inv.IsExpired(s.now()) {
		if err := s.store.DeleteInvitation(ctx, inv.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		log.Warn("attempted to accept expired invitation")
		return nil, newValidationError("invitation", CodeInvitationExpired, "This invitation has expired.")
	}

	if NormalizeEmail(inv.Email) != NormalizeEmail(user.Email) {
		return nil, newValidationError("invitation", CodeInvitationMismatch, "This invitation does not belong to you.")
	}

	alreadyMember := func() error {
		if err := s.store.DeleteInvitation(ctx, inv.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		return newValidationError("invitation", CodeAlreadyMember, "You are already a member of this organization.")
	}

	if _, err := s.store.GetMemberRole(ctx, inv.OrganizationID, user.ID); err == nil {
		return nil, alreadyMember()
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if err := s.store.AcceptInvitation(ctx, inv, user.ID, s.now()); err != nil {
		if errors.Is(err, ErrAlreadyMember) {
			return nil, alreadyMember()
		}
		return nil, err
	}

	if err := s.SwitchCurrentOrganization(ctx, user, inv.OrganizationID); err != nil {
		return nil, err
	}

	org, err := s.store.GetOrganization(ctx, inv.OrganizationID)
	if err != nil {
		return nil, err
	}

	log.WithField("role", string(inv.Role)).Info("invitation accepted")
	return org, nil
}

// ResendInvitation refreshes the expiry and delivers the invitation again.
// A still valid invitation cannot be resent within the cooldown of its
// last delivery.
func (s *Service) ResendInvitation(ctx context.Context, invitationID uuid.UUID) (*Invitation, error) {
	inv, err := s.store.GetInvitation(ctx, invitationID)
	if err != nil {
		return nil, err
	}

	log := s.logger.WithFields(map[string]interface{}{
		"invitation_id": inv.ID.String(),
		"email":         inv.Email,
	})
	log.Debug("resending invitation")

	now := s.now()
	if !inv.IsExpired(now) && now.Sub(inv.SentAt) < s.config.ResendCooldown {
		log.Debug("resend cooldown active")
		return nil, newValidationError("invitation", CodeResendCooldown, "Please wait before resending this invitation.")
	}

	org, err := s.store.GetOrganization(ctx, inv.OrganizationID)
	if err != nil {
		return nil, err
	}

	inv.ExpiresAt = s.expiresAt(now)
	inv.SentAt = now
	inv.UpdatedAt = now
	if err := s.store.RefreshInvitation(ctx, inv.ID, inv.ExpiresAt, now); err != nil {
		return nil, err
	}

	s.deliverInvitation(ctx, org, inv)
	return inv, nil
}

// CancelInvitation deletes an invitation whatever its state.
func (s *Service) CancelInvitation(ctx context.Context, invitationID uuid.UUID) error {
	s.logger.WithField("invitation_id", invitationID.String()).Debug("cancelling invitation")
	return s.store.DeleteInvitation(ctx, invitationID)
}

// deliverInvitation notifies the invitee: as a user when the email is
// registered, else by address. Failures are logged and swallowed.
func (s *Service) deliverInvitation(ctx context.Context, org *Organization, inv *Invitation) {
	if s.notifier == nil {
		return
	}

	to := notify.ToEmail(inv.Email)
	if existing, err := s.store.GetUserByEmail(ctx, inv.Email); err == nil {
		to = notify.ToUser(existing.ID, existing.Email)
	} else if !errors.Is(err, ErrNotFound) {
		s.logger.WithError(err).WithField("email", inv.Email).Warn("failed to look up invitee")
	}

	data := map[string]interface{}{
		"invitation_id":     inv.ID.String(),
		"organization_id":   org.ID,
		"organization_name": org.Name,
		"role":              string(inv.Role),
		"accept_url":        strings.TrimSuffix(s.config.AcceptURL, "/") + "/" + inv.ID.String(),
	}
	if inv.ExpiresAt != nil {
		data["expires_at"] = inv.ExpiresAt.Format(time.RFC3339)
	}

	err := s.notifier.Notify(ctx, to, notify.Message{
		Kind:    notify.KindInvitation,
		Subject: "You have been invited to join " + org.Name,
		Data:    data,
	})
	if err != nil {
		s.logger.WithError(err).WithFields(map[string]interface{}{
			"organization_id": org.ID,
			"email":           inv.Email,
		}).Error("failed to send invitation notification")
	}
}
