package orgs

import (
	"context"
	"errors"

	"github.com/platinummonkey/orgkit/pkg/rbac"
)

// ListMembers lists the members of an organization with their roles.
func (s *Service) ListMembers(ctx context.Context, orgID int64) ([]*Member, error) {
	return s.store.ListMembers(ctx, orgID)
}

// CountMembers counts the members of an organization.
func (s *Service) CountMembers(ctx context.Context, orgID int64) (int64, error) {
	return s.store.CountMembers(ctx, orgID)
}

func notAMemberError(field string) error {
	return newValidationError(field, CodeNotAMember, "The user is not a member of this organization.")
}

// UpdateMemberRole changes the role of a member. The owner's role is fixed
// and the owner role is never assignable.
func (s *Service) UpdateMemberRole(ctx context.Context, orgID, memberID int64, role rbac.Role) error {
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return err
	}
	if org.IsOwnedBy(memberID) {
		return newValidationError("role", CodeOwnerProtected, "The organization owner role cannot be changed.")
	}
	if !s.registry.IsRegistered(role) {
		return newValidationError("role", CodeInvalidRole, "The selected role is invalid.")
	}
	if !s.registry.IsAssignable(role) {
		return newValidationError("role", CodeOwnerRoleNotAssignable, "Cannot assign the owner role.")
	}

	oldRole, err := s.store.GetMemberRole(ctx, orgID, memberID)
	if errors.Is(err, ErrNotFound) {
		return notAMemberError("member")
	}
	if err != nil {
		return err
	}

	if err := s.store.UpdateMemberRole(ctx, orgID, memberID, role, s.now()); err != nil {
		return err
	}
	s.ClearUserCache(ctx, memberID)

	s.logger.WithFields(map[string]interface{}{
		"organization_id": orgID,
		"member_id":       memberID,
		"old_role":        string(oldRole),
		"new_role":        string(role),
	}).Info("member role updated")
	return nil
}

// RemoveMember detaches a member from an organization and moves them off
// it when it was their current organization.
func (s *Service) RemoveMember(ctx context.Context, orgID, memberID int64) error {
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return err
	}
	if org.IsOwnedBy(memberID) {
		return newValidationError("member", CodeOwnerProtected, "The organization owner cannot be removed.")
	}

	member, err := s.store.GetUser(ctx, memberID)
	if err != nil {
		return err
	}

	s.logger.WithFields(map[string]interface{}{
		"organization_id": orgID,
		"member_id":       memberID,
	}).Info("removing member")

	if err := s.store.RemoveMember(ctx, orgID, memberID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return notAMemberError("member")
		}
		return err
	}
	s.ClearUserCache(ctx, memberID)

	return s.ReassignCurrentOrganization(ctx, member, orgID)
}

// LeaveOrganization detaches user from an organization they do not own.
func (s *Service) LeaveOrganization(ctx context.Context, user *User, orgID int64) error {
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return err
	}
	if org.IsOwnedBy(user.ID) {
		return newValidationError("organization", CodeOwnerProtected,
			"The organization owner cannot leave. Transfer ownership or delete the organization instead.")
	}
	if org.IsPersonal {
		return newValidationError("organization", CodePersonalOrganization, "You cannot leave your personal organization.")
	}

	s.logger.WithFields(map[string]interface{}{
		"user_id":         user.ID,
		"organization_id": orgID,
	}).Info("member leaving")

	if err := s.store.RemoveMember(ctx, orgID, user.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return newValidationError("organization", CodeNotAMember, "You are not a member of this organization.")
		}
		return err
	}
	s.ClearUserCache(ctx, user.ID)

	return s.ReassignCurrentOrganization(ctx, user, orgID)
}

// DeleteOrganization deletes a non-personal organization with its
// memberships and invitations, then moves every member who was working in
// it to a fallback organization. Cache failures do not abort the deletion.
func (s *Service) DeleteOrganization(ctx context.Context, orgID int64) error {
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return err
	}
	if org.IsPersonal {
		return newValidationError("organization", CodePersonalOrganization, "Cannot delete a personal organization.")
	}

	s.logger.WithFields(map[string]interface{}{
		"organization_id": org.ID,
		"name":            org.Name,
	}).Info("deleting organization")

	members, err := s.store.DeleteOrganization(ctx, orgID)
	if err != nil {
		return err
	}

	ids := make([]int64, 0, len(members))
	for _, member := range members {
		ids = append(ids, member.ID)
	}
	s.ClearUserCache(ctx, ids...)
	if s.billing != nil {
		s.billing.ClearBillingCache(ctx, orgID)
	}

	var errs []error
	for _, member := range members {
		if err := s.ReassignCurrentOrganization(ctx, member, orgID); err != nil {
			s.logger.WithError(err).WithField("user_id", member.ID).Error("failed to reassign current organization")
			errs = append(errs, err)
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"organization_id":  orgID,
		"members_affected": len(members),
	}).Info("organization deleted")
	return errors.Join(errs...)
}
