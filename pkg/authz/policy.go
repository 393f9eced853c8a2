package authz

import (
	"context"
	"errors"

	"github.com/platinummonkey/orgkit/pkg/orgs"
	"github.com/platinummonkey/orgkit/pkg/rbac"
)

// ErrForbidden is returned by Policy.Authorize. It deliberately carries no
// detail about which permission was missing.
var ErrForbidden = errors.New("forbidden")

// Action is an operation on an organization guarded by the policy.
type Action string

const (
	ActionView              Action = "view"
	ActionUpdate            Action = "update"
	ActionDelete            Action = "delete"
	ActionManageMembers     Action = "manage_members"
	ActionRemoveMembers     Action = "remove_members"
	ActionUpdateMemberRoles Action = "update_member_roles"
	ActionViewMembers       Action = "view_members"
)

var actionPermissions = map[Action]rbac.Permission{
	ActionUpdate:            rbac.PermissionOrganizationUpdate,
	ActionDelete:            rbac.PermissionOrganizationDelete,
	ActionManageMembers:     rbac.PermissionMemberInvite,
	ActionRemoveMembers:     rbac.PermissionMemberRemove,
	ActionUpdateMemberRoles: rbac.PermissionMemberUpdateRole,
	ActionViewMembers:       rbac.PermissionMemberView,
}

// Policy maps organization actions onto permission checks.
type Policy struct {
	resolver *Resolver
}

// NewPolicy creates a policy backed by resolver.
func NewPolicy(resolver *Resolver) *Policy {
	return &Policy{resolver: resolver}
}

// Allows reports whether user may perform action on org. Viewing only
// requires membership. Personal organizations can never be deleted.
func (p *Policy) Allows(ctx context.Context, user *orgs.User, action Action, org *orgs.Organization) (bool, error) {
	if user == nil || org == nil {
		return false, nil
	}

	if action == ActionView {
		_, member, err := p.resolver.Role(ctx, user, &org.ID)
		return member, err
	}

	if action == ActionDelete && org.IsPersonal {
		return false, nil
	}

	permission, ok := actionPermissions[action]
	if !ok {
		return false, nil
	}
	return p.resolver.HasPermission(ctx, user, permission, &org.ID)
}

// Authorize is Allows returning ErrForbidden on denial.
func (p *Policy) Authorize(ctx context.Context, user *orgs.User, action Action, org *orgs.Organization) error {
	allowed, err := p.Allows(ctx, user, action, org)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrForbidden
	}
	return nil
}
