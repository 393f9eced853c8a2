package rbac

import "strings"

// Role names a permission bundle assigned per membership.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

func (r Role) String() string { return string(r) }

// Permission is a capability key of the form "group:action".
type Permission string

const (
	PermissionOrganizationView   Permission = "organization:view"
	PermissionOrganizationUpdate Permission = "organization:update"
	PermissionOrganizationDelete Permission = "organization:delete"
	PermissionMemberView         Permission = "member:view"
	PermissionMemberInvite       Permission = "member:invite"
	PermissionMemberRemove       Permission = "member:remove"
	PermissionMemberUpdateRole   Permission = "member:update-role"
)

func (p Permission) String() string { return string(p) }

// Group returns the part before the first colon, or "" for ungrouped keys.
func (p Permission) Group() string {
	if i := strings.IndexByte(string(p), ':'); i > 0 {
		return string(p[:i])
	}
	return ""
}

// Wildcard is the pattern granting every permission.
const Wildcard = "*"

// RoleDefinition describes a role and the permission patterns it grants.
type RoleDefinition struct {
	Name        Role     `json:"name" yaml:"name"`
	Label       string   `json:"label" yaml:"label"`
	Description string   `json:"description" yaml:"description"`
	Permissions []string `json:"permissions" yaml:"permissions"`
}

// PermissionDefinition is one entry of the permission catalog.
type PermissionDefinition struct {
	Key         Permission `json:"key" yaml:"key"`
	Description string     `json:"description" yaml:"description"`
}

// DefaultRoles mirrors the shipped role configuration.
func DefaultRoles() []RoleDefinition {
	return []RoleDefinition{
		{
			Name:        RoleOwner,
			Label:       "Owner",
			Description: "Full access to the organization",
			Permissions: []string{Wildcard},
		},
		{
			Name:        RoleAdmin,
			Label:       "Admin",
			Description: "Can manage members and settings",
			Permissions: []string{
				string(PermissionOrganizationView),
				string(PermissionOrganizationUpdate),
				"member:*",
			},
		},
		{
			Name:        RoleMember,
			Label:       "Member",
			Description: "Basic access to the organization",
			Permissions: []string{
				string(PermissionOrganizationView),
				string(PermissionMemberView),
			},
		},
	}
}

// DefaultPermissions is the shipped permission catalog.
func DefaultPermissions() []PermissionDefinition {
	return []PermissionDefinition{
		{Key: PermissionOrganizationView, Description: "View organization details"},
		{Key: PermissionOrganizationUpdate, Description: "Update organization settings"},
		{Key: PermissionOrganizationDelete, Description: "Delete organization"},
		{Key: PermissionMemberView, Description: "View organization members"},
		{Key: PermissionMemberInvite, Description: "Invite new members"},
		{Key: PermissionMemberRemove, Description: "Remove members"},
		{Key: PermissionMemberUpdateRole, Description: "Change member roles"},
	}
}
