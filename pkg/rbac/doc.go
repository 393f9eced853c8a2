// Package rbac holds the static role and permission registry.
//
// # Overview
//
// Roles are named bundles of permission patterns. A pattern is an exact
// permission key ("member:invite"), a group wildcard ("member:*") or the
// global wildcard ("*"). The registry is built once from configuration,
// validated at load time, and never mutated afterwards.
//
// # Roles
//
//	owner   *
//	admin   organization:view, organization:update, member:*
//	member  organization:view, member:view
//
// Role names outside the registry are not an error anywhere in the system.
// They simply grant nothing, so a stale or hand-edited membership row fails
// closed.
//
// # Usage
//
//	registry := rbac.DefaultRegistry()
//	registry.RoleHasPermission(rbac.RoleAdmin, rbac.PermissionMemberInvite) // true
//	registry.ExpandPermissions(rbac.RoleMember) // [organization:view member:view]
//
// Resolving a user's effective permissions on an organization lives in
// pkg/authz, which combines this registry with membership data and a cache.
package rbac
