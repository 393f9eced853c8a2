package rbac

import (
	"fmt"
	"strings"
)

// Registry is the validated, immutable role to permission mapping.
// It is safe for concurrent use.
type Registry struct {
	roles       map[Role]RoleDefinition
	roleOrder   []Role
	permissions []PermissionDefinition
	known       map[Permission]struct{}
	defaultRole Role
}

// NewRegistry validates the configuration and builds a registry.
//
// Every role must be one of the known Role values, every pattern must be
// "*", "group:*" for a group present in the catalog, or a catalog key, and
// the default role must be registered and assignable.
func NewRegistry(roles []RoleDefinition, permissions []PermissionDefinition, defaultRole Role) (*Registry, error) {
	if len(permissions) == 0 {
		return nil, fmt.Errorf("permission catalog is empty")
	}

	r := &Registry{
		roles:       make(map[Role]RoleDefinition, len(roles)),
		permissions: make([]PermissionDefinition, 0, len(permissions)),
		known:       make(map[Permission]struct{}, len(permissions)),
		defaultRole: defaultRole,
	}

	groups := make(map[string]struct{})
	for _, p := range permissions {
		if p.Key.Group() == "" {
			return nil, fmt.Errorf("permission %q must have the form group:action", p.Key)
		}
		if _, dup := r.known[p.Key]; dup {
			return nil, fmt.Errorf("duplicate permission %q", p.Key)
		}
		r.known[p.Key] = struct{}{}
		r.permissions = append(r.permissions, p)
		groups[p.Key.Group()] = struct{}{}
	}

	for _, def := range roles {
		switch def.Name {
		case RoleOwner, RoleAdmin, RoleMember:
		default:
			return nil, fmt.Errorf("unknown role %q", def.Name)
		}
		if _, dup := r.roles[def.Name]; dup {
			return nil, fmt.Errorf("duplicate role %q", def.Name)
		}
		for _, pattern := range def.Permissions {
			if err := r.validatePattern(pattern, groups); err != nil {
				return nil, fmt.Errorf("role %q: %w", def.Name, err)
			}
		}
		def.Permissions = append([]string(nil), def.Permissions...)
		r.roles[def.Name] = def
		r.roleOrder = append(r.roleOrder, def.Name)
	}

	if _, ok := r.roles[RoleOwner]; !ok {
		return nil, fmt.Errorf("role %q must be configured", RoleOwner)
	}
	if !r.IsAssignable(defaultRole) {
		return nil, fmt.Errorf("default role %q must be a registered role other than owner", defaultRole)
	}

	return r, nil
}

func (r *Registry) validatePattern(pattern string, groups map[string]struct{}) error {
	if pattern == Wildcard {
		return nil
	}
	if prefix, ok := strings.CutSuffix(pattern, ":*"); ok {
		if _, exists := groups[prefix]; !exists {
			return fmt.Errorf("wildcard %q matches no permission", pattern)
		}
		return nil
	}
	if _, ok := r.known[Permission(pattern)]; !ok {
		return fmt.Errorf("unknown permission %q", pattern)
	}
	return nil
}

// DefaultRegistry returns the registry for the shipped configuration.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultRoles(), DefaultPermissions(), RoleMember)
	if err != nil {
		panic(fmt.Sprintf("rbac: invalid default configuration: %v", err))
	}
	return r
}

// RoleHasPermission reports whether role grants permission. Unknown roles
// grant nothing.
func (r *Registry) RoleHasPermission(role Role, permission Permission) bool {
	def, ok := r.roles[role]
	if !ok {
		return false
	}
	for _, pattern := range def.Permissions {
		if matches(pattern, permission) {
			return true
		}
	}
	return false
}

func matches(pattern string, permission Permission) bool {
	if pattern == Wildcard || pattern == string(permission) {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok && strings.HasSuffix(prefix, ":") {
		return strings.HasPrefix(string(permission), prefix)
	}
	return false
}

// ExpandPermissions expands the role's patterns against the catalog and
// returns the deduplicated keys in catalog order.
func (r *Registry) ExpandPermissions(role Role) []string {
	def, ok := r.roles[role]
	if !ok {
		return []string{}
	}

	out := make([]string, 0, len(r.permissions))
	for _, p := range r.permissions {
		for _, pattern := range def.Permissions {
			if matches(pattern, p.Key) {
				out = append(out, string(p.Key))
				break
			}
		}
	}
	return out
}

// IsRegistered reports whether role is configured.
func (r *Registry) IsRegistered(role Role) bool {
	_, ok := r.roles[role]
	return ok
}

// IsAssignable reports whether role can be granted through invitations or
// role updates. The owner role is bound to organization ownership and never
// assignable.
func (r *Registry) IsAssignable(role Role) bool {
	return role != RoleOwner && r.IsRegistered(role)
}

// IsKnownPermission reports whether permission is in the catalog.
func (r *Registry) IsKnownPermission(permission Permission) bool {
	_, ok := r.known[permission]
	return ok
}

// DefaultRole is the role proposed for new invitations.
func (r *Registry) DefaultRole() Role {
	return r.defaultRole
}

// Definition returns the configuration of role.
func (r *Registry) Definition(role Role) (RoleDefinition, bool) {
	def, ok := r.roles[role]
	return def, ok
}

// Roles returns the role definitions in configuration order.
func (r *Registry) Roles() []RoleDefinition {
	out := make([]RoleDefinition, 0, len(r.roleOrder))
	for _, name := range r.roleOrder {
		out = append(out, r.roles[name])
	}
	return out
}

// AssignableRoles returns every role except owner, in configuration order.
func (r *Registry) AssignableRoles() []RoleDefinition {
	out := make([]RoleDefinition, 0, len(r.roleOrder))
	for _, def := range r.Roles() {
		if def.Name != RoleOwner {
			out = append(out, def)
		}
	}
	return out
}

// Permissions returns the permission catalog in configuration order.
func (r *Registry) Permissions() []PermissionDefinition {
	return append([]PermissionDefinition(nil), r.permissions...)
}
