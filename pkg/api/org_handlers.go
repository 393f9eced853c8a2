package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/orgkit/pkg/authz"
	"github.com/platinummonkey/orgkit/pkg/httputil"
	"github.com/platinummonkey/orgkit/pkg/orgs"
	"github.com/platinummonkey/orgkit/pkg/rbac"
)

// OrgHandlers handles organization, membership and invitation requests.
type OrgHandlers struct {
	orgs     *orgs.Service
	policy   *authz.Policy
	registry *rbac.Registry
}

// NewOrgHandlers creates a new OrgHandlers
func NewOrgHandlers(service *orgs.Service, policy *authz.Policy, registry *rbac.Registry) *OrgHandlers {
	return &OrgHandlers{
		orgs:     service,
		policy:   policy,
		registry: registry,
	}
}

// RegisterRoutes registers organization routes
func (h *OrgHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/orgs", h.CreateOrganization).Methods("POST")
	router.HandleFunc("/orgs", h.ListOrganizations).Methods("GET")
	router.HandleFunc("/orgs/{org_id}", h.GetOrganization).Methods("GET")
	router.HandleFunc("/orgs/{org_id}", h.UpdateOrganization).Methods("PATCH")
	router.HandleFunc("/orgs/{org_id}", h.DeleteOrganization).Methods("DELETE")
	router.HandleFunc("/orgs/{org_id}/switch", h.SwitchOrganization).Methods("POST")
	router.HandleFunc("/orgs/{org_id}/leave", h.LeaveOrganization).Methods("POST")

	// Members
	router.HandleFunc("/orgs/{org_id}/members", h.ListMembers).Methods("GET")
	router.HandleFunc("/orgs/{org_id}/members/{user_id}", h.UpdateMemberRole).Methods("PATCH")
	router.HandleFunc("/orgs/{org_id}/members/{user_id}", h.RemoveMember).Methods("DELETE")

	// Invitations
	router.HandleFunc("/orgs/{org_id}/invitations", h.ListInvitations).Methods("GET")
	router.HandleFunc("/orgs/{org_id}/invitations", h.CreateInvitation).Methods("POST")
	router.HandleFunc("/invitations/{invitation_id}", h.ResendInvitation).Methods("PATCH")
	router.HandleFunc("/invitations/{invitation_id}", h.CancelInvitation).Methods("DELETE")
	router.HandleFunc("/invitations/{invitation_id}/accept", h.AcceptInvitation).Methods("POST")

	router.HandleFunc("/roles", h.ListRoles).Methods("GET")
}

// authorizedOrganization loads the {org_id} organization and checks that
// user may perform action on it. It writes the response on failure.
func (h *OrgHandlers) authorizedOrganization(w http.ResponseWriter, r *http.Request, user *orgs.User, action authz.Action) (*orgs.Organization, bool) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return nil, false
	}

	org, err := h.orgs.Organization(r.Context(), orgID)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}

	if err := h.policy.Authorize(r.Context(), user, action, org); err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return org, true
}

// CreateOrganization creates an organization owned by the caller and makes
// it their current one.
func (h *OrgHandlers) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var input orgs.CreateOrganizationInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	org, err := h.orgs.CreateOrganization(r.Context(), user, input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, org)
}

// ListOrganizations lists the caller's organizations.
func (h *OrgHandlers) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	list, err := h.orgs.ListOrganizations(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*orgs.Organization{}
	}
	httputil.WriteSuccess(w, list)
}

// GetOrganization returns an organization the caller belongs to.
func (h *OrgHandlers) GetOrganization(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	org, ok := h.authorizedOrganization(w, r, user, authz.ActionView)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, org)
}

// UpdateOrganization renames an organization or changes its slug.
func (h *OrgHandlers) UpdateOrganization(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	org, ok := h.authorizedOrganization(w, r, user, authz.ActionUpdate)
	if !ok {
		return
	}

	var input orgs.UpdateOrganizationInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	updated, err := h.orgs.UpdateOrganization(r.Context(), org.ID, input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, updated)
}

// DeleteOrganization deletes a non-personal organization.
func (h *OrgHandlers) DeleteOrganization(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	org, ok := h.authorizedOrganization(w, r, user, authz.ActionDelete)
	if !ok {
		return
	}

	if err := h.orgs.DeleteOrganization(r.Context(), org.ID); err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// SwitchOrganization makes {org_id} the caller's current organization.
func (h *OrgHandlers) SwitchOrganization(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}

	if err := h.orgs.SwitchCurrentOrganization(r.Context(), user, orgID); err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// LeaveOrganization removes the caller from {org_id}.
func (h *OrgHandlers) LeaveOrganization(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}

	if err := h.orgs.LeaveOrganization(r.Context(), user, orgID); err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ListMembers lists the members of an organization with their roles.
func (h *OrgHandlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	org, ok := h.authorizedOrganization(w, r, user, authz.ActionViewMembers)
	if !ok {
		return
	}

	members, err := h.orgs.ListMembers(r.Context(), org.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if members == nil {
		members = []*orgs.Member{}
	}
	httputil.WriteSuccess(w, members)
}

type updateMemberRoleRequest struct {
	Role rbac.Role `json:"role"`
}

// UpdateMemberRole changes a member's role.
func (h *OrgHandlers) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	org, ok := h.authorizedOrganization(w, r, user, authz.ActionUpdateMemberRoles)
	if !ok {
		return
	}

	memberID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	var req updateMemberRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.orgs.UpdateMemberRole(r.Context(), org.ID, memberID, req.Role); err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// RemoveMember removes a member from an organization.
func (h *OrgHandlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	org, ok := h.authorizedOrganization(w, r, user, authz.ActionRemoveMembers)
	if !ok {
		return
	}

	memberID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	if err := h.orgs.RemoveMember(r.Context(), org.ID, memberID); err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ListInvitations lists the pending invitations of an organization.
func (h *OrgHandlers) ListInvitations(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	org, ok := h.authorizedOrganization(w, r, user, authz.ActionManageMembers)
	if !ok {
		return
	}

	invitations, err := h.orgs.ListInvitations(r.Context(), org.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if invitations == nil {
		invitations = []*orgs.Invitation{}
	}
	httputil.WriteSuccess(w, invitations)
}

// CreateInvitation invites an email address to an organization.
func (h *OrgHandlers) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	org, ok := h.authorizedOrganization(w, r, user, authz.ActionManageMembers)
	if !ok {
		return
	}

	var input orgs.InviteInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	inv, err := h.orgs.Invite(r.Context(), org.ID, input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, inv)
}

// authorizedInvitation loads the {invitation_id} invitation and checks that
// user may manage the members of its organization.
func (h *OrgHandlers) authorizedInvitation(w http.ResponseWriter, r *http.Request, user *orgs.User) (*orgs.Invitation, bool) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "invitation_id")
	if !ok {
		return nil, false
	}

	inv, err := h.orgs.Invitation(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}

	org, err := h.orgs.Organization(r.Context(), inv.OrganizationID)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}

	if err := h.policy.Authorize(r.Context(), user, authz.ActionManageMembers, org); err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return inv, true
}

// ResendInvitation redelivers an invitation and refreshes its expiry.
func (h *OrgHandlers) ResendInvitation(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	inv, ok := h.authorizedInvitation(w, r, user)
	if !ok {
		return
	}

	resent, err := h.orgs.ResendInvitation(r.Context(), inv.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, resent)
}

// CancelInvitation deletes a pending invitation.
func (h *OrgHandlers) CancelInvitation(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	inv, ok := h.authorizedInvitation(w, r, user)
	if !ok {
		return
	}

	if err := h.orgs.CancelInvitation(r.Context(), inv.ID); err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// AcceptInvitation joins the caller to the invitation's organization. The
// invitation must be addressed to the caller's email.
func (h *OrgHandlers) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	id, ok := httputil.ParsePathUUIDOrError(w, r, "invitation_id")
	if !ok {
		return
	}

	org, err := h.orgs.AcceptInvitation(r.Context(), user, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

// ListRoles lists the roles that can be assigned through invitations and
// role updates.
func (h *OrgHandlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles := h.registry.AssignableRoles()
	if roles == nil {
		roles = []rbac.RoleDefinition{}
	}
	httputil.WriteSuccess(w, roles)
}
