package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/orgkit/pkg/auth"
	"github.com/platinummonkey/orgkit/pkg/authz"
	"github.com/platinummonkey/orgkit/pkg/httputil"
	"github.com/platinummonkey/orgkit/pkg/orgs"
	"github.com/platinummonkey/orgkit/pkg/rbac"
)

// AuthHandlers handles registration, the caller's profile and API tokens.
type AuthHandlers struct {
	orgs        *orgs.Service
	tokens      *auth.TokenManager
	permissions *authz.Resolver
}

// NewAuthHandlers creates a new AuthHandlers
func NewAuthHandlers(service *orgs.Service, tokens *auth.TokenManager, permissions *authz.Resolver) *AuthHandlers {
	return &AuthHandlers{
		orgs:        service,
		tokens:      tokens,
		permissions: permissions,
	}
}

// RegisterPublicRoutes registers the routes that need no token.
func (h *AuthHandlers) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/register", h.Register).Methods("POST")
}

// RegisterRoutes registers the authenticated routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/me", h.Me).Methods("GET")
	router.HandleFunc("/me/permissions", h.Permissions).Methods("GET")

	// Tokens
	router.HandleFunc("/me/tokens", h.ListTokens).Methods("GET")
	router.HandleFunc("/me/tokens", h.CreateToken).Methods("POST")
	router.HandleFunc("/me/tokens/{token_id}", h.RevokeToken).Methods("DELETE")
}

// defaultTokenName names the token issued at registration.
const defaultTokenName = "default"

type registerResponse struct {
	User  *orgs.User `json:"user"`
	Token string     `json:"token"`
}

// Register creates a user and issues their first API token.
func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var input orgs.RegisterUserInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	user, err := h.orgs.RegisterUser(r.Context(), input)
	if err != nil {
		writeError(w, r, err)
		return
	}

	_, plaintext, err := h.tokens.CreateToken(r.Context(), user.ID, defaultTokenName, nil)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteCreated(w, registerResponse{User: user, Token: plaintext})
}

// Me returns the authenticated user.
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, user)
}

type permissionsResponse struct {
	OrganizationID *int64    `json:"organization_id"`
	Role           rbac.Role `json:"role,omitempty"`
	Permissions    []string  `json:"permissions"`
}

// Permissions returns the caller's role and expanded permissions on their
// current organization. Both are empty without a current organization.
func (h *AuthHandlers) Permissions(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	perms, err := h.permissions.ResolvePermissions(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	role, _, err := h.permissions.Role(r.Context(), user, nil)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if perms == nil {
		perms = []string{}
	}

	httputil.WriteSuccess(w, permissionsResponse{
		OrganizationID: user.CurrentOrganizationID,
		Role:           role,
		Permissions:    perms,
	})
}

// ListTokens lists the caller's API tokens. Token values are never
// returned after creation.
func (h *AuthHandlers) ListTokens(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	tokens, err := h.tokens.ListUserTokens(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if tokens == nil {
		tokens = []*auth.APIToken{}
	}
	httputil.WriteSuccess(w, tokens)
}

type createTokenRequest struct {
	Name      string     `json:"name"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type createTokenResponse struct {
	*auth.APIToken
	Token string `json:"token"`
}

// CreateToken issues a new API token for the caller.
func (h *AuthHandlers) CreateToken(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req createTokenRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		httputil.WriteFieldError(w, "name", "The name field is required.")
		return
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		httputil.WriteFieldError(w, "expires_at", "The expiry must be in the future.")
		return
	}

	token, plaintext, err := h.tokens.CreateToken(r.Context(), user.ID, req.Name, req.ExpiresAt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, createTokenResponse{APIToken: token, Token: plaintext})
}

// RevokeToken deletes one of the caller's tokens.
func (h *AuthHandlers) RevokeToken(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	tokenID, ok := httputil.ParsePathInt64OrError(w, r, "token_id")
	if !ok {
		return
	}

	if err := h.tokens.RevokeToken(r.Context(), user.ID, tokenID); err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
