package api

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/orgkit/pkg/auth"
	"github.com/platinummonkey/orgkit/pkg/orgs"
	"github.com/platinummonkey/orgkit/pkg/rbac"
)

func TestRegister(t *testing.T) {
	f := newFixture(t)

	ada := f.register(t, "Ada", "Ada@Example.com")
	assert.Equal(t, "ada@example.com", ada.user.Email)

	me := f.me(t, ada)
	assert.Equal(t, ada.user.ID, me.ID)
	assert.Equal(t, ada.user.CurrentOrganizationID, me.CurrentOrganizationID)

	t.Run("duplicate email", func(t *testing.T) {
		w := f.do(t, "POST", "/register", "", map[string]string{"name": "Imposter", "email": "ada@example.com"})
		assertValidationCode(t, w, "email", orgs.CodeEmailTaken)
	})

	t.Run("invalid input", func(t *testing.T) {
		w := f.do(t, "POST", "/register", "", map[string]string{"name": "", "email": "x@example.com"})
		assertValidationCode(t, w, "name", orgs.CodeInvalidInput)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := f.do(t, "POST", "/register", "", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, req.Code, "empty body fails validation")
	})
}

func TestPermissions(t *testing.T) {
	f := newFixture(t)
	ada := f.register(t, "Ada", "ada@example.com")
	bob := f.register(t, "Bob", "bob@example.com")
	acme := f.createOrganization(t, ada, "Acme")
	f.join(t, ada, bob, acme.ID, rbac.RoleMember)

	w := f.do(t, "GET", "/me/permissions", ada.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var owner permissionsResponse
	decode(t, w, &owner)
	assert.Equal(t, acme.ID, *owner.OrganizationID)
	assert.Equal(t, rbac.RoleOwner, owner.Role)
	assert.Contains(t, owner.Permissions, string(rbac.PermissionOrganizationDelete))

	w = f.do(t, "GET", "/me/permissions", bob.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var member permissionsResponse
	decode(t, w, &member)
	assert.Equal(t, rbac.RoleMember, member.Role)
	assert.ElementsMatch(t, []string{
		string(rbac.PermissionOrganizationView),
		string(rbac.PermissionMemberView),
	}, member.Permissions)
}

func TestPermissions_NoCurrentOrganization(t *testing.T) {
	f := newFixtureWith(t, orgs.Config{}, nil)
	ada := f.register(t, "Ada", "ada@example.com")

	w := f.do(t, "GET", "/me/permissions", ada.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"organization_id":null,"permissions":[]}`, w.Body.String())
}

func TestTokens(t *testing.T) {
	f := newFixture(t)
	ada := f.register(t, "Ada", "ada@example.com")

	w := f.do(t, "POST", "/me/tokens", ada.token, map[string]string{"name": "ci"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created createTokenResponse
	decode(t, w, &created)
	require.NotEmpty(t, created.Token)
	assert.Equal(t, "ci", created.Name)

	assert.Equal(t, http.StatusOK, f.do(t, "GET", "/me", created.Token, nil).Code)

	w = f.do(t, "GET", "/me/tokens", ada.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tokens []*auth.APIToken
	decode(t, w, &tokens)
	assert.Len(t, tokens, 2)
	assert.NotContains(t, w.Body.String(), created.Token, "token values are never listed")

	w = f.do(t, "DELETE", fmt.Sprintf("/me/tokens/%d", created.ID), ada.token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, "GET", "/me", created.Token, nil).Code)

	w = f.do(t, "DELETE", fmt.Sprintf("/me/tokens/%d", created.ID), ada.token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTokens_Validation(t *testing.T) {
	f := newFixture(t)
	ada := f.register(t, "Ada", "ada@example.com")

	w := f.do(t, "POST", "/me/tokens", ada.token, map[string]string{"name": "  "})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	past := time.Now().Add(-time.Hour)
	w = f.do(t, "POST", "/me/tokens", ada.token, map[string]interface{}{"name": "old", "expires_at": past})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestTokens_CannotRevokeOthers(t *testing.T) {
	f := newFixture(t)
	ada := f.register(t, "Ada", "ada@example.com")
	bob := f.register(t, "Bob", "bob@example.com")

	w := f.do(t, "GET", "/me/tokens", ada.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tokens []*auth.APIToken
	decode(t, w, &tokens)
	require.Len(t, tokens, 1)

	w = f.do(t, "DELETE", fmt.Sprintf("/me/tokens/%d", tokens[0].ID), bob.token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, http.StatusOK, f.do(t, "GET", "/me", ada.token, nil).Code)
}
