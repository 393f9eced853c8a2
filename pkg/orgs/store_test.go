package orgs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/orgkit/pkg/rbac"
	"github.com/platinummonkey/orgkit/pkg/storage/sqlitetest"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Acme Inc", "acme-inc"},
		{"  Ada's   Organization!! ", "ada-s-organization"},
		{"Ünïcode Co", "n-code-co"},
		{"123 go", "123-go"},
		{"!!!", "org"},
		{"", "org"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, slugify(tt.input))
		})
	}
}

func TestPostgresStore_Memberships(t *testing.T) {
	store := NewPostgresStore(sqlitetest.Open(t))
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	owner := &User{Name: "Ada", Email: "ada@example.com", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreateUser(ctx, owner, nil))
	bob := &User{Name: "Bob", Email: "bob@example.com", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreateUser(ctx, bob, nil))

	found, err := store.GetUserByEmail(ctx, "BOB@example.com")
	require.NoError(t, err)
	assert.Equal(t, bob.ID, found.ID)
	_, err = store.GetUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	org := &Organization{Name: "Acme", Slug: "acme", OwnerID: owner.ID, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreateOrganization(ctx, org))
	assert.NotZero(t, org.ID)

	exists, err := store.SlugExists(ctx, "acme", 0)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = store.SlugExists(ctx, "acme", org.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.AddMember(ctx, org.ID, bob.ID, rbac.RoleMember, now.Add(time.Minute)))
	assert.ErrorIs(t, store.AddMember(ctx, org.ID, bob.ID, rbac.RoleAdmin, now), ErrAlreadyMember)

	members, err := store.ListMembers(ctx, org.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, owner.ID, members[0].UserID)
	assert.Equal(t, rbac.RoleOwner, members[0].Role)
	assert.Equal(t, rbac.RoleMember, members[1].Role)

	isMember, err := store.IsMemberEmail(ctx, org.ID, " Bob@Example.com")
	require.NoError(t, err)
	assert.True(t, isMember)

	require.NoError(t, store.UpdateMemberRole(ctx, org.ID, bob.ID, rbac.RoleAdmin, now))
	role, err := store.GetMemberRole(ctx, org.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleAdmin, role)

	require.NoError(t, store.SetCurrentOrganization(ctx, bob.ID, &org.ID, now))
	reloaded, err := store.GetUser(ctx, bob.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.IsCurrentOrganization(org.ID))
	assert.ErrorIs(t, store.SetCurrentOrganization(ctx, 999, nil, now), ErrNotFound)

	require.NoError(t, store.RemoveMember(ctx, org.ID, bob.ID))
	assert.ErrorIs(t, store.RemoveMember(ctx, org.ID, bob.ID), ErrNotFound)
	_, err = store.GetMemberRole(ctx, org.ID, bob.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	count, err := store.CountMembers(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestPostgresStore_Invitations(t *testing.T) {
	store := NewPostgresStore(sqlitetest.Open(t))
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	owner := &User{Name: "Ada", Email: "ada@example.com", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreateUser(ctx, owner, nil))
	bob := &User{Name: "Bob", Email: "bob@example.com", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreateUser(ctx, bob, nil))
	org := &Organization{Name: "Acme", Slug: "acme", OwnerID: owner.ID, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreateOrganization(ctx, org))

	expires := now.Add(72 * time.Hour)
	inv := &Invitation{
		ID:             uuid.New(),
		OrganizationID: org.ID,
		Email:          "bob@example.com",
		Role:           rbac.RoleAdmin,
		ExpiresAt:      &expires,
		SentAt:         now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, store.CreateInvitation(ctx, inv))

	got, err := store.GetInvitation(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, got.ID)
	assert.Equal(t, rbac.RoleAdmin, got.Role)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, expires.Equal(*got.ExpiresAt))

	has, err := store.HasInvitation(ctx, org.ID, "BOB@example.com")
	require.NoError(t, err)
	assert.True(t, has)

	later := now.Add(time.Hour)
	require.NoError(t, store.RefreshInvitation(ctx, inv.ID, nil, later))
	got, err = store.GetInvitation(ctx, inv.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ExpiresAt)
	assert.True(t, later.Equal(got.SentAt))

	require.NoError(t, store.AcceptInvitation(ctx, got, bob.ID, later))
	_, err = store.GetInvitation(ctx, inv.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	role, err := store.GetMemberRole(ctx, org.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleAdmin, role)

	assert.ErrorIs(t, store.DeleteInvitation(ctx, inv.ID), ErrNotFound)
	assert.ErrorIs(t, store.RefreshInvitation(ctx, inv.ID, nil, later), ErrNotFound)
}

func TestPostgresStore_AcceptInvitationRollsBack(t *testing.T) {
	store := NewPostgresStore(sqlitetest.Open(t))
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	owner := &User{Name: "Ada", Email: "ada@example.com", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreateUser(ctx, owner, nil))
	org := &Organization{Name: "Acme", Slug: "acme", OwnerID: owner.ID, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreateOrganization(ctx, org))

	inv := &Invitation{ID: uuid.New(), OrganizationID: org.ID, Email: owner.Email, Role: rbac.RoleMember, SentAt: now, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreateInvitation(ctx, inv))

	assert.ErrorIs(t, store.AcceptInvitation(ctx, inv, owner.ID, now), ErrAlreadyMember)
	_, err := store.GetInvitation(ctx, inv.ID)
	assert.NoError(t, err, "invitation survives the rolled back transaction")
}

func TestPostgresStore_UniqueViolations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewPostgresStore(db)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO users").
		WithArgs("Ada", "ada@example.com", now, now).
		WillReturnError(&pq.Error{Code: "23505"})
	err = store.CreateUser(context.Background(), &User{Name: "Ada", Email: "ada@example.com", CreatedAt: now, UpdatedAt: now}, nil)
	assert.ErrorIs(t, err, ErrEmailTaken)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO organizations").WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()
	err = store.CreateOrganization(context.Background(), &Organization{Name: "Acme", Slug: "acme", OwnerID: 1, CreatedAt: now, UpdatedAt: now})
	assert.ErrorIs(t, err, ErrSlugTaken)

	mock.ExpectExec("UPDATE organizations SET name").WillReturnError(&pq.Error{Code: "23505"})
	err = store.UpdateOrganization(context.Background(), &Organization{ID: 1, Name: "Acme", Slug: "taken", UpdatedAt: now})
	assert.ErrorIs(t, err, ErrSlugTaken)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateUserWithPersonalOrganizationRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewPostgresStore(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO users").
		WithArgs("Ada", "ada@example.com", now, now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectQuery("INSERT INTO organizations").
		WithArgs("Ada's Organization", "ada-s-organization-abcde", true, int64(7), now, now).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	user := &User{Name: "Ada", Email: "ada@example.com", CreatedAt: now, UpdatedAt: now}
	personal := &Organization{Name: "Ada's Organization", Slug: "ada-s-organization-abcde", IsPersonal: true, CreatedAt: now, UpdatedAt: now}
	err = store.CreateUser(context.Background(), user, personal)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create organization")
	assert.Nil(t, user.CurrentOrganizationID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteOrganizationErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewPostgresStore(db)

	rows := sqlmock.NewRows([]string{"id", "name", "email", "current_organization_id", "created_at", "updated_at"}).
		AddRow(int64(2), "Bob", "bob@example.com", int64(5), time.Now(), time.Now())

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT u.id, u.name").WithArgs(int64(5)).WillReturnRows(rows)
	mock.ExpectExec("DELETE FROM organization_user").WithArgs(int64(5)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM organization_invitations").WithArgs(int64(5)).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err = store.DeleteOrganization(context.Background(), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to delete organization")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetOrganizationNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM organizations o WHERE o.id").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = NewPostgresStore(db).GetOrganization(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}
