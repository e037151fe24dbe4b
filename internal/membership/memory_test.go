package membership

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory()
	m.PutUser(User{ID: "u1", Username: "ada", Email: "ada@example.com"})
	m.PutOrganization(Organization{ID: "org-a", Name: "Alpha", IsActive: true})
	m.PutOrganization(Organization{ID: "org-b", Name: "Beta", IsActive: true})
	m.PutRole(Role{ID: "a-owner", OrganizationID: "org-a", Name: OwnerRoleName, Permissions: OwnerPermissions, IsSystem: true})
	m.PutRole(Role{ID: "a-viewer", OrganizationID: "org-a", Name: "viewer", Permissions: []string{"services:read", "agents:read"}})
	m.PutRole(Role{ID: "b-editor", OrganizationID: "org-b", Name: "editor", Permissions: []string{"services:write", "services:read"}})
	return m
}

func TestMemory_ActiveOrgIDsOrderedByAssignment(t *testing.T) {
	ctx := context.Background()
	m := seed(t)

	_, err := m.Assign(ctx, RoleAssignment{UserID: "u1", RoleID: "b-editor", OrganizationID: "org-b"})
	require.NoError(t, err)
	_, err = m.Assign(ctx, RoleAssignment{UserID: "u1", RoleID: "a-viewer", OrganizationID: "org-a"})
	require.NoError(t, err)
	_, err = m.Assign(ctx, RoleAssignment{UserID: "u1", RoleID: "a-owner", OrganizationID: "org-a"})
	require.NoError(t, err)

	ids, err := m.ActiveOrgIDsForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"org-b", "org-a"}, ids)
}

func TestMemory_PermissionsAreUnionAcrossRoles(t *testing.T) {
	ctx := context.Background()
	m := seed(t)

	_, err := m.Assign(ctx, RoleAssignment{UserID: "u1", RoleID: "a-viewer", OrganizationID: "org-a"})
	require.NoError(t, err)
	_, err = m.Assign(ctx, RoleAssignment{UserID: "u1", RoleID: "a-owner", OrganizationID: "org-a"})
	require.NoError(t, err)
	_, err = m.Assign(ctx, RoleAssignment{UserID: "u1", RoleID: "b-editor", OrganizationID: "org-b"})
	require.NoError(t, err)

	perms, err := m.PermissionsForUserInOrg(ctx, "u1", "org-a")
	require.NoError(t, err)
	assert.ElementsMatch(t, OwnerPermissions, perms)

	roles, err := m.RoleNamesForUserInOrg(ctx, "u1", "org-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"owner", "viewer"}, roles)

	roles, err = m.RoleNamesForUserInOrg(ctx, "u1", "org-b")
	require.NoError(t, err)
	assert.Equal(t, []string{"editor"}, roles)
}

func TestMemory_AssignIsUnique(t *testing.T) {
	ctx := context.Background()
	m := seed(t)

	_, err := m.Assign(ctx, RoleAssignment{UserID: "u1", RoleID: "a-viewer", OrganizationID: "org-a"})
	require.NoError(t, err)

	_, err = m.Assign(ctx, RoleAssignment{UserID: "u1", RoleID: "a-viewer", OrganizationID: "org-a"})
	assert.ErrorIs(t, err, ErrAlreadyAssigned)

	_, err = m.Assign(ctx, RoleAssignment{UserID: "u1", RoleID: "a-viewer", OrganizationID: "org-b"})
	assert.ErrorIs(t, err, ErrRoleNotFound)
}

func TestMemory_DeactivateAndReactivate(t *testing.T) {
	ctx := context.Background()
	m := seed(t)

	first, err := m.Assign(ctx, RoleAssignment{UserID: "u1", RoleID: "a-viewer", OrganizationID: "org-a"})
	require.NoError(t, err)
	require.NoError(t, m.Deactivate(ctx, "u1", "a-viewer", "org-a"))
	assert.ErrorIs(t, m.Deactivate(ctx, "u1", "a-viewer", "org-a"), ErrAssignmentNotFound)

	ids, err := m.ActiveOrgIDsForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, ids)

	a, err := m.Assign(ctx, RoleAssignment{UserID: "u1", RoleID: "a-viewer", OrganizationID: "org-a", AssignedBy: "admin"})
	require.NoError(t, err)
	assert.True(t, a.IsActive)
	assert.Equal(t, "admin", a.AssignedBy)
	assert.Equal(t, first.ID, a.ID)
	assert.Equal(t, first.AssignedAt, a.AssignedAt, "reactivation keeps the original assignment time")
}

func TestMemory_InactiveOrganizationHidden(t *testing.T) {
	ctx := context.Background()
	m := seed(t)

	_, err := m.Assign(ctx, RoleAssignment{UserID: "u1", RoleID: "a-viewer", OrganizationID: "org-a"})
	require.NoError(t, err)
	require.NoError(t, m.SetOrganizationActive("org-a", false))

	ids, err := m.ActiveOrgIDsForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, ids)

	perms, err := m.PermissionsForUserInOrg(ctx, "u1", "org-a")
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestMemory_Directory(t *testing.T) {
	ctx := context.Background()
	m := seed(t)

	require.NoError(t, m.SetCurrentOrg(ctx, "u1", "org-b"))
	u, err := m.User(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "org-b", u.CurrentOrgID)

	_, err = m.User(ctx, "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)

	orgs, err := m.Organizations(ctx, []string{"org-b", "missing", "org-a"})
	require.NoError(t, err)
	require.Len(t, orgs, 2)
	assert.Equal(t, "Beta", orgs[0].Name)
	assert.Equal(t, "Alpha", orgs[1].Name)
}

func TestMemory_HonoursCancelledContext(t *testing.T) {
	m := seed(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.ActiveOrgIDsForUser(ctx, "u1")
	assert.ErrorIs(t, err, context.Canceled)
}
