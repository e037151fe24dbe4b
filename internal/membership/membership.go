// Package membership answers which organizations a user belongs to and
// what they may do there, by aggregating role assignments.
package membership

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUserNotFound         = errors.New("membership: user not found")
	ErrOrganizationNotFound = errors.New("membership: organization not found")
	ErrRoleNotFound         = errors.New("membership: role not found")
	ErrAlreadyAssigned      = errors.New("membership: role already assigned")
	ErrAssignmentNotFound   = errors.New("membership: assignment not found")
)

// OwnerRoleName is the seeded system role holding OwnerPermissions.
const OwnerRoleName = "owner"

// OwnerPermissions is the full administrative permission set.
var OwnerPermissions = []string{
	"organization:read",
	"organization:update",
	"members:read",
	"members:invite",
	"members:remove",
	"roles:manage",
	"sessions:revoke",
	"services:read",
	"services:write",
	"agents:read",
	"agents:write",
}

type User struct {
	ID          string
	Username    string
	Email       string
	DisplayName string
	// CurrentOrgID is the last-used organization, a hint for the next login.
	CurrentOrgID string
}

type Organization struct {
	ID       string
	Name     string
	IsActive bool
}

type Role struct {
	ID             string
	OrganizationID string
	Name           string
	Permissions    []string
	IsSystem       bool
}

type RoleAssignment struct {
	ID             string
	UserID         string
	RoleID         string
	OrganizationID string
	IsActive       bool
	AssignedAt     time.Time
	AssignedBy     string
}

// Resolver is the read-only view of live role assignments. Results are
// never cached beyond what a session already holds.
type Resolver interface {
	// ActiveOrgIDsForUser returns distinct organization ids across the user's
	// active assignments in active organizations, earliest assignment first.
	ActiveOrgIDsForUser(ctx context.Context, userID string) ([]string, error)

	// PermissionsForUserInOrg is the sorted union of permissions over every
	// active role the user holds in orgID.
	PermissionsForUserInOrg(ctx context.Context, userID, orgID string) ([]string, error)

	RoleNamesForUserInOrg(ctx context.Context, userID, orgID string) ([]string, error)
}

// Directory exposes the user and organization records sessions display.
type Directory interface {
	User(ctx context.Context, userID string) (User, error)
	Organization(ctx context.Context, orgID string) (Organization, error)
	Organizations(ctx context.Context, orgIDs []string) ([]Organization, error)
	SetCurrentOrg(ctx context.Context, userID, orgID string) error
}

// Assigner mutates role assignments.
type Assigner interface {
	// Assign activates a role for a user. Reactivating an earlier assignment
	// keeps its id and original AssignedAt.
	Assign(ctx context.Context, a RoleAssignment) (RoleAssignment, error)
	Deactivate(ctx context.Context, userID, roleID, orgID string) error
}

// Contains reports whether orgID is one of ids.
func Contains(ids []string, orgID string) bool {
	for _, id := range ids {
		if id == orgID {
			return true
		}
	}
	return false
}
