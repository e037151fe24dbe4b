package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"dashboard-auth/internal/db"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// Postgres resolves memberships from the role_assignments table.
type Postgres struct {
	db *db.DB
}

func NewPostgres(db *db.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) ActiveOrgIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT ra.organization_id::text
		FROM role_assignments ra
		JOIN organizations o ON o.id = ra.organization_id
		WHERE ra.user_id = $1
		  AND ra.is_active
		  AND o.is_active
		GROUP BY ra.organization_id
		ORDER BY MIN(ra.assigned_at), ra.organization_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("membership: active orgs: %w", err)
	}
	return scanStrings(rows)
}

func (p *Postgres) PermissionsForUserInOrg(ctx context.Context, userID, orgID string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT perm
		FROM role_assignments ra
		JOIN roles r ON r.id = ra.role_id
		JOIN organizations o ON o.id = ra.organization_id
		CROSS JOIN LATERAL unnest(r.permissions) AS perm
		WHERE ra.user_id = $1
		  AND ra.organization_id = $2
		  AND ra.is_active
		  AND o.is_active
		ORDER BY perm
	`, userID, orgID)
	if err != nil {
		return nil, fmt.Errorf("membership: permissions: %w", err)
	}
	return scanStrings(rows)
}

func (p *Postgres) RoleNamesForUserInOrg(ctx context.Context, userID, orgID string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT r.name
		FROM role_assignments ra
		JOIN roles r ON r.id = ra.role_id
		JOIN organizations o ON o.id = ra.organization_id
		WHERE ra.user_id = $1
		  AND ra.organization_id = $2
		  AND ra.is_active
		  AND o.is_active
		ORDER BY r.name
	`, userID, orgID)
	if err != nil {
		return nil, fmt.Errorf("membership: roles: %w", err)
	}
	return scanStrings(rows)
}

func (p *Postgres) User(ctx context.Context, userID string) (User, error) {
	var (
		u        User
		username sql.NullString
		current  sql.NullString
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT id::text, username, email, display_name, current_org_id::text
		FROM users
		WHERE id = $1
	`, userID).Scan(&u.ID, &username, &u.Email, &u.DisplayName, &current)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("membership: user: %w", err)
	}
	u.Username = username.String
	u.CurrentOrgID = current.String
	return u, nil
}

func (p *Postgres) Organization(ctx context.Context, orgID string) (Organization, error) {
	var o Organization
	err := p.db.QueryRowContext(ctx, `
		SELECT id::text, name, is_active
		FROM organizations
		WHERE id = $1
	`, orgID).Scan(&o.ID, &o.Name, &o.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return Organization{}, ErrOrganizationNotFound
	}
	if err != nil {
		return Organization{}, fmt.Errorf("membership: organization: %w", err)
	}
	return o, nil
}

// Organizations returns the known organizations among orgIDs, in the
// order given.
func (p *Postgres) Organizations(ctx context.Context, orgIDs []string) ([]Organization, error) {
	if len(orgIDs) == 0 {
		return []Organization{}, nil
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id::text, name, is_active
		FROM organizations
		WHERE id = ANY($1::uuid[])
	`, pq.Array(orgIDs))
	if err != nil {
		return nil, fmt.Errorf("membership: organizations: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]Organization, len(orgIDs))
	for rows.Next() {
		var o Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.IsActive); err != nil {
			return nil, err
		}
		byID[o.ID] = o
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Organization, 0, len(orgIDs))
	for _, id := range orgIDs {
		if o, ok := byID[id]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

func (p *Postgres) SetCurrentOrg(ctx context.Context, userID, orgID string) error {
	var org any
	if orgID != "" {
		org = orgID
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE users
		SET current_org_id = $2, updated_at = NOW()
		WHERE id = $1
	`, userID, org)
	if err != nil {
		return fmt.Errorf("membership: set current org: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Assign inserts a role assignment. The (user, role, organization) triple is
// unique; a previously deactivated assignment is reactivated instead.
func (p *Postgres) Assign(ctx context.Context, a RoleAssignment) (RoleAssignment, error) {
	var roleOrg string
	err := p.db.QueryRowContext(ctx, `
		SELECT organization_id::text FROM roles WHERE id = $1
	`, a.RoleID).Scan(&roleOrg)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && roleOrg != a.OrganizationID) {
		return RoleAssignment{}, ErrRoleNotFound
	}
	if err != nil {
		return RoleAssignment{}, fmt.Errorf("membership: assign: %w", err)
	}

	res, err := p.db.ExecContext(ctx, `
		UPDATE role_assignments
		SET is_active = true, assigned_by = $4
		WHERE user_id = $1 AND role_id = $2 AND organization_id = $3 AND NOT is_active
	`, a.UserID, a.RoleID, a.OrganizationID, a.AssignedBy)
	if err != nil {
		return RoleAssignment{}, fmt.Errorf("membership: assign: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return p.loadAssignment(ctx, a.UserID, a.RoleID, a.OrganizationID)
	}

	out := a
	out.IsActive = true
	err = p.db.QueryRowContext(ctx, `
		INSERT INTO role_assignments (user_id, role_id, organization_id, assigned_by)
		VALUES ($1, $2, $3, $4)
		RETURNING id::text, assigned_at
	`, a.UserID, a.RoleID, a.OrganizationID, a.AssignedBy).Scan(&out.ID, &out.AssignedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return RoleAssignment{}, ErrAlreadyAssigned
		}
		return RoleAssignment{}, fmt.Errorf("membership: assign: %w", err)
	}
	return out, nil
}

// CreateOrganization creates an active organization together with its
// system owner role and makes ownerUserID its owner.
func (p *Postgres) CreateOrganization(ctx context.Context, name, ownerUserID string) (Organization, RoleAssignment, error) {
	if name == "" || ownerUserID == "" {
		return Organization{}, RoleAssignment{}, fmt.Errorf("membership: organization name and owner are required")
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return Organization{}, RoleAssignment{}, fmt.Errorf("membership: create organization: %w", err)
	}
	defer tx.Rollback()

	org := Organization{Name: name, IsActive: true}
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO organizations (name) VALUES ($1)
		RETURNING id::text
	`, name).Scan(&org.ID); err != nil {
		return Organization{}, RoleAssignment{}, fmt.Errorf("membership: create organization: %w", err)
	}

	var roleID string
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO roles (organization_id, name, permissions, is_system)
		VALUES ($1, $2, $3, true)
		RETURNING id::text
	`, org.ID, OwnerRoleName, pq.Array(OwnerPermissions)).Scan(&roleID); err != nil {
		return Organization{}, RoleAssignment{}, fmt.Errorf("membership: seed owner role: %w", err)
	}

	owner := RoleAssignment{
		UserID:         ownerUserID,
		RoleID:         roleID,
		OrganizationID: org.ID,
		IsActive:       true,
		AssignedBy:     "system",
	}
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO role_assignments (user_id, role_id, organization_id, assigned_by)
		VALUES ($1, $2, $3, $4)
		RETURNING id::text, assigned_at
	`, owner.UserID, owner.RoleID, owner.OrganizationID, owner.AssignedBy).Scan(&owner.ID, &owner.AssignedAt); err != nil {
		return Organization{}, RoleAssignment{}, fmt.Errorf("membership: assign owner: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Organization{}, RoleAssignment{}, fmt.Errorf("membership: create organization: %w", err)
	}
	return org, owner, nil
}

func (p *Postgres) Deactivate(ctx context.Context, userID, roleID, orgID string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE role_assignments
		SET is_active = false
		WHERE user_id = $1 AND role_id = $2 AND organization_id = $3 AND is_active
	`, userID, roleID, orgID)
	if err != nil {
		return fmt.Errorf("membership: deactivate: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}

func (p *Postgres) loadAssignment(ctx context.Context, userID, roleID, orgID string) (RoleAssignment, error) {
	a := RoleAssignment{UserID: userID, RoleID: roleID, OrganizationID: orgID}
	err := p.db.QueryRowContext(ctx, `
		SELECT id::text, is_active, assigned_at, assigned_by
		FROM role_assignments
		WHERE user_id = $1 AND role_id = $2 AND organization_id = $3
	`, userID, roleID, orgID).Scan(&a.ID, &a.IsActive, &a.AssignedAt, &a.AssignedBy)
	if err != nil {
		return RoleAssignment{}, fmt.Errorf("membership: load assignment: %w", err)
	}
	return a, nil
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
