package membership

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Resolver, Directory and Assigner. It backs the
// memory session backend and the tests.
type Memory struct {
	mu          sync.RWMutex
	users       map[string]User
	orgs        map[string]Organization
	roles       map[string]Role
	assignments []RoleAssignment
	now         func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users: make(map[string]User),
		orgs:  make(map[string]Organization),
		roles: make(map[string]Role),
		now:   time.Now,
	}
}

func (m *Memory) PutUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *Memory) PutOrganization(o Organization) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orgs[o.ID] = o
}

func (m *Memory) PutRole(r Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.Permissions = append([]string(nil), r.Permissions...)
	m.roles[r.ID] = r
}

// SetOrganizationActive flips an organization's active flag.
func (m *Memory) SetOrganizationActive(orgID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orgs[orgID]
	if !ok {
		return ErrOrganizationNotFound
	}
	o.IsActive = active
	m.orgs[orgID] = o
	return nil
}

func (m *Memory) Assign(_ context.Context, a RoleAssignment) (RoleAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	role, ok := m.roles[a.RoleID]
	if !ok || role.OrganizationID != a.OrganizationID {
		return RoleAssignment{}, ErrRoleNotFound
	}
	if _, ok := m.orgs[a.OrganizationID]; !ok {
		return RoleAssignment{}, ErrOrganizationNotFound
	}

	for i, existing := range m.assignments {
		if existing.UserID == a.UserID && existing.RoleID == a.RoleID && existing.OrganizationID == a.OrganizationID {
			if existing.IsActive {
				return RoleAssignment{}, ErrAlreadyAssigned
			}
			existing.IsActive = true
			existing.AssignedBy = a.AssignedBy
			m.assignments[i] = existing
			return existing, nil
		}
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.AssignedAt.IsZero() {
		// strictly increasing so insertion order is the resolver order
		a.AssignedAt = m.now()
		if n := len(m.assignments); n > 0 && !a.AssignedAt.After(m.assignments[n-1].AssignedAt) {
			a.AssignedAt = m.assignments[n-1].AssignedAt.Add(time.Nanosecond)
		}
	}
	a.IsActive = true
	m.assignments = append(m.assignments, a)
	return a, nil
}

func (m *Memory) Deactivate(_ context.Context, userID, roleID, orgID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.assignments {
		if a.UserID == userID && a.RoleID == roleID && a.OrganizationID == orgID && a.IsActive {
			m.assignments[i].IsActive = false
			return nil
		}
	}
	return ErrAssignmentNotFound
}

func (m *Memory) ActiveOrgIDsForUser(ctx context.Context, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	active := m.activeAssignments(userID, "")
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].AssignedAt.Before(active[j].AssignedAt)
	})

	seen := make(map[string]bool)
	ids := []string{}
	for _, a := range active {
		if seen[a.OrganizationID] {
			continue
		}
		seen[a.OrganizationID] = true
		ids = append(ids, a.OrganizationID)
	}
	return ids, nil
}

func (m *Memory) PermissionsForUserInOrg(ctx context.Context, userID, orgID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := make(map[string]struct{})
	for _, a := range m.activeAssignments(userID, orgID) {
		for _, p := range m.roles[a.RoleID].Permissions {
			set[p] = struct{}{}
		}
	}
	return sortedKeys(set), nil
}

func (m *Memory) RoleNamesForUserInOrg(ctx context.Context, userID, orgID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := make(map[string]struct{})
	for _, a := range m.activeAssignments(userID, orgID) {
		set[m.roles[a.RoleID].Name] = struct{}{}
	}
	return sortedKeys(set), nil
}

// activeAssignments filters to active assignments in active organizations,
// optionally restricted to orgID. Caller holds the read lock.
func (m *Memory) activeAssignments(userID, orgID string) []RoleAssignment {
	var out []RoleAssignment
	for _, a := range m.assignments {
		if a.UserID != userID || !a.IsActive {
			continue
		}
		if orgID != "" && a.OrganizationID != orgID {
			continue
		}
		if !m.orgs[a.OrganizationID].IsActive {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (m *Memory) User(ctx context.Context, userID string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (m *Memory) Organization(ctx context.Context, orgID string) (Organization, error) {
	if err := ctx.Err(); err != nil {
		return Organization{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orgs[orgID]
	if !ok {
		return Organization{}, ErrOrganizationNotFound
	}
	return o, nil
}

func (m *Memory) Organizations(ctx context.Context, orgIDs []string) ([]Organization, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Organization, 0, len(orgIDs))
	for _, id := range orgIDs {
		if o, ok := m.orgs[id]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *Memory) SetCurrentOrg(ctx context.Context, userID, orgID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.CurrentOrgID = orgID
	m.users[userID] = u
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
