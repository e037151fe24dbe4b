package authority

import (
	"context"
	"errors"
	"time"

	"dashboard-auth/internal/logger"
	"dashboard-auth/internal/membership"
	"dashboard-auth/internal/session"
)

// Reconciliation actions, also used as metric labels.
const (
	actionCacheRefresh = "cache_refresh"
	actionAutoSwitch   = "auto_switch"
	actionCleared      = "cleared"
	actionAdopted      = "adopted"
)

// Reconcile re-derives the cached organization projection of s from live
// membership and persists it if anything changed. A second call without an
// intervening membership change reports false and writes nothing.
func (a *Authority) Reconcile(ctx context.Context, s *session.Session) (changed bool, err error) {
	defer a.observe("reconcile", time.Now(), &err)

	ctx, cancel := a.bound(ctx)
	defer cancel()

	_, changed, err = a.reconcile(ctx, s)
	if err != nil {
		return false, a.infraError("reconcile", err)
	}
	if !changed {
		return false, nil
	}
	s.UpdatedAt = a.now()
	if err := a.store.Update(ctx, s); err != nil {
		if errors.Is(err, session.ErrStale) {
			return false, errSessionExpired()
		}
		return true, a.infraError("reconcile", err)
	}
	return true, nil
}

// reconcile corrects s in memory and returns the live organization ids.
//
// The cached id list is replaced when it differs from the live set. A
// current organization that is no longer live moves to the first live one,
// or to NoOrganization when none is left. An empty current organization
// adopts the first live one. Whenever the current organization changes,
// permissions and roles are recomputed for it.
func (a *Authority) reconcile(ctx context.Context, s *session.Session) ([]string, bool, error) {
	live, err := a.members.ActiveOrgIDsForUser(ctx, s.UserID)
	if err != nil {
		return nil, false, err
	}

	changed := false
	if !sameSet(live, s.AvailableOrgIDs) {
		s.AvailableOrgIDs = append([]string{}, live...)
		changed = true
		a.metrics.Reconciled(actionCacheRefresh)
	}

	target := s.CurrentOrgID
	action := ""
	switch {
	case target != session.NoOrganization && !membership.Contains(live, target):
		if len(live) > 0 {
			target, action = live[0], actionAutoSwitch
		} else {
			target, action = session.NoOrganization, actionCleared
		}
	case target == session.NoOrganization && len(live) > 0:
		target, action = live[0], actionAdopted
	}

	switch {
	case action != "":
		if err := a.applyOrg(ctx, s, target); err != nil {
			return nil, false, err
		}
		changed = true
		a.metrics.Reconciled(action)
		logger.Info("session organization reconciled", map[string]any{
			"session_id": s.ID,
			"user_id":    s.UserID,
			"action":     action,
			"org_id":     target,
		})
	case target == session.NoOrganization && hasProjection(s):
		// no organization left, so nothing may remain granted
		clearProjection(s)
		changed = true
		a.metrics.Reconciled(actionCleared)
	}

	return live, changed, nil
}

// applyOrg points s at orgID and recomputes everything scoped to it.
func (a *Authority) applyOrg(ctx context.Context, s *session.Session, orgID string) error {
	if orgID == session.NoOrganization {
		s.CurrentOrgID = session.NoOrganization
		clearProjection(s)
		return nil
	}

	permissions, err := a.members.PermissionsForUserInOrg(ctx, s.UserID, orgID)
	if err != nil {
		return err
	}
	roles, err := a.members.RoleNamesForUserInOrg(ctx, s.UserID, orgID)
	if err != nil {
		return err
	}
	org, err := a.directory.Organization(ctx, orgID)
	if err != nil {
		return err
	}

	s.CurrentOrgID = orgID
	s.Permissions = nonNil(permissions)
	s.Roles = nonNil(roles)
	s.CurrentOrg = &session.OrgSummary{ID: org.ID, Name: org.Name}
	return nil
}

func hasProjection(s *session.Session) bool {
	return len(s.Permissions) > 0 || len(s.Roles) > 0 || s.CurrentOrg != nil
}

func clearProjection(s *session.Session) {
	s.Permissions = []string{}
	s.Roles = []string{}
	s.CurrentOrg = nil
}

func sameSet(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	other := make(map[string]struct{}, len(b))
	for _, id := range b {
		if _, ok := set[id]; !ok {
			return false
		}
		other[id] = struct{}{}
	}
	return len(set) == len(other)
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
