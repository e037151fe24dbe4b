package authority

import (
	"context"
	"time"

	"dashboard-auth/internal/session"
)

// View is the session projection returned to clients.
type View struct {
	SessionToken  string               `json:"sessionToken"`
	RefreshToken  string               `json:"refreshToken,omitempty"`
	ExpiresAt     time.Time            `json:"expiresAt"`
	User          session.UserSummary  `json:"user"`
	CurrentOrg    *session.OrgSummary  `json:"currentOrg"`
	AvailableOrgs []session.OrgSummary `json:"availableOrgs"`
	Permissions   []string             `json:"permissions"`
	Roles         []string             `json:"roles"`

	// Session is the record the view was built from.
	Session *session.Session `json:"-"`
}

// view resolves organization names for the available ids, keeping their
// order. Ids the directory no longer knows are left out.
func (a *Authority) view(ctx context.Context, s *session.Session) (*View, error) {
	orgs, err := a.directory.Organizations(ctx, s.AvailableOrgIDs)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(orgs))
	for _, o := range orgs {
		names[o.ID] = o.Name
	}

	available := make([]session.OrgSummary, 0, len(s.AvailableOrgIDs))
	for _, id := range s.AvailableOrgIDs {
		if name, ok := names[id]; ok {
			available = append(available, session.OrgSummary{ID: id, Name: name})
		}
	}

	snapshot := s.Clone()
	return &View{
		SessionToken:  snapshot.SessionToken,
		RefreshToken:  snapshot.RefreshToken,
		ExpiresAt:     snapshot.ExpiresAt,
		User:          snapshot.User,
		CurrentOrg:    snapshot.CurrentOrg,
		AvailableOrgs: available,
		Permissions:   nonNil(snapshot.Permissions),
		Roles:         nonNil(snapshot.Roles),
		Session:       snapshot,
	}, nil
}
