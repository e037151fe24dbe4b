package authority

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"dashboard-auth/internal/auth/credentials"
	"dashboard-auth/internal/membership"
	"dashboard-auth/internal/metrics"
	"dashboard-auth/internal/session"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "correct horse"

type fakeVerifier map[string]string

func (f fakeVerifier) Authenticate(_ context.Context, identifier, s string) (string, error) {
	userID, ok := f[identifier]
	if !ok || s != secret {
		return "", credentials.ErrInvalidCredentials
	}
	return userID, nil
}

type fixture struct {
	auth    *Authority
	store   *session.MemoryStore
	members *membership.Memory
	clock   time.Time
}

func (f *fixture) fixedClock() Option {
	return WithClock(func() time.Time { return f.clock })
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

// newFixture seeds three organizations and two users:
// ada holds viewer in Alpha then viewer in Beta, bob holds nothing.
func newFixture(options ...Option) *fixture {
	f := &fixture{
		store:   session.NewMemoryStore(),
		members: membership.NewMemory(),
		clock:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	for _, o := range []membership.Organization{
		{ID: "org-a", Name: "Alpha", IsActive: true},
		{ID: "org-b", Name: "Beta", IsActive: true},
		{ID: "org-c", Name: "Gamma", IsActive: true},
	} {
		f.members.PutOrganization(o)
	}
	for _, r := range []membership.Role{
		{ID: "viewer-a", OrganizationID: "org-a", Name: "viewer", Permissions: []string{"services:read"}},
		{ID: "admin-a", OrganizationID: "org-a", Name: "admin", Permissions: []string{"services:read", "services:write"}},
		{ID: "viewer-b", OrganizationID: "org-b", Name: "viewer", Permissions: []string{"agents:read"}},
		{ID: "owner-c", OrganizationID: "org-c", Name: membership.OwnerRoleName, Permissions: membership.OwnerPermissions, IsSystem: true},
	} {
		f.members.PutRole(r)
	}
	f.members.PutUser(membership.User{ID: "u-ada", Username: "ada", Email: "ada@example.com", DisplayName: "Ada"})
	f.members.PutUser(membership.User{ID: "u-bob", Username: "bob", Email: "bob@example.com"})

	f.assign("u-ada", "viewer-a", "org-a")
	f.assign("u-ada", "viewer-b", "org-b")

	options = append([]Option{f.fixedClock()}, options...)
	f.auth = New(
		f.store,
		f.members,
		f.members,
		fakeVerifier{"ada": "u-ada", "ada@example.com": "u-ada", "bob": "u-bob"},
		Options{DefaultTTL: 24 * time.Hour, ExtendedTTL: 30 * 24 * time.Hour, OperationTimeout: time.Second},
		options...,
	)
	return f
}

func (f *fixture) assign(userID, roleID, orgID string) {
	if _, err := f.members.Assign(context.Background(), membership.RoleAssignment{
		UserID: userID, RoleID: roleID, OrganizationID: orgID, AssignedBy: "seed",
	}); err != nil {
		panic(err)
	}
}

func (f *fixture) login(t *testing.T, identifier string) *View {
	t.Helper()
	v, err := f.auth.Create(context.Background(), LoginRequest{Identifier: identifier, Secret: secret})
	require.NoError(t, err)
	return v
}

func (f *fixture) stored(t *testing.T, token string) *session.Session {
	t.Helper()
	s, err := f.store.FindByToken(context.Background(), token)
	require.NoError(t, err)
	return s
}

func TestCreate_DefaultsToFirstLiveOrganization(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	v := f.login(t, "ada")

	assert.NotEmpty(t, v.SessionToken)
	assert.NotEmpty(t, v.RefreshToken)
	assert.NotEqual(t, v.SessionToken, v.RefreshToken)
	assert.Equal(t, f.clock.Add(24*time.Hour), v.ExpiresAt)
	require.NotNil(t, v.CurrentOrg)
	assert.Equal(t, session.OrgSummary{ID: "org-a", Name: "Alpha"}, *v.CurrentOrg)
	assert.Equal(t, []session.OrgSummary{{ID: "org-a", Name: "Alpha"}, {ID: "org-b", Name: "Beta"}}, v.AvailableOrgs)
	assert.Equal(t, []string{"services:read"}, v.Permissions)
	assert.Equal(t, []string{"viewer"}, v.Roles)
	assert.Equal(t, "ada@example.com", v.User.Email)

	s := f.stored(t, v.SessionToken)
	assert.Equal(t, session.StatusActive, s.Status)
	assert.Equal(t, LoginMethodPassword, s.Security.LoginMethod)
	assert.Equal(t, 1, f.store.Len())

	user, err := f.members.User(ctx, "u-ada")
	require.NoError(t, err)
	assert.Equal(t, "org-a", user.CurrentOrgID, "hint follows the chosen organization")
}

func TestCreate_OrganizationSelection(t *testing.T) {
	tests := []struct {
		name     string
		hint     string
		explicit string
		wantOrg  string
		wantErr  error
	}{
		{name: "hint wins over resolver order", hint: "org-b", wantOrg: "org-b"},
		{name: "stale hint falls back", hint: "org-c", wantOrg: "org-a"},
		{name: "explicit wins over hint", hint: "org-a", explicit: "org-b", wantOrg: "org-b"},
		{name: "explicit without membership", explicit: "org-c", wantErr: ErrOrganizationAccessDenied},
		{name: "explicit unknown org", explicit: "org-zzz", wantErr: ErrOrganizationAccessDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.members.PutUser(membership.User{ID: "u-ada", Username: "ada", Email: "ada@example.com", CurrentOrgID: tt.hint})

			v, err := f.auth.Create(context.Background(), LoginRequest{
				Identifier:     "ada",
				Secret:         secret,
				OrganizationID: tt.explicit,
			})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 0, f.store.Len())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOrg, v.CurrentOrg.ID)
		})
	}
}

func TestCreate_ExplicitInactiveOrganizationDenied(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.members.SetOrganizationActive("org-b", false))

	_, err := f.auth.Create(context.Background(), LoginRequest{Identifier: "ada", Secret: secret, OrganizationID: "org-b"})
	assert.ErrorIs(t, err, ErrOrganizationAccessDenied)
	assert.Equal(t, http.StatusForbidden, StatusOf(err))
}

func TestCreate_RememberMeUsesExtendedDuration(t *testing.T) {
	f := newFixture()
	v, err := f.auth.Create(context.Background(), LoginRequest{Identifier: "ada", Secret: secret, RememberMe: true})
	require.NoError(t, err)
	assert.Equal(t, f.clock.Add(30*24*time.Hour), v.ExpiresAt)
	assert.True(t, f.stored(t, v.SessionToken).RememberMe)
}

func TestCreate_InvalidCredentialsAreIndistinguishable(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, wrongSecret := f.auth.Create(ctx, LoginRequest{Identifier: "ada", Secret: "nope"})
	_, unknownUser := f.auth.Create(ctx, LoginRequest{Identifier: "mallory", Secret: secret})

	assert.ErrorIs(t, wrongSecret, ErrInvalidCredentials)
	assert.ErrorIs(t, unknownUser, ErrInvalidCredentials)
	assert.Equal(t, MessageOf(wrongSecret), MessageOf(unknownUser))
	assert.Equal(t, http.StatusUnauthorized, StatusOf(unknownUser))
	assert.Equal(t, 0, f.store.Len())
}

func TestCreate_NoOrganizationAccessPersistsNothing(t *testing.T) {
	f := newFixture()

	_, err := f.auth.Create(context.Background(), LoginRequest{Identifier: "bob", Secret: secret})
	assert.ErrorIs(t, err, ErrNoOrganizationAccess)
	assert.Equal(t, CodeNoOrganizationAccess, CodeOf(err))

	_, err = f.auth.Create(context.Background(), LoginRequest{Identifier: "bob", Secret: secret, OrganizationID: "org-a"})
	assert.ErrorIs(t, err, ErrNoOrganizationAccess)
	assert.Equal(t, 0, f.store.Len())
}

func TestCreateForUser_RecordsLoginMethod(t *testing.T) {
	f := newFixture()
	v, err := f.auth.CreateForUser(context.Background(), "u-ada", SessionOptions{
		LoginMethod: "oidc:google",
		Device:      Device{Fingerprint: "fp-1", IPAddress: "10.0.0.1"},
	})
	require.NoError(t, err)

	s := f.stored(t, v.SessionToken)
	assert.Equal(t, "oidc:google", s.Security.LoginMethod)
	assert.Equal(t, "fp-1", s.Security.DeviceFingerprint)
	assert.Equal(t, "10.0.0.1", s.Security.IPAddress)

	_, err = f.auth.CreateForUser(context.Background(), "u-ghost", SessionOptions{})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v := f.login(t, "ada")

	f.advance(time.Minute)
	s, err := f.auth.Validate(ctx, v.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, "u-ada", s.UserID)
	assert.Equal(t, f.clock, f.stored(t, v.SessionToken).LastAccessAt)

	_, err = f.auth.Validate(ctx, "unknown")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = f.auth.Validate(ctx, "")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestValidate_ExpiredSessionIsMarkedExpired(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v := f.login(t, "ada")

	f.advance(24 * time.Hour)
	_, err := f.auth.Validate(ctx, v.SessionToken)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, session.StatusExpired, f.stored(t, v.SessionToken).Status)

	_, err = f.auth.Validate(ctx, v.SessionToken)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestRefresh_IsOneShot(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v := f.login(t, "ada")

	f.advance(time.Hour)
	rotated, err := f.auth.Refresh(ctx, v.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, v.SessionToken, rotated.SessionToken)
	assert.NotEqual(t, v.RefreshToken, rotated.RefreshToken)
	assert.Equal(t, f.clock.Add(24*time.Hour), rotated.ExpiresAt)
	assert.Equal(t, v.Session.ID, rotated.Session.ID, "rotation keeps the session record")
	assert.Equal(t, "org-a", rotated.CurrentOrg.ID)

	_, err = f.auth.Validate(ctx, v.SessionToken)
	assert.Error(t, err)
	_, err = f.auth.Refresh(ctx, v.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	_, err = f.auth.Validate(ctx, rotated.SessionToken)
	assert.NoError(t, err)
	assert.Equal(t, 1, f.store.Len())
}

func TestRefresh_DoesNotShortenRememberedSession(t *testing.T) {
	f := newFixture()
	v, err := f.auth.Create(context.Background(), LoginRequest{Identifier: "ada", Secret: secret, RememberMe: true})
	require.NoError(t, err)

	rotated, err := f.auth.Refresh(context.Background(), v.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, v.ExpiresAt, rotated.ExpiresAt)
}

func TestRefresh_ExpiredSession(t *testing.T) {
	f := newFixture()
	v := f.login(t, "ada")

	f.advance(25 * time.Hour)
	_, err := f.auth.Refresh(context.Background(), v.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	assert.Equal(t, session.StatusExpired, f.stored(t, v.SessionToken).Status)
}

func TestRefresh_ConcurrentRotationHasOneWinner(t *testing.T) {
	f := newFixture()
	v := f.login(t, "ada")

	const racers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.auth.Refresh(context.Background(), v.RefreshToken)
			if err != nil {
				assert.ErrorIs(t, err, ErrInvalidRefreshToken)
				return
			}
			mu.Lock()
			succeeded++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
}

func TestSwitchOrganization(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v := f.login(t, "ada")

	switched, err := f.auth.SwitchOrganization(ctx, v.SessionToken, "org-b")
	require.NoError(t, err)
	assert.Equal(t, "org-b", switched.CurrentOrg.ID)
	assert.Equal(t, []string{"agents:read"}, switched.Permissions)
	assert.Equal(t, v.SessionToken, switched.SessionToken)

	s := f.stored(t, v.SessionToken)
	assert.Equal(t, "org-b", s.CurrentOrgID)
	assert.Equal(t, []string{"agents:read"}, s.Permissions)

	user, err := f.members.User(ctx, "u-ada")
	require.NoError(t, err)
	assert.Equal(t, "org-b", user.CurrentOrgID)

	_, err = f.auth.SwitchOrganization(ctx, v.SessionToken, "org-c")
	assert.ErrorIs(t, err, ErrOrganizationAccessDenied)

	_, err = f.auth.SwitchOrganization(ctx, v.SessionToken, "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, http.StatusBadRequest, StatusOf(err))

	_, err = f.auth.SwitchOrganization(ctx, "unknown", "org-a")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSwitchOrganization_IgnoresCorruptedCache(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v := f.login(t, "ada")

	s := f.stored(t, v.SessionToken)
	s.AvailableOrgIDs = append(s.AvailableOrgIDs, "org-c")
	require.NoError(t, f.store.Update(ctx, s))

	_, err := f.auth.SwitchOrganization(ctx, v.SessionToken, "org-c")
	assert.ErrorIs(t, err, ErrOrganizationAccessDenied)

	s = f.stored(t, v.SessionToken)
	assert.Equal(t, []string{"org-a", "org-b"}, s.AvailableOrgIDs, "cache corrected from live data")
	assert.Equal(t, "org-a", s.CurrentOrgID)
}

func TestSwitchOrganization_InactiveTargetDenied(t *testing.T) {
	f := newFixture()
	v := f.login(t, "ada")
	require.NoError(t, f.members.SetOrganizationActive("org-b", false))

	_, err := f.auth.SwitchOrganization(context.Background(), v.SessionToken, "org-b")
	assert.ErrorIs(t, err, ErrOrganizationAccessDenied)
}

func TestReconcile_IsIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v := f.login(t, "ada")

	s := f.stored(t, v.SessionToken)
	changed, err := f.auth.Reconcile(ctx, s)
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, f.members.Deactivate(ctx, "u-ada", "viewer-a", "org-a"))

	changed, err = f.auth.Reconcile(ctx, s)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "org-b", s.CurrentOrgID)

	before := f.stored(t, v.SessionToken)
	changed, err = f.auth.Reconcile(ctx, s)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, before, f.stored(t, v.SessionToken))
}

func TestReconcile_AdoptsFirstOrganizationWhenEmpty(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v := f.login(t, "ada")

	s := f.stored(t, v.SessionToken)
	s.CurrentOrgID = session.NoOrganization
	s.Permissions, s.Roles, s.CurrentOrg = []string{}, []string{}, nil
	require.NoError(t, f.store.Update(ctx, s))

	got, err := f.auth.Validate(ctx, v.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, "org-a", got.CurrentOrgID)
	assert.Equal(t, []string{"services:read"}, got.Permissions)
}

func TestRevoke_InvalidatesEveryPath(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v := f.login(t, "ada")

	require.NoError(t, f.auth.Revoke(ctx, v.SessionToken))

	_, err := f.auth.Validate(ctx, v.SessionToken)
	assert.ErrorIs(t, err, ErrSessionExpired)
	_, err = f.auth.Refresh(ctx, v.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	_, err = f.auth.SwitchOrganization(ctx, v.SessionToken, "org-b")
	assert.ErrorIs(t, err, ErrSessionExpired)

	s := f.stored(t, v.SessionToken)
	assert.Equal(t, session.StatusRevoked, s.Status)
	require.NotNil(t, s.RevokedAt)

	assert.NoError(t, f.auth.Revoke(ctx, v.SessionToken), "revoking twice succeeds")
	assert.ErrorIs(t, f.auth.Revoke(ctx, "unknown"), ErrSessionNotFound)
}

func TestRevokeAllForUser(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.assign("u-bob", "viewer-b", "org-b")

	first := f.login(t, "ada")
	second := f.login(t, "ada@example.com")
	other := f.login(t, "bob")

	n, err := f.auth.RevokeAllForUser(ctx, "u-ada")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, tok := range []string{first.SessionToken, second.SessionToken} {
		_, err := f.auth.Validate(ctx, tok)
		assert.ErrorIs(t, err, ErrSessionExpired)
	}
	_, err = f.auth.Validate(ctx, other.SessionToken)
	assert.NoError(t, err)

	_, err = f.auth.RevokeAllForUser(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

// revokingStore revokes the user's sessions right after a lookup, as a
// concurrent logout would between load and write-back.
type revokingStore struct {
	*session.MemoryStore
}

func (s revokingStore) FindByToken(ctx context.Context, token string) (*session.Session, error) {
	found, err := s.MemoryStore.FindByToken(ctx, token)
	if err == nil {
		_, _ = s.MemoryStore.RevokeAllForUser(ctx, found.UserID, time.Now())
	}
	return found, err
}

func TestValidate_ConcurrentRevokeIsNotUndone(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v := f.login(t, "ada")

	auth := New(revokingStore{f.store}, f.members, f.members, fakeVerifier{}, Options{}, f.fixedClock())
	_, err := auth.Validate(ctx, v.SessionToken)
	assert.ErrorIs(t, err, ErrSessionExpired)

	s := f.stored(t, v.SessionToken)
	assert.Equal(t, session.StatusRevoked, s.Status)
	require.NotNil(t, s.RevokedAt)

	_, err = f.auth.Validate(ctx, v.SessionToken)
	assert.ErrorIs(t, err, ErrSessionExpired)
	_, err = f.auth.Profile(ctx, v.SessionToken)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestValidate_ParallelRequestsOnOneSession(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v := f.login(t, "ada")

	const workers = 20
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.auth.Validate(ctx, v.SessionToken)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "request %d", i)
	}
}

func TestScenario_InactiveOrganizationAutoSwitches(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v := f.login(t, "ada")
	require.Equal(t, "org-a", v.CurrentOrg.ID)

	require.NoError(t, f.members.SetOrganizationActive("org-a", false))

	s, err := f.auth.Validate(ctx, v.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, "org-b", s.CurrentOrgID)
	assert.Equal(t, []string{"org-b"}, s.AvailableOrgIDs)
	assert.Equal(t, []string{"agents:read"}, s.Permissions)
	assert.Equal(t, "Beta", s.CurrentOrg.Name)

	assert.Equal(t, "org-b", f.stored(t, v.SessionToken).CurrentOrgID)
}

func TestScenario_LastRoleRevokedClearsOrganization(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.assign("u-bob", "viewer-a", "org-a")
	v := f.login(t, "bob")

	require.NoError(t, f.members.Deactivate(ctx, "u-bob", "viewer-a", "org-a"))

	s, err := f.auth.Validate(ctx, v.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, session.NoOrganization, s.CurrentOrgID)
	assert.Empty(t, s.Permissions)
	assert.Empty(t, s.Roles)
	assert.Nil(t, s.CurrentOrg)
	assert.Empty(t, s.AvailableOrgIDs)

	for _, org := range []string{"org-a", "org-b", "org-c"} {
		_, err := f.auth.SwitchOrganization(ctx, v.SessionToken, org)
		assert.ErrorIs(t, err, ErrOrganizationAccessDenied, org)
	}

	p, err := f.auth.Profile(ctx, v.SessionToken)
	require.NoError(t, err)
	assert.Nil(t, p.CurrentOrg)
	assert.Empty(t, p.AvailableOrgs)
	assert.NotNil(t, p.Permissions)
}

func TestProfile_RederivesPermissions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v := f.login(t, "ada")

	f.assign("u-ada", "admin-a", "org-a")

	p, err := f.auth.Profile(ctx, v.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, []string{"services:read", "services:write"}, p.Permissions)
	assert.Equal(t, []string{"admin", "viewer"}, p.Roles)
	assert.Equal(t, []session.OrgSummary{{ID: "org-a", Name: "Alpha"}, {ID: "org-b", Name: "Beta"}}, p.AvailableOrgs)

	assert.Equal(t, p.Permissions, f.stored(t, v.SessionToken).Permissions)
}

func TestSweep(t *testing.T) {
	_, m := metrics.NewRegistry()
	f := newFixture(WithMetrics(m))
	ctx := context.Background()
	v := f.login(t, "ada")

	n, err := f.auth.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.advance(25 * time.Hour)
	n, err = f.auth.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, session.StatusExpired, f.stored(t, v.SessionToken).Status)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Swept))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("create", "ok")))
}

func TestRunSweeper_StopsWithContext(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.auth.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

// failingStore fails selected operations.
type failingStore struct {
	session.Store
	find   error
	insert error
}

func (s failingStore) FindByToken(ctx context.Context, token string) (*session.Session, error) {
	if s.find != nil {
		return nil, s.find
	}
	return s.Store.FindByToken(ctx, token)
}

func (s failingStore) Insert(ctx context.Context, sess *session.Session) error {
	if s.insert != nil {
		return s.insert
	}
	return s.Store.Insert(ctx, sess)
}

// slowResolver blocks until the caller's deadline.
type slowResolver struct {
	membership.Resolver
}

func (slowResolver) ActiveOrgIDsForUser(ctx context.Context, _ string) ([]string, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestInfrastructureFailuresFailClosed(t *testing.T) {
	ctx := context.Background()

	t.Run("store read during validation", func(t *testing.T) {
		f := newFixture()
		v := f.login(t, "ada")

		auth := New(failingStore{Store: f.store, find: errors.New("connection refused")},
			f.members, f.members, fakeVerifier{}, Options{}, f.fixedClock())
		_, err := auth.Validate(ctx, v.SessionToken)
		assert.ErrorIs(t, err, ErrValidationTimeout)
		assert.Equal(t, http.StatusUnauthorized, StatusOf(err))
		assert.NotContains(t, MessageOf(err), "connection refused")
	})

	t.Run("resolver timeout during validation", func(t *testing.T) {
		f := newFixture()
		v := f.login(t, "ada")

		auth := New(f.store, slowResolver{f.members}, f.members, fakeVerifier{},
			Options{OperationTimeout: 10 * time.Millisecond}, f.fixedClock())
		_, err := auth.Validate(ctx, v.SessionToken)
		assert.ErrorIs(t, err, ErrValidationTimeout)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("resolver timeout during login", func(t *testing.T) {
		f := newFixture()
		auth := New(f.store, slowResolver{f.members}, f.members, fakeVerifier{"ada": "u-ada"},
			Options{OperationTimeout: 10 * time.Millisecond}, f.fixedClock())
		_, err := auth.Create(ctx, LoginRequest{Identifier: "ada", Secret: secret})
		assert.ErrorIs(t, err, ErrValidationTimeout)
		assert.Equal(t, 0, f.store.Len())
	})

	t.Run("insert failure returns nothing", func(t *testing.T) {
		f := newFixture()
		auth := New(failingStore{Store: f.store, insert: errors.New("disk full")},
			f.members, f.members, fakeVerifier{"ada": "u-ada"}, Options{}, f.fixedClock())
		v, err := auth.Create(ctx, LoginRequest{Identifier: "ada", Secret: secret})
		assert.Nil(t, v)
		assert.ErrorIs(t, err, ErrStoreUnavailable)
		assert.Equal(t, http.StatusInternalServerError, StatusOf(err))
	})

	t.Run("token collision is fatal", func(t *testing.T) {
		f := newFixture()
		auth := New(failingStore{Store: f.store, insert: session.ErrTokenCollision},
			f.members, f.members, fakeVerifier{"ada": "u-ada"}, Options{}, f.fixedClock())
		_, err := auth.Create(ctx, LoginRequest{Identifier: "ada", Secret: secret})
		assert.ErrorIs(t, err, ErrInternal)
		assert.Equal(t, 0, f.store.Len())
	})
}

func TestErrorHelpers(t *testing.T) {
	assert.Equal(t, "", CodeOf(nil))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("boom")))
	assert.Equal(t, "internal error", MessageOf(errors.New("boom")))

	err := errSessionExpired()
	assert.Equal(t, CodeSessionExpired, CodeOf(err))
	assert.Contains(t, err.Error(), CodeSessionExpired)
}
