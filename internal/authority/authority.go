// Package authority owns the session lifecycle: login, validation,
// refresh with rotation, organization switching, revocation and the
// reconciliation that keeps a session's cached authorization projection
// in line with live role assignments.
package authority

import (
	"context"
	"errors"
	"time"

	"dashboard-auth/internal/auth/credentials"
	"dashboard-auth/internal/logger"
	"dashboard-auth/internal/membership"
	"dashboard-auth/internal/metrics"
	"dashboard-auth/internal/session"

	"github.com/google/uuid"
)

const LoginMethodPassword = "password"

// CredentialVerifier resolves an identifier and secret to a user id. A
// mismatch of either must be reported as credentials.ErrInvalidCredentials.
type CredentialVerifier interface {
	Authenticate(ctx context.Context, identifier, secret string) (userID string, err error)
}

type Options struct {
	DefaultTTL       time.Duration
	ExtendedTTL      time.Duration
	OperationTimeout time.Duration
}

// DefaultOptions returns the durations used when none are configured.
func DefaultOptions() Options {
	return Options{
		DefaultTTL:       24 * time.Hour,
		ExtendedTTL:      30 * 24 * time.Hour,
		OperationTimeout: 3 * time.Second,
	}
}

type Option func(*Authority)

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Authority) { a.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Authority) { a.now = now }
}

type Authority struct {
	store     session.Store
	members   membership.Resolver
	directory membership.Directory
	verifier  CredentialVerifier
	opts      Options
	metrics   *metrics.Metrics
	now       func() time.Time
}

func New(
	store session.Store,
	members membership.Resolver,
	directory membership.Directory,
	verifier CredentialVerifier,
	opts Options,
	options ...Option,
) *Authority {
	def := DefaultOptions()
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = def.DefaultTTL
	}
	if opts.ExtendedTTL <= 0 {
		opts.ExtendedTTL = def.ExtendedTTL
	}
	a := &Authority{
		store:     store,
		members:   members,
		directory: directory,
		verifier:  verifier,
		opts:      opts,
		now:       time.Now,
	}
	for _, o := range options {
		o(a)
	}
	return a
}

// Device describes the client a session is issued to. Advisory only.
type Device struct {
	Fingerprint string `json:"fingerprint,omitempty"`
	Name        string `json:"name,omitempty"`
	// Trusted is decided server side; request bodies never set it.
	Trusted     bool   `json:"trusted,omitempty"`
	IPAddress   string `json:"-"`
	UserAgent   string `json:"-"`
}

type LoginRequest struct {
	Identifier     string
	Secret         string
	OrganizationID string
	RememberMe     bool
	Device         Device
}

// SessionOptions are the parts of a login that do not concern identity.
type SessionOptions struct {
	OrganizationID string
	RememberMe     bool
	Device         Device
	LoginMethod    string
}

// bound applies the configured per-operation timeout.
func (a *Authority) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.opts.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.opts.OperationTimeout)
}

func (a *Authority) observe(op string, start time.Time, err *error) {
	outcome := "ok"
	if *err != nil {
		outcome = CodeOf(*err)
	}
	a.metrics.ObserveOperation(op, outcome, time.Since(start))
}

// Create authenticates the caller and opens a session scoped to one of the
// user's organizations.
func (a *Authority) Create(ctx context.Context, req LoginRequest) (view *View, err error) {
	defer a.observe("create", time.Now(), &err)

	ctx, cancel := a.bound(ctx)
	defer cancel()

	userID, err := a.verifier.Authenticate(ctx, req.Identifier, req.Secret)
	if err != nil {
		if errors.Is(err, credentials.ErrInvalidCredentials) {
			return nil, errInvalidCredentials()
		}
		return nil, a.infraError("create", err)
	}

	return a.createForUser(ctx, userID, SessionOptions{
		OrganizationID: req.OrganizationID,
		RememberMe:     req.RememberMe,
		Device:         req.Device,
		LoginMethod:    LoginMethodPassword,
	})
}

// CreateForUser opens a session for a user whose identity was already
// established elsewhere, e.g. by an OIDC provider.
func (a *Authority) CreateForUser(ctx context.Context, userID string, opts SessionOptions) (view *View, err error) {
	defer a.observe("create", time.Now(), &err)

	ctx, cancel := a.bound(ctx)
	defer cancel()

	return a.createForUser(ctx, userID, opts)
}

func (a *Authority) createForUser(ctx context.Context, userID string, opts SessionOptions) (*View, error) {
	user, err := a.directory.User(ctx, userID)
	if errors.Is(err, membership.ErrUserNotFound) {
		return nil, errInvalidCredentials()
	}
	if err != nil {
		return nil, a.infraError("create", err)
	}

	live, err := a.members.ActiveOrgIDsForUser(ctx, userID)
	if err != nil {
		return nil, a.infraError("create", err)
	}
	if len(live) == 0 {
		return nil, errNoOrganizationAccess()
	}

	target := live[0]
	switch {
	case opts.OrganizationID != "":
		if !membership.Contains(live, opts.OrganizationID) {
			return nil, errOrganizationAccessDenied(opts.OrganizationID)
		}
		target = opts.OrganizationID
	case membership.Contains(live, user.CurrentOrgID):
		target = user.CurrentOrgID
	}

	sessionToken, refreshToken, err := session.GenerateTokenPair()
	if err != nil {
		logger.Error("token generation failed", map[string]any{"error": err.Error()})
		return nil, newError(CodeInternal, "could not issue session", err)
	}

	now := a.now()
	ttl := a.opts.DefaultTTL
	if opts.RememberMe {
		ttl = a.opts.ExtendedTTL
	}

	s := &session.Session{
		ID:              uuid.NewString(),
		SessionToken:    sessionToken,
		RefreshToken:    refreshToken,
		UserID:          userID,
		Status:          session.StatusActive,
		ExpiresAt:       now.Add(ttl),
		LastAccessAt:    now,
		CreatedAt:       now,
		UpdatedAt:       now,
		RememberMe:      opts.RememberMe,
		AvailableOrgIDs: live,
		User: session.UserSummary{
			ID:          user.ID,
			Username:    user.Username,
			Email:       user.Email,
			DisplayName: user.DisplayName,
		},
		Security: session.Security{
			LoginMethod:       opts.LoginMethod,
			DeviceFingerprint: opts.Device.Fingerprint,
			DeviceName:        opts.Device.Name,
			Trusted:           opts.Device.Trusted,
			IPAddress:         opts.Device.IPAddress,
			UserAgent:         opts.Device.UserAgent,
		},
	}
	if err := a.applyOrg(ctx, s, target); err != nil {
		return nil, a.infraError("create", err)
	}

	view, err := a.view(ctx, s)
	if err != nil {
		return nil, a.infraError("create", err)
	}

	if err := a.store.Insert(ctx, s); err != nil {
		if errors.Is(err, session.ErrTokenCollision) {
			logger.Error("session token collision", map[string]any{"user_id": userID})
			return nil, newError(CodeInternal, "could not issue session", err)
		}
		return nil, a.infraError("create", err)
	}

	if user.CurrentOrgID != target {
		if err := a.directory.SetCurrentOrg(ctx, userID, target); err != nil {
			logger.Warn("failed to update organization hint", map[string]any{
				"user_id": userID,
				"error":   err.Error(),
			})
		}
	}

	logger.Info("session created", map[string]any{
		"user_id":      userID,
		"session_id":   s.ID,
		"org_id":       target,
		"login_method": opts.LoginMethod,
		"remember_me":  opts.RememberMe,
	})

	return view, nil
}

// Validate resolves a session token for an authenticated request. The
// session is reconciled and its last access time persisted before it is
// returned. Any infrastructure failure fails closed.
func (a *Authority) Validate(ctx context.Context, token string) (s *session.Session, err error) {
	defer a.observe("validate", time.Now(), &err)

	ctx, cancel := a.bound(ctx)
	defer cancel()

	s, _, err = a.load(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := a.touch(ctx, s); err != nil {
		return nil, a.validationError(err)
	}
	return s, nil
}

// Profile is Validate plus a full re-derivation of the permissions and
// roles for the current organization, returned as a client projection.
func (a *Authority) Profile(ctx context.Context, token string) (view *View, err error) {
	defer a.observe("profile", time.Now(), &err)

	ctx, cancel := a.bound(ctx)
	defer cancel()

	s, _, err := a.load(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := a.applyOrg(ctx, s, s.CurrentOrgID); err != nil {
		return nil, a.validationError(err)
	}

	view, err = a.view(ctx, s)
	if err != nil {
		return nil, a.validationError(err)
	}
	if err := a.touch(ctx, s); err != nil {
		return nil, a.validationError(err)
	}
	return view, nil
}

// load finds a valid session by token and reconciles it in memory. The
// live organization ids are returned alongside.
func (a *Authority) load(ctx context.Context, token string) (*session.Session, []string, error) {
	s, err := a.store.FindByToken(ctx, token)
	if errors.Is(err, session.ErrNotFound) {
		return nil, nil, errSessionNotFound()
	}
	if err != nil {
		return nil, nil, a.validationError(err)
	}

	if !s.IsValid(a.now()) {
		a.markExpired(ctx, s)
		return nil, nil, errSessionExpired()
	}

	live, _, err := a.reconcile(ctx, s)
	if err != nil {
		return nil, nil, a.validationError(err)
	}
	return s, live, nil
}

// markExpired moves an active session past its expiry to expired. It is
// bookkeeping only; failures are logged.
func (a *Authority) markExpired(ctx context.Context, s *session.Session) {
	if s.Status != session.StatusActive {
		return
	}
	now := a.now()
	s.Status = session.StatusExpired
	s.UpdatedAt = now
	if err := a.store.SetStatus(ctx, s.ID, session.StatusExpired, now); err != nil && !errors.Is(err, session.ErrNotFound) {
		logger.Warn("failed to mark session expired", map[string]any{
			"session_id": s.ID,
			"error":      err.Error(),
		})
	}
}

// touch records the access. A session revoked or expired since it was
// loaded is not written back and reads as expired.
func (a *Authority) touch(ctx context.Context, s *session.Session) error {
	now := a.now()
	s.LastAccessAt = now
	s.UpdatedAt = now
	err := a.store.Update(ctx, s)
	if errors.Is(err, session.ErrStale) || errors.Is(err, session.ErrNotFound) {
		return errSessionExpired()
	}
	return err
}

// Refresh rotates both tokens of the session owning refreshToken. The
// previous pair is invalid once this returns. Of two concurrent refreshes
// with the same token only one succeeds.
func (a *Authority) Refresh(ctx context.Context, refreshToken string) (view *View, err error) {
	defer a.observe("refresh", time.Now(), &err)

	ctx, cancel := a.bound(ctx)
	defer cancel()

	s, err := a.store.FindByRefreshToken(ctx, refreshToken)
	if errors.Is(err, session.ErrNotFound) {
		return nil, errInvalidRefreshToken()
	}
	if err != nil {
		return nil, a.infraError("refresh", err)
	}

	now := a.now()
	if !s.IsValid(now) {
		a.markExpired(ctx, s)
		return nil, errInvalidRefreshToken()
	}

	if _, _, err := a.reconcile(ctx, s); err != nil {
		return nil, a.infraError("refresh", err)
	}

	prevSession, prevRefresh := s.SessionToken, s.RefreshToken
	s.SessionToken, s.RefreshToken, err = session.GenerateTokenPair()
	if err != nil {
		return nil, newError(CodeInternal, "could not rotate session", err)
	}
	if extended := now.Add(a.opts.DefaultTTL); extended.After(s.ExpiresAt) {
		s.ExpiresAt = extended
	}
	s.LastAccessAt = now
	s.UpdatedAt = now

	view, err = a.view(ctx, s)
	if err != nil {
		return nil, a.infraError("refresh", err)
	}

	err = a.store.Rotate(ctx, s, prevSession, prevRefresh)
	switch {
	case errors.Is(err, session.ErrStale), errors.Is(err, session.ErrNotFound):
		logger.Warn("refresh lost race or reused token", map[string]any{
			"session_id": s.ID,
			"token":      logger.TokenHint(prevRefresh),
		})
		return nil, errInvalidRefreshToken()
	case errors.Is(err, session.ErrTokenCollision):
		logger.Error("session token collision", map[string]any{"session_id": s.ID})
		return nil, newError(CodeInternal, "could not rotate session", err)
	case err != nil:
		return nil, a.infraError("refresh", err)
	}

	logger.Info("session refreshed", map[string]any{
		"session_id": s.ID,
		"user_id":    s.UserID,
	})
	return view, nil
}

// SwitchOrganization re-scopes a session to orgID. Membership is checked
// against live role assignments, never against the cached org list.
func (a *Authority) SwitchOrganization(ctx context.Context, token, orgID string) (view *View, err error) {
	defer a.observe("switch_organization", time.Now(), &err)

	if orgID == "" {
		return nil, newError(CodeInvalidRequest, "organizationId is required", nil)
	}

	ctx, cancel := a.bound(ctx)
	defer cancel()

	s, live, err := a.load(ctx, token)
	if err != nil {
		return nil, err
	}

	if !membership.Contains(live, orgID) {
		// keep whatever reconciliation corrected
		if err := a.touch(ctx, s); err != nil {
			return nil, a.infraError("switch_organization", err)
		}
		logger.Warn("organization switch denied", map[string]any{
			"session_id": s.ID,
			"user_id":    s.UserID,
			"org_id":     orgID,
		})
		return nil, errOrganizationAccessDenied(orgID)
	}

	if err := a.applyOrg(ctx, s, orgID); err != nil {
		return nil, a.infraError("switch_organization", err)
	}

	view, err = a.view(ctx, s)
	if err != nil {
		return nil, a.infraError("switch_organization", err)
	}
	if err := a.touch(ctx, s); err != nil {
		return nil, a.infraError("switch_organization", err)
	}

	if err := a.directory.SetCurrentOrg(ctx, s.UserID, orgID); err != nil {
		logger.Warn("failed to update organization hint", map[string]any{
			"user_id": s.UserID,
			"error":   err.Error(),
		})
	}

	logger.Info("organization switched", map[string]any{
		"session_id": s.ID,
		"user_id":    s.UserID,
		"org_id":     orgID,
	})
	return view, nil
}

// Revoke ends the session behind token. Revoking an already revoked
// session succeeds.
func (a *Authority) Revoke(ctx context.Context, token string) (err error) {
	defer a.observe("revoke", time.Now(), &err)

	ctx, cancel := a.bound(ctx)
	defer cancel()

	s, err := a.store.FindByToken(ctx, token)
	if errors.Is(err, session.ErrNotFound) {
		return errSessionNotFound()
	}
	if err != nil {
		return a.infraError("revoke", err)
	}
	if s.Status == session.StatusRevoked {
		return nil
	}

	if err := a.store.SetStatus(ctx, s.ID, session.StatusRevoked, a.now()); err != nil && !errors.Is(err, session.ErrNotFound) {
		return a.infraError("revoke", err)
	}

	a.metrics.SessionsRevoked("logout", 1)
	logger.Info("session revoked", map[string]any{
		"session_id": s.ID,
		"user_id":    s.UserID,
	})
	return nil
}

// RevokeAllForUser revokes every active session of userID and reports how
// many were affected.
func (a *Authority) RevokeAllForUser(ctx context.Context, userID string) (n int, err error) {
	defer a.observe("revoke_all", time.Now(), &err)

	if userID == "" {
		return 0, newError(CodeInvalidRequest, "user id is required", nil)
	}

	ctx, cancel := a.bound(ctx)
	defer cancel()

	n, err = a.store.RevokeAllForUser(ctx, userID, a.now())
	if err != nil {
		return n, a.infraError("revoke_all", err)
	}

	a.metrics.SessionsRevoked("bulk", n)
	logger.Info("sessions revoked for user", map[string]any{
		"user_id": userID,
		"count":   n,
	})
	return n, nil
}

// Sweep marks every active session past its expiry as expired.
func (a *Authority) Sweep(ctx context.Context) (n int, err error) {
	defer a.observe("sweep", time.Now(), &err)

	n, err = a.store.SweepExpired(ctx, a.now())
	if err != nil {
		return n, a.infraError("sweep", err)
	}
	a.metrics.SessionsSwept(n)
	if n > 0 {
		logger.Info("expired sessions swept", map[string]any{"count": n})
	}
	return n, nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (a *Authority) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, interval)
			if _, err := a.Sweep(sweepCtx); err != nil {
				logger.Error("session sweep failed", map[string]any{"error": err.Error()})
			}
			cancel()
		}
	}
}

// infraError classifies a dependency failure. Deadlines become
// ValidationTimeout, everything else StoreUnavailable.
func (a *Authority) infraError(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	logger.Error("session dependency failed", map[string]any{
		"operation": op,
		"error":     err.Error(),
	})
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newError(CodeValidationTimeout, "operation timed out", err)
	}
	return newError(CodeStoreUnavailable, "session service unavailable", err)
}

// validationError is infraError for the validation path, where every
// dependency failure denies the request.
func (a *Authority) validationError(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	logger.Error("session validation failed", map[string]any{"error": err.Error()})
	return newError(CodeValidationTimeout, "session could not be validated", err)
}
