package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusRevoked   Status = "revoked"
	StatusSuspended Status = "suspended"
)

// NoOrganization is the current-org value of a session whose user has no
// active membership left.
const NoOrganization = ""

var (
	ErrNotFound = errors.New("session: not found")
	// ErrTokenCollision means a freshly issued token already exists.
	ErrTokenCollision = errors.New("session: token collision")
	// ErrStale means a conditional write lost against a concurrent one.
	ErrStale = errors.New("session: stale write")
)

type UserSummary struct {
	ID          string `json:"id"`
	Username    string `json:"username,omitempty"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
}

type OrgSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Security is advisory metadata recorded at login. Nothing enforces it.
type Security struct {
	LoginMethod       string `json:"loginMethod"`
	DeviceFingerprint string `json:"deviceFingerprint,omitempty"`
	DeviceName        string `json:"deviceName,omitempty"`
	Trusted           bool   `json:"trusted"`
	RiskScore         int    `json:"riskScore"`
	IPAddress         string `json:"ipAddress,omitempty"`
	UserAgent         string `json:"userAgent,omitempty"`
}

// Session binds a bearer token to a user and an active organization.
// AvailableOrgIDs, Permissions, Roles, User and CurrentOrg are a cached
// projection of membership data; they are re-derived on every read.
type Session struct {
	ID           string `json:"id"`
	SessionToken string `json:"sessionToken"`
	RefreshToken string `json:"refreshToken,omitempty"`

	UserID       string `json:"userId"`
	CurrentOrgID string `json:"currentOrgId"`

	Status       Status     `json:"status"`
	ExpiresAt    time.Time  `json:"expiresAt"`
	LastAccessAt time.Time  `json:"lastAccessAt"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	RevokedAt    *time.Time `json:"revokedAt,omitempty"`
	RememberMe   bool       `json:"rememberMe"`

	AvailableOrgIDs []string    `json:"availableOrgIds"`
	Permissions     []string    `json:"permissions"`
	Roles           []string    `json:"roles"`
	User            UserSummary `json:"user"`
	CurrentOrg      *OrgSummary `json:"currentOrg,omitempty"`
	Security        Security    `json:"security"`
}

// IsValid reports whether the session may be used at now.
func (s *Session) IsValid(now time.Time) bool {
	return s.Status == StatusActive && now.Before(s.ExpiresAt)
}

func (s *Session) HasPermission(permission string) bool {
	for _, p := range s.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the session holds at least one of roles in its
// current organization.
func (s *Session) HasAnyRole(roles ...string) bool {
	for _, want := range roles {
		for _, have := range s.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// IsMemberOf checks membership independent of the current organization.
func (s *Session) IsMemberOf(orgID string) bool {
	if orgID == "" {
		return false
	}
	for _, id := range s.AvailableOrgIDs {
		if id == orgID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so stores never share slices with callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.AvailableOrgIDs = append([]string(nil), s.AvailableOrgIDs...)
	c.Permissions = append([]string(nil), s.Permissions...)
	c.Roles = append([]string(nil), s.Roles...)
	if s.CurrentOrg != nil {
		org := *s.CurrentOrg
		c.CurrentOrg = &org
	}
	if s.RevokedAt != nil {
		at := *s.RevokedAt
		c.RevokedAt = &at
	}
	return &c
}

// Store persists sessions. Lookups return records in any status; callers
// decide validity. Every method is bounded by ctx.
type Store interface {
	// Insert persists a new session. ErrTokenCollision if either token exists.
	Insert(ctx context.Context, s *Session) error

	FindByToken(ctx context.Context, sessionToken string) (*Session, error)
	FindByRefreshToken(ctx context.Context, refreshToken string) (*Session, error)

	// Update overwrites everything except the tokens, provided the stored
	// session is still active. ErrStale if it was revoked or expired in the
	// meantime. Concurrent updates of an active session all succeed.
	Update(ctx context.Context, s *Session) error

	// SetStatus moves a session to StatusRevoked or StatusExpired regardless
	// of concurrent updates. Revoked is terminal: expiring a revoked session
	// leaves it revoked.
	SetStatus(ctx context.Context, id string, status Status, at time.Time) error

	// Rotate replaces the tokens of s, provided the stored refresh token still
	// equals prevRefreshToken and the session is active. ErrStale otherwise.
	Rotate(ctx context.Context, s *Session, prevSessionToken, prevRefreshToken string) error

	// RevokeAllForUser revokes every active session of userID.
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int, error)

	// SweepExpired marks active sessions past their expiry as expired.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// applyStatus performs the SetStatus transition on cur in place and
// reports whether anything changed.
func applyStatus(cur *Session, status Status, at time.Time) (bool, error) {
	if status != StatusRevoked && status != StatusExpired {
		return false, fmt.Errorf("session: cannot set status %q", status)
	}
	if cur.Status == StatusRevoked || (status == StatusExpired && cur.Status != StatusActive) {
		return false, nil
	}
	cur.Status = status
	cur.UpdatedAt = at
	if status == StatusRevoked {
		revokedAt := at
		cur.RevokedAt = &revokedAt
	}
	return true, nil
}
