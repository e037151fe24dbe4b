package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// PostgresStore is the durable store: sessions are never deleted, only
// moved to expired or revoked, which keeps the audit trail.
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type sessionModel struct {
	ID                string      `gorm:"column:id;primaryKey"`
	SessionToken      string      `gorm:"column:session_token"`
	RefreshToken      *string     `gorm:"column:refresh_token"`
	UserID            string      `gorm:"column:user_id"`
	CurrentOrgID      string      `gorm:"column:current_org_id"`
	Status            string      `gorm:"column:status"`
	ExpiresAt         time.Time   `gorm:"column:expires_at"`
	LastAccessAt      time.Time   `gorm:"column:last_access_at"`
	CreatedAt         time.Time   `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt         time.Time   `gorm:"column:updated_at;autoUpdateTime:false"`
	RevokedAt         *time.Time  `gorm:"column:revoked_at"`
	AvailableOrgIDs   []string    `gorm:"column:available_org_ids;serializer:json"`
	Permissions       []string    `gorm:"column:permissions;serializer:json"`
	Roles             []string    `gorm:"column:roles;serializer:json"`
	UserSummary       UserSummary `gorm:"column:user_summary;serializer:json"`
	CurrentOrg        *OrgSummary `gorm:"column:current_org;serializer:json"`
	RememberMe        bool        `gorm:"column:remember_me"`
	LoginMethod       string      `gorm:"column:login_method"`
	DeviceFingerprint string      `gorm:"column:device_fingerprint"`
	DeviceName        string      `gorm:"column:device_name"`
	IsTrusted         bool        `gorm:"column:is_trusted"`
	RiskScore         int         `gorm:"column:risk_score"`
	IPAddress         string      `gorm:"column:ip_address"`
	UserAgent         string      `gorm:"column:user_agent"`
}

func (sessionModel) TableName() string {
	return "sessions"
}

func modelFromSession(s *Session) sessionModel {
	m := sessionModel{
		ID:                s.ID,
		SessionToken:      s.SessionToken,
		UserID:            s.UserID,
		CurrentOrgID:      s.CurrentOrgID,
		Status:            string(s.Status),
		ExpiresAt:         s.ExpiresAt,
		LastAccessAt:      s.LastAccessAt,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
		RevokedAt:         s.RevokedAt,
		AvailableOrgIDs:   nonNil(s.AvailableOrgIDs),
		Permissions:       nonNil(s.Permissions),
		Roles:             nonNil(s.Roles),
		UserSummary:       s.User,
		CurrentOrg:        s.CurrentOrg,
		RememberMe:        s.RememberMe,
		LoginMethod:       s.Security.LoginMethod,
		DeviceFingerprint: s.Security.DeviceFingerprint,
		DeviceName:        s.Security.DeviceName,
		IsTrusted:         s.Security.Trusted,
		RiskScore:         s.Security.RiskScore,
		IPAddress:         s.Security.IPAddress,
		UserAgent:         s.Security.UserAgent,
	}
	if s.RefreshToken != "" {
		rt := s.RefreshToken
		m.RefreshToken = &rt
	}
	return m
}

func (m sessionModel) toSession() *Session {
	s := &Session{
		ID:              m.ID,
		SessionToken:    m.SessionToken,
		UserID:          m.UserID,
		CurrentOrgID:    m.CurrentOrgID,
		Status:          Status(m.Status),
		ExpiresAt:       m.ExpiresAt,
		LastAccessAt:    m.LastAccessAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
		RevokedAt:       m.RevokedAt,
		RememberMe:      m.RememberMe,
		AvailableOrgIDs: m.AvailableOrgIDs,
		Permissions:     m.Permissions,
		Roles:           m.Roles,
		User:            m.UserSummary,
		CurrentOrg:      m.CurrentOrg,
		Security: Security{
			LoginMethod:       m.LoginMethod,
			DeviceFingerprint: m.DeviceFingerprint,
			DeviceName:        m.DeviceName,
			Trusted:           m.IsTrusted,
			RiskScore:         m.RiskScore,
			IPAddress:         m.IPAddress,
			UserAgent:         m.UserAgent,
		},
	}
	if m.RefreshToken != nil {
		s.RefreshToken = *m.RefreshToken
	}
	return s
}

func (p *PostgresStore) Insert(ctx context.Context, s *Session) error {
	if err := validateForWrite(s); err != nil {
		return err
	}
	row := modelFromSession(s)
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrTokenCollision
		}
		return fmt.Errorf("session: insert: %w", err)
	}
	return nil
}

func (p *PostgresStore) FindByToken(ctx context.Context, sessionToken string) (*Session, error) {
	return p.findBy(ctx, "session_token", sessionToken)
}

func (p *PostgresStore) FindByRefreshToken(ctx context.Context, refreshToken string) (*Session, error) {
	return p.findBy(ctx, "refresh_token", refreshToken)
}

func (p *PostgresStore) findBy(ctx context.Context, column, token string) (*Session, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	var row sessionModel
	err := p.db.WithContext(ctx).
		Where(column+" = ?", token).
		First(&row).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: find by %s: %w", column, err)
	}
	return row.toSession(), nil
}

func (p *PostgresStore) Update(ctx context.Context, s *Session) error {
	row := modelFromSession(s)
	res := p.db.WithContext(ctx).
		Model(&sessionModel{}).
		Where("id = ? AND status = ?", s.ID, string(StatusActive)).
		Select("*").
		Omit("id", "session_token", "refresh_token", "created_at").
		Updates(&row)
	if res.Error != nil {
		return fmt.Errorf("session: update: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return p.missingOrStale(ctx, s.ID, ErrStale)
	}
	return nil
}

func (p *PostgresStore) SetStatus(ctx context.Context, id string, status Status, at time.Time) error {
	updates := map[string]any{
		"status":     string(status),
		"updated_at": at,
	}
	q := p.db.WithContext(ctx).Model(&sessionModel{})
	switch status {
	case StatusRevoked:
		updates["revoked_at"] = at
		q = q.Where("id = ? AND status <> ?", id, string(StatusRevoked))
	case StatusExpired:
		q = q.Where("id = ? AND status = ?", id, string(StatusActive))
	default:
		return fmt.Errorf("session: cannot set status %q", status)
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("session: set status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return p.missingOrStale(ctx, id, nil)
	}
	return nil
}

// missingOrStale explains a conditional write that matched no row:
// ErrNotFound when the session does not exist, ifExists otherwise.
func (p *PostgresStore) missingOrStale(ctx context.Context, id string, ifExists error) error {
	var n int64
	if err := p.db.WithContext(ctx).Model(&sessionModel{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return fmt.Errorf("session: lookup %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return ifExists
}

// Rotate is a compare-and-swap on the previous refresh token: of two
// concurrent refreshes only one matches the WHERE clause.
func (p *PostgresStore) Rotate(ctx context.Context, s *Session, _, prevRefreshToken string) error {
	if err := validateForWrite(s); err != nil {
		return err
	}
	row := modelFromSession(s)
	res := p.db.WithContext(ctx).
		Model(&sessionModel{}).
		Where("id = ? AND refresh_token = ? AND status = ?", s.ID, prevRefreshToken, string(StatusActive)).
		Select("*").
		Omit("id", "created_at").
		Updates(&row)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return ErrTokenCollision
		}
		return fmt.Errorf("session: rotate: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStale
	}
	return nil
}

func (p *PostgresStore) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int, error) {
	res := p.db.WithContext(ctx).
		Model(&sessionModel{}).
		Where("user_id = ? AND status = ?", userID, string(StatusActive)).
		Updates(map[string]any{
			"status":     string(StatusRevoked),
			"revoked_at": at,
			"updated_at": at,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("session: revoke all: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (p *PostgresStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	res := p.db.WithContext(ctx).
		Model(&sessionModel{}).
		Where("status = ? AND expires_at <= ?", string(StatusActive), now).
		Updates(map[string]any{
			"status":     string(StatusExpired),
			"updated_at": now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("session: sweep: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
