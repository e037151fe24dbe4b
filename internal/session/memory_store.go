package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process. Suitable for single-instance
// development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	byID      map[string]*Session
	byToken   map[string]string
	byRefresh map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[string]*Session),
		byToken:   make(map[string]string),
		byRefresh: make(map[string]string),
	}
}

func (m *MemoryStore) Insert(ctx context.Context, s *Session) error {
	if err := validateForWrite(s); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[s.ID]; ok {
		return fmt.Errorf("session: duplicate id %s", s.ID)
	}
	if m.tokenTaken(s.SessionToken) || (s.RefreshToken != "" && m.tokenTaken(s.RefreshToken)) {
		return ErrTokenCollision
	}

	m.byID[s.ID] = s.Clone()
	m.byToken[s.SessionToken] = s.ID
	if s.RefreshToken != "" {
		m.byRefresh[s.RefreshToken] = s.ID
	}
	return nil
}

func (m *MemoryStore) FindByToken(ctx context.Context, sessionToken string) (*Session, error) {
	return m.find(ctx, m.byToken, sessionToken)
}

func (m *MemoryStore) FindByRefreshToken(ctx context.Context, refreshToken string) (*Session, error) {
	return m.find(ctx, m.byRefresh, refreshToken)
}

func (m *MemoryStore) find(ctx context.Context, index map[string]string, token string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrNotFound
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := index[token]
	if !ok {
		return nil, ErrNotFound
	}
	return m.byID[id].Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, s *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.byID[s.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != StatusActive {
		return ErrStale
	}
	next := s.Clone()
	next.SessionToken = cur.SessionToken
	next.RefreshToken = cur.RefreshToken
	m.byID[s.ID] = next
	return nil
}

func (m *MemoryStore) SetStatus(ctx context.Context, id string, status Status, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	_, err := applyStatus(cur, status, at)
	return err
}

func (m *MemoryStore) Rotate(ctx context.Context, s *Session, prevSessionToken, prevRefreshToken string) error {
	if err := validateForWrite(s); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.byID[s.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.RefreshToken != prevRefreshToken || cur.Status != StatusActive {
		return ErrStale
	}
	if m.tokenTaken(s.SessionToken) || m.tokenTaken(s.RefreshToken) {
		return ErrTokenCollision
	}

	delete(m.byToken, prevSessionToken)
	delete(m.byRefresh, prevRefreshToken)
	m.byID[s.ID] = s.Clone()
	m.byToken[s.SessionToken] = s.ID
	m.byRefresh[s.RefreshToken] = s.ID
	return nil
}

func (m *MemoryStore) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, s := range m.byID {
		if s.UserID != userID || s.Status != StatusActive {
			continue
		}
		if _, err := applyStatus(s, StatusRevoked, at); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (m *MemoryStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, s := range m.byID {
		if s.Status == StatusActive && !now.Before(s.ExpiresAt) {
			s.Status = StatusExpired
			s.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions in any status.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// tokenTaken checks both indexes; caller holds the lock.
func (m *MemoryStore) tokenTaken(token string) bool {
	if _, ok := m.byToken[token]; ok {
		return true
	}
	_, ok := m.byRefresh[token]
	return ok
}

func validateForWrite(s *Session) error {
	if s == nil || s.ID == "" || s.UserID == "" || s.SessionToken == "" {
		return fmt.Errorf("session: missing id, user_id or session_token")
	}
	return nil
}
