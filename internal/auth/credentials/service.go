package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"dashboard-auth/internal/db"

	"github.com/google/uuid"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAlreadyRegistered  = errors.New("credentials already exist")
	ErrInvalidEmail       = errors.New("invalid email")
)

// Service verifies and registers password credentials.
type Service struct {
	db *db.DB
}

func NewService(db *db.DB) *Service {
	return &Service{db: db}
}

func (s *Service) Register(ctx context.Context, reg Registration) (string, error) {
	email := strings.TrimSpace(reg.Email)
	if !strings.Contains(email, "@") {
		return "", ErrInvalidEmail
	}

	// Hash first so a weak password never creates a user row.
	hash, version, err := HashPassword(reg.Password)
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	var userID uuid.UUID

	// 1. Find or create user by email
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM users
		WHERE LOWER(email) = LOWER($1)
	`, email).Scan(&userID)

	if errors.Is(err, sql.ErrNoRows) {
		var username any
		if u := strings.TrimSpace(reg.Username); u != "" {
			username = u
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO users (email, username, display_name, email_verified)
			VALUES ($1, $2, $3, false)
			RETURNING id
		`, email, username, strings.TrimSpace(reg.DisplayName)).Scan(&userID)
	}

	if err != nil {
		return "", fmt.Errorf("credentials: register user: %w", err)
	}

	// 2. Check if credentials already exist
	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM credentials WHERE user_id = $1
		)
	`, userID).Scan(&exists)

	if err != nil {
		return "", err
	}

	if exists {
		return "", ErrAlreadyRegistered
	}

	// 3. Insert credentials
	_, err = tx.ExecContext(ctx, `
		INSERT INTO credentials (user_id, password_hash, hash_version)
		VALUES ($1, $2, $3)
	`, userID, hash, version)

	if err != nil {
		return "", fmt.Errorf("credentials: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}

	return userID.String(), nil
}

// Authenticate resolves identifier (email or username) and checks secret.
// A missing user and a wrong secret both yield ErrInvalidCredentials;
// only infrastructure failures surface as other errors.
func (s *Service) Authenticate(
	ctx context.Context,
	identifier string,
	secret string,
) (string, error) {

	identifier = strings.TrimSpace(identifier)
	if identifier == "" || secret == "" {
		return "", ErrInvalidCredentials
	}

	var (
		userID       uuid.UUID
		passwordHash string
	)

	// 1. Find user + credentials
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, c.password_hash
		FROM users u
		JOIN credentials c ON c.user_id = u.id
		WHERE (LOWER(u.email) = LOWER($1) OR LOWER(u.username) = LOWER($1))
		  AND u.status = 'active'
		LIMIT 1
	`, identifier).Scan(&userID, &passwordHash)

	if errors.Is(err, sql.ErrNoRows) {
		// hide whether user exists or not
		burnVerification(secret)
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", fmt.Errorf("credentials: lookup: %w", err)
	}

	// 2. Verify password
	if err := VerifyPassword(passwordHash, secret); err != nil {
		return "", ErrInvalidCredentials
	}

	return userID.String(), nil
}
