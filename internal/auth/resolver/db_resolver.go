package resolver

import (
	"context"
	"database/sql"
	"errors"

	"dashboard-auth/internal/auth"
	"dashboard-auth/internal/db"

	"github.com/google/uuid"
)

// DBResolver resolves identities using the database.
type DBResolver struct {
	db *db.DB
}

func NewDBResolver(db *db.DB) *DBResolver {
	return &DBResolver{db: db}
}

// Resolve maps identity to a user id: an existing identity link wins, then
// a user with the same verified email is linked, otherwise a new user is
// created. New users belong to no organization.
func (r *DBResolver) Resolve(
	ctx context.Context,
	identity *auth.Identity,
) (string, error) {

	if identity == nil {
		return "", errors.New("identity is nil")
	}

	// 1. Try identity lookup (provider + provider_user_id)
	var userID uuid.UUID
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id
		FROM identities
		WHERE provider = $1
		  AND provider_user_id = $2
	`,
		identity.Provider,
		identity.ProviderUserID,
	).Scan(&userID)

	if err == nil {
		return userID.String(), nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	// 2. Link to an existing user only on a provider-verified email
	err = sql.ErrNoRows
	if identity.EmailVerified {
		err = tx.QueryRowContext(ctx, `
			SELECT id
			FROM users
			WHERE email = $1
		`,
			identity.Email,
		).Scan(&userID)
	}

	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		// 3. Create new user; usernames are reserved for password accounts
		err = tx.QueryRowContext(ctx, `
			INSERT INTO users (email, email_verified, display_name)
			VALUES ($1, $2, $3)
			RETURNING id
		`,
			identity.Email,
			identity.EmailVerified,
			identity.DisplayName,
		).Scan(&userID)
		if err != nil {
			return "", err
		}
	default:
		return "", err
	}

	// 4. Create identity mapping
	_, err = tx.ExecContext(ctx, `
		INSERT INTO identities (user_id, provider, provider_user_id)
		VALUES ($1, $2, $3)
	`,
		userID,
		identity.Provider,
		identity.ProviderUserID,
	)
	if err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return userID.String(), nil
}
