package session

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return NewPostgresStore(gdb), mock
}

func rotated() *Session {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &Session{
		ID:           "s-1",
		SessionToken: "tok-2",
		RefreshToken: "ref-2",
		UserID:       "u-1",
		Status:       StatusActive,
		ExpiresAt:    now.Add(time.Hour),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestPostgresStore_FindByTokenNotFound(t *testing.T) {
	store, mock := newPostgresStore(t)

	mock.ExpectQuery(`SELECT \* FROM "sessions" WHERE session_token = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.FindByToken(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.FindByRefreshToken(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotFound, "empty tokens never reach the database")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RotateIsCompareAndSwap(t *testing.T) {
	store, mock := newPostgresStore(t)

	mock.ExpectExec(`UPDATE "sessions" SET .* WHERE \(?id = \$\d+ AND refresh_token = \$\d+ AND status = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "sessions"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Rotate(context.Background(), rotated(), "tok-1", "ref-1"))
	assert.ErrorIs(t, store.Rotate(context.Background(), rotated(), "tok-1", "ref-1"), ErrStale)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RotateCollision(t *testing.T) {
	store, mock := newPostgresStore(t)

	mock.ExpectExec(`UPDATE "sessions"`).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})

	err := store.Rotate(context.Background(), rotated(), "tok-1", "ref-1")
	assert.ErrorIs(t, err, ErrTokenCollision)
}

func TestPostgresStore_BulkTransitions(t *testing.T) {
	store, mock := newPostgresStore(t)
	now := time.Now()

	mock.ExpectExec(`UPDATE "sessions" SET .* WHERE user_id = \$\d+ AND status = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`UPDATE "sessions" SET .* WHERE status = \$\d+ AND expires_at <= \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := store.RevokeAllForUser(context.Background(), "u-1", now)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = store.SweepExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateMissing(t *testing.T) {
	store, mock := newPostgresStore(t)

	mock.ExpectExec(`UPDATE "sessions"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "sessions" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	assert.ErrorIs(t, store.Update(context.Background(), rotated()), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateOnlyTouchesActiveSessions(t *testing.T) {
	store, mock := newPostgresStore(t)

	mock.ExpectExec(`UPDATE "sessions" SET .* WHERE \(?id = \$\d+ AND status = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "sessions" SET .* WHERE \(?id = \$\d+ AND status = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "sessions"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	require.NoError(t, store.Update(context.Background(), rotated()))
	assert.ErrorIs(t, store.Update(context.Background(), rotated()), ErrStale,
		"a revoked or expired row is never written back")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetStatus(t *testing.T) {
	store, mock := newPostgresStore(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectExec(`UPDATE "sessions" SET .*"revoked_at"=.* WHERE \(?id = \$\d+ AND status <> \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.SetStatus(ctx, "s-1", StatusRevoked, now))

	// Expiring only matches active rows; an already revoked row stays put.
	mock.ExpectExec(`UPDATE "sessions" SET .* WHERE \(?id = \$\d+ AND status = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "sessions"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	require.NoError(t, store.SetStatus(ctx, "s-1", StatusExpired, now))

	mock.ExpectExec(`UPDATE "sessions"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "sessions"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	assert.ErrorIs(t, store.SetStatus(ctx, "missing", StatusRevoked, now), ErrNotFound)

	assert.Error(t, store.SetStatus(ctx, "s-1", StatusActive, now))
	assert.NoError(t, mock.ExpectationsWereMet())
}
