package app

import (
	"context"
	"database/sql"
	"fmt"

	"dashboard-auth/internal/config"
	"dashboard-auth/internal/db"
	"dashboard-auth/internal/logger"
	"dashboard-auth/internal/redis"
	"dashboard-auth/internal/session"

	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Infra holds the external connections. Gorm and Redis are only opened
// when the session backend needs them.
type Infra struct {
	DB    *db.DB
	Gorm  *gorm.DB
	Redis *redis.Client
}

func setupInfra(ctx context.Context, cfg config.Config) (*Infra, error) {
	if cfg.DatabaseDSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	sqlDB, err := sql.Open("postgres", cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	if err := db.RunMigration(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	logger.Info("database ready", nil)

	infra := &Infra{DB: &db.DB{DB: sqlDB}}

	switch cfg.SessionBackend {
	case config.BackendPostgres:
		gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			_ = infra.Close()
			return nil, err
		}
		infra.Gorm = gormDB

	case config.BackendRedis:
		redisClient, err := redis.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.OperationTimeout)
		if err != nil {
			_ = infra.Close()
			return nil, err
		}
		infra.Redis = redisClient
		logger.Info("redis ready", map[string]any{"addr": cfg.RedisAddr})
	}

	return infra, nil
}

// SessionStore returns the store for the configured backend.
func (i *Infra) SessionStore(backend string) (session.Store, error) {
	switch backend {
	case config.BackendRedis:
		return session.NewRedisStore(i.Redis.Client), nil
	case config.BackendPostgres:
		return session.NewPostgresStore(i.Gorm), nil
	case config.BackendMemory:
		logger.Warn("sessions are kept in memory and lost on restart", nil)
		return session.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown session backend %q", backend)
}

func (i *Infra) Close() error {
	if i.Redis != nil {
		_ = i.Redis.Close()
	}
	return i.DB.Close()
}
