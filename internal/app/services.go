package app

import (
	"context"

	"dashboard-auth/internal/auth/credentials"
	"dashboard-auth/internal/authority"
	"dashboard-auth/internal/config"
	"dashboard-auth/internal/membership"
	"dashboard-auth/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// Services is everything built on top of Infra. The HTTP server and the
// maintenance commands share it.
type Services struct {
	Infra       *Infra
	Authority   *authority.Authority
	Membership  *membership.Postgres
	Credentials *credentials.Service
	Registry    *prometheus.Registry
}

func NewServices(ctx context.Context, cfg config.Config) (*Services, error) {
	infra, err := setupInfra(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := infra.SessionStore(cfg.SessionBackend)
	if err != nil {
		_ = infra.Close()
		return nil, err
	}

	members := membership.NewPostgres(infra.DB)
	creds := credentials.NewService(infra.DB)
	registry, m := metrics.NewRegistry()

	auth := authority.New(
		store,
		members,
		members,
		creds,
		authority.Options{
			DefaultTTL:       cfg.SessionTTL,
			ExtendedTTL:      cfg.SessionRememberTTL,
			OperationTimeout: cfg.OperationTimeout,
		},
		authority.WithMetrics(m),
	)

	return &Services{
		Infra:       infra,
		Authority:   auth,
		Membership:  members,
		Credentials: creds,
		Registry:    registry,
	}, nil
}

func (s *Services) Close() error {
	return s.Infra.Close()
}
