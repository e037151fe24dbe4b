package app

import (
	"context"
	"net/http"

	"dashboard-auth/internal/auth/handler"
	"dashboard-auth/internal/auth/provider"
	"dashboard-auth/internal/auth/provider/google"
	"dashboard-auth/internal/auth/provider/keycloak"
	"dashboard-auth/internal/auth/resolver"
	"dashboard-auth/internal/config"
	"dashboard-auth/internal/logger"
	"dashboard-auth/internal/metrics"
	"dashboard-auth/internal/middleware"
	"dashboard-auth/internal/session"

	"github.com/gin-gonic/gin"
)

func setupProviders(ctx context.Context, cfg config.Config) (*provider.Registry, error) {
	var list []provider.OAuthProvider

	if cfg.GoogleClientID != "" {
		googleProvider, err := google.New(
			ctx,
			cfg.GoogleClientID,
			cfg.GoogleClientSecret,
			cfg.GoogleRedirectURL,
		)
		if err != nil {
			return nil, err
		}
		list = append(list, googleProvider)
	}

	if cfg.KeycloakIssuer != "" {
		keycloakProvider, err := keycloak.New(
			ctx,
			cfg.KeycloakIssuer,
			cfg.KeycloakClientID,
			cfg.KeycloakRedirectURL,
			cfg.KeycloakPublicBaseURL,
		)
		if err != nil {
			return nil, err
		}
		list = append(list, keycloakProvider)
	}

	registry := provider.NewRegistry(list...)
	logger.Info("oauth providers configured", map[string]any{
		"providers": registry.Names(),
	})
	return registry, nil
}

func setupHTTP(ctx context.Context, cfg config.Config, svc *Services) (*gin.Engine, error) {
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	// ----------------------------
	// Dependencies
	// ----------------------------

	registry, err := setupProviders(ctx, cfg)
	if err != nil {
		return nil, err
	}

	guard := middleware.NewGuard(svc.Authority, cfg.InternalTokenHeader)

	authHandler := handler.NewHandler(
		svc.Authority,
		svc.Membership,
		guard,
		registry,
		resolver.NewDBResolver(svc.Infra.DB),
		svc.Credentials,
		session.DefaultCookieOptions(cfg.IsDevelopment()),
	)

	// ----------------------------
	// Router
	// ----------------------------

	router := gin.New()
	router.Use(gin.Recovery())

	// ----------------------------
	// Public Routes
	// ----------------------------

	authHandler.RegisterRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/metrics", gin.WrapH(metrics.HandlerFor(svc.Registry)))

	// ----------------------------
	// Protected API Routes
	// ----------------------------

	api := router.Group("/api")
	api.Use(middleware.GinRequireAuth(guard))

	api.GET("/me", func(c *gin.Context) {
		s, _ := middleware.GinSession(c)
		c.JSON(http.StatusOK, gin.H{
			"user_id":     c.GetString(middleware.ContextKeyUserID),
			"org_id":      s.CurrentOrgID,
			"permissions": s.Permissions,
			"roles":       s.Roles,
		})
	})

	return router, nil
}
