package handler

import (
	"context"
	"net/http"

	"dashboard-auth/internal/auth/credentials"
	"dashboard-auth/internal/auth/provider"
	"dashboard-auth/internal/auth/resolver"
	"dashboard-auth/internal/authority"
	"dashboard-auth/internal/logger"
	"dashboard-auth/internal/middleware"
	"dashboard-auth/internal/session"

	"github.com/gin-gonic/gin"
)

// PermissionRevokeSessions gates the admin bulk revoke endpoint.
const PermissionRevokeSessions = "sessions:revoke"

// SessionAuthority is the part of the authority the HTTP layer drives.
type SessionAuthority interface {
	Create(ctx context.Context, req authority.LoginRequest) (*authority.View, error)
	CreateForUser(ctx context.Context, userID string, opts authority.SessionOptions) (*authority.View, error)
	Profile(ctx context.Context, token string) (*authority.View, error)
	Refresh(ctx context.Context, refreshToken string) (*authority.View, error)
	SwitchOrganization(ctx context.Context, token, orgID string) (*authority.View, error)
	Revoke(ctx context.Context, token string) error
	RevokeAllForUser(ctx context.Context, userID string) (int, error)
}

// Memberships answers which organizations a user is live in.
type Memberships interface {
	ActiveOrgIDsForUser(ctx context.Context, userID string) ([]string, error)
}

// Registrar creates password-backed users.
type Registrar interface {
	Register(ctx context.Context, reg credentials.Registration) (string, error)
}

type Handler struct {
	sessions  SessionAuthority
	members   Memberships
	guard     *middleware.Guard
	providers *provider.Registry
	resolver  resolver.Resolver
	registrar Registrar
	cookies   session.CookieOptions
}

func NewHandler(
	sessions SessionAuthority,
	members Memberships,
	guard *middleware.Guard,
	registry *provider.Registry,
	resolver resolver.Resolver,
	registrar Registrar,
	cookies session.CookieOptions,
) *Handler {
	if registry == nil {
		registry = provider.NewRegistry()
	}
	return &Handler{
		sessions:  sessions,
		members:   members,
		guard:     guard,
		providers: registry,
		resolver:  resolver,
		registrar: registrar,
		cookies:   cookies,
	}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/session", h.Login)
	r.GET("/session", h.CurrentSession)
	r.DELETE("/session", h.Logout)
	r.POST("/session/refresh", h.Refresh)
	r.POST("/session/organization", h.SwitchOrganization)

	r.GET("/oauth/login/:provider", h.oauthLogin)
	r.GET("/oauth/callback/:provider", h.oauthCallback)

	if h.registrar != nil {
		r.POST("/auth/register", h.Register)
	}

	r.DELETE("/users/:id/sessions",
		middleware.GinRequirePermission(h.guard, PermissionRevokeSessions),
		h.RevokeUserSessions,
	)
}

func (h *Handler) oauthLogin(c *gin.Context) {
	providerName := c.Param("provider")

	p, err := h.providers.Get(providerName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unknown oauth provider",
		})
		return
	}

	state, err := h.generateState(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start login"})
		return
	}
	_, codeChallenge, err := h.generatePKCE(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start login"})
		return
	}

	authURL := p.AuthCodeURL(state, codeChallenge)
	c.Redirect(http.StatusFound, authURL)
}

func (h *Handler) oauthCallback(c *gin.Context) {
	providerName := c.Param("provider")

	p, err := h.providers.Get(providerName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unknown oauth provider",
		})
		return
	}

	if !validateState(c) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "invalid state",
		})
		return
	}

	if errParam := c.Query("error"); errParam != "" {
		logger.Warn("oidc callback returned error", map[string]any{
			"provider": providerName,
			"error":    errParam,
			"desc":     c.Query("error_description"),
		})

		// Start a fresh flow rather than surfacing provider errors.
		c.Redirect(http.StatusFound, "/login")
		return
	}

	code := c.Query("code")
	if code == "" {
		logger.Error("oidc callback missing code and error", nil)
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	codeVerifier := getPKCEVerifier(c)
	if codeVerifier == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "missing pkce verifier",
		})
		return
	}

	identity, err := p.ExchangeCode(
		c.Request.Context(),
		code,
		codeVerifier,
	)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "authentication failed",
		})
		return
	}

	userID, err := h.resolver.Resolve(c.Request.Context(), identity)
	if err != nil {
		logger.Error("identity resolution failed", map[string]any{
			"provider": providerName,
			"error":    err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to resolve user",
		})
		return
	}

	view, err := h.sessions.CreateForUser(c.Request.Context(), userID, authority.SessionOptions{
		LoginMethod: "oidc:" + providerName,
		Device: authority.Device{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		},
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	h.issueCookies(c, view)
	c.JSON(http.StatusOK, view)
}

// issueCookies hands both tokens to browser clients.
func (h *Handler) issueCookies(c *gin.Context, view *authority.View) {
	session.SetCookie(c.Writer, view.SessionToken, view.ExpiresAt, h.cookies)
	if view.RefreshToken != "" {
		session.SetRefreshCookie(c.Writer, view.RefreshToken, view.ExpiresAt, h.cookies)
	}
}

// abortWithError writes the JSON error body for err and stops the chain.
func abortWithError(c *gin.Context, err error) {
	status := authority.StatusOf(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", map[string]any{
			"path":  c.FullPath(),
			"error": err.Error(),
		})
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error":   authority.CodeOf(err),
		"message": authority.MessageOf(err),
	})
}
