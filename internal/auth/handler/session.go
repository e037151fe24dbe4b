package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"dashboard-auth/internal/authority"
	"dashboard-auth/internal/logger"
	"dashboard-auth/internal/membership"
	"dashboard-auth/internal/middleware"
	"dashboard-auth/internal/session"

	"github.com/gin-gonic/gin"
)

func (h *Handler) requireToken(c *gin.Context) (string, bool) {
	token := h.guard.TokenFromRequest(c.Request)
	if token == "" {
		abortWithError(c, authority.NewError(authority.CodeSessionNotFound, "missing session token"))
		return "", false
	}
	return token, true
}

// CurrentSession is GET /session.
func (h *Handler) CurrentSession(c *gin.Context) {
	token, ok := h.requireToken(c)
	if !ok {
		return
	}

	view, err := h.sessions.Profile(c.Request.Context(), token)
	if err != nil {
		// a failed validation is always an authentication failure
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":   authority.CodeOf(err),
			"message": authority.MessageOf(err),
		})
		return
	}

	view.RefreshToken = ""
	c.JSON(http.StatusOK, view)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh is POST /session/refresh. The token comes from the body, or the
// refresh cookie when the body has none.
func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		abortWithError(c, authority.NewError(authority.CodeInvalidRequest, "invalid request body"))
		return
	}

	token := req.RefreshToken
	if token == "" {
		if cookie, err := c.Request.Cookie(session.RefreshCookieName); err == nil {
			token = cookie.Value
		}
	}
	if token == "" {
		abortWithError(c, authority.NewError(authority.CodeInvalidRefreshToken, "refresh token is required"))
		return
	}

	view, err := h.sessions.Refresh(c.Request.Context(), token)
	if err != nil {
		abortWithError(c, err)
		return
	}

	h.issueCookies(c, view)
	c.JSON(http.StatusOK, view)
}

type switchRequest struct {
	OrganizationID string `json:"organizationId"`
}

// SwitchOrganization is POST /session/organization.
func (h *Handler) SwitchOrganization(c *gin.Context) {
	token, ok := h.requireToken(c)
	if !ok {
		return
	}

	var req switchRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		abortWithError(c, authority.NewError(authority.CodeInvalidRequest, "invalid request body"))
		return
	}
	if req.OrganizationID == "" {
		abortWithError(c, authority.NewError(authority.CodeInvalidRequest, "organizationId is required"))
		return
	}

	view, err := h.sessions.SwitchOrganization(c.Request.Context(), token, req.OrganizationID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	view.RefreshToken = ""
	c.JSON(http.StatusOK, view)
}

// Logout is DELETE /session. Revocation is best-effort; the client is
// always logged out.
func (h *Handler) Logout(c *gin.Context) {
	token, ok := h.requireToken(c)
	if !ok {
		return
	}

	if err := h.sessions.Revoke(c.Request.Context(), token); err != nil {
		logger.Warn("logout revoke failed", map[string]any{
			"token": logger.TokenHint(token),
			"code":  authority.CodeOf(err),
			"ip":    c.ClientIP(),
		})
	}

	session.ClearCookies(c.Writer, h.cookies)
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

// RevokeUserSessions is DELETE /users/:id/sessions, for administrators.
// The target must be a live member of the caller's current organization.
func (h *Handler) RevokeUserSessions(c *gin.Context) {
	userID := c.Param("id")

	caller, ok := middleware.GinSession(c)
	if !ok {
		abortWithError(c, authority.NewError(authority.CodeSessionNotFound, "missing session"))
		return
	}

	orgs, err := h.members.ActiveOrgIDsForUser(c.Request.Context(), userID)
	if err != nil {
		abortWithError(c, fmt.Errorf("membership lookup for %s: %w", userID, err))
		return
	}
	if caller.CurrentOrgID == session.NoOrganization || !membership.Contains(orgs, caller.CurrentOrgID) {
		logger.Warn("cross-organization session revoke denied", map[string]any{
			"actor_id": caller.UserID,
			"org_id":   caller.CurrentOrgID,
			"user_id":  userID,
		})
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   middleware.CodeForbidden,
			"message": "user is not a member of the current organization",
		})
		return
	}

	n, err := h.sessions.RevokeAllForUser(c.Request.Context(), userID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	logger.Info("admin revoked user sessions", map[string]any{
		"actor_id": caller.UserID,
		"org_id":   caller.CurrentOrgID,
		"user_id":  userID,
		"count":    n,
	})
	c.JSON(http.StatusOK, gin.H{"revoked": n})
}
