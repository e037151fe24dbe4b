package handler

import (
	"net/http"

	"dashboard-auth/internal/authority"

	"github.com/gin-gonic/gin"
)

// deviceRequest is what the client says about itself. Trust is never taken
// from it.
type deviceRequest struct {
	Fingerprint string `json:"fingerprint"`
	Name        string `json:"name"`
}

type loginRequest struct {
	Identifier     string         `json:"identifier"`
	Secret         string         `json:"secret"`
	OrganizationID string         `json:"organizationId"`
	RememberMe     bool           `json:"rememberMe"`
	Device         *deviceRequest `json:"device"`
}

// Login is POST /session.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, authority.NewError(authority.CodeInvalidRequest, "invalid request body"))
		return
	}
	if req.Identifier == "" || req.Secret == "" {
		abortWithError(c, authority.NewError(authority.CodeInvalidRequest, "identifier and secret are required"))
		return
	}

	device := authority.Device{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
	if req.Device != nil {
		device.Fingerprint = req.Device.Fingerprint
		device.Name = req.Device.Name
	}

	view, err := h.sessions.Create(c.Request.Context(), authority.LoginRequest{
		Identifier:     req.Identifier,
		Secret:         req.Secret,
		OrganizationID: req.OrganizationID,
		RememberMe:     req.RememberMe,
		Device:         device,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	h.issueCookies(c, view)
	c.JSON(http.StatusCreated, view)
}
