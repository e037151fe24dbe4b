package handler

import (
	"errors"
	"net/http"

	"dashboard-auth/internal/auth/credentials"
	"dashboard-auth/internal/logger"

	"github.com/gin-gonic/gin"
)

type registerRequest struct {
	Email       string `json:"email"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

// Register is POST /auth/register. It creates the account only: a new user
// belongs to no organization, so no session is issued.
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": "invalid request body"})
		return
	}

	userID, err := h.registrar.Register(c.Request.Context(), credentials.Registration{
		Email:       req.Email,
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Password:    req.Password,
	})

	switch {
	case err == nil:
	case errors.Is(err, credentials.ErrAlreadyRegistered):
		c.JSON(http.StatusConflict, gin.H{"error": "ALREADY_REGISTERED", "message": "account already exists"})
		return
	case errors.Is(err, credentials.ErrInvalidEmail), errors.Is(err, credentials.ErrPasswordTooShort):
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": err.Error()})
		return
	default:
		logger.Error("registration failed", map[string]any{"error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "message": "registration failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"userId": userID})
}
