package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nomisafe/backend/internal/services"
)

// otpFailureMessage is the single body returned for every verification
// failure: never requested, expired, consumed, wrong code, or attempts
// exhausted. Distinguishing them would hand out enumeration signals.
const otpFailureMessage = "Invalid or expired OTP"

type AuthHandler struct {
	authService *services.AuthService
}

func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// RequestOTP issues a verification code for a phone number
func (h *AuthHandler) RequestOTP(c *gin.Context) {
	var req struct {
		PhoneNumber string `json:"phone_number" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone_number is required"})
		return
	}

	phone, err := h.authService.RequestOTP(c.Request.Context(), req.PhoneNumber)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidPhoneNumber):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid phone number format"})
		case errors.Is(err, services.ErrResendCooldown):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "An OTP was recently sent, please wait before retrying"})
		case errors.Is(err, services.ErrDelivery):
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to deliver OTP, please try again"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"phone_number": phone})
}

// VerifyOTP exchanges a valid code for a token pair
func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	var req struct {
		PhoneNumber string `json:"phone_number" binding:"required"`
		OTP         string `json:"otp" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone_number and otp are required"})
		return
	}

	user, pair, err := h.authService.VerifyOTP(c.Request.Context(), req.PhoneNumber, req.OTP)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNoActiveOTP),
			errors.Is(err, services.ErrInvalidCode),
			errors.Is(err, services.ErrAttemptsExhausted):
			c.JSON(http.StatusBadRequest, gin.H{"error": otpFailureMessage})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":      user.ID,
		"phone_number": user.PhoneNumber,
		"access":       pair.AccessToken,
		"refresh":      pair.RefreshToken,
	})
}

// RefreshToken handles token refresh
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req struct {
		Refresh string `json:"refresh" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refresh is required"})
		return
	}

	accessToken, err := h.authService.RefreshAccessToken(c.Request.Context(), req.Refresh)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid refresh token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"access": accessToken})
}

// Logout revokes the caller's tokens
func (h *AuthHandler) Logout(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	accessToken := c.GetString("accessToken")
	if err := h.authService.Logout(c.Request.Context(), userID.(uuid.UUID), accessToken); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to logout"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Logout successful"})
}

// Me returns the authenticated user
func (h *AuthHandler) Me(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	user, err := h.authService.GetUserByID(c.Request.Context(), userID.(uuid.UUID))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":           user.ID,
		"phone_number": user.PhoneNumber,
		"is_active":    user.IsActive,
		"created_at":   user.CreatedAt,
	})
}
