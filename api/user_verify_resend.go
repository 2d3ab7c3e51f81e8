package api

import (
	"errors"
	"net/http"
	"strings"

	"contacts-api/model"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type resendBody struct {
	Email string `json:"email"`
}

func (a *API) UserVerifyResend(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)

	var data resendBody
	if err := c.ShouldBindJSON(&data); err != nil || data.Email == "" {
		fail(c, http.StatusBadRequest, codeMissingField, "Missing required field email")
		return
	}

	email := strings.ToLower(strings.TrimSpace(data.Email))

	var user model.User

	err := a.DB.Where("email = ?", email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, http.StatusNotFound, codeNotFound, "User not found")
			return
		}

		internalError(c)

		zap.L().Error("Failed to look up account", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	if user.Verified {
		fail(c, http.StatusBadRequest, codeAlreadyVerified, "Verification has already been passed")
		return
	}

	// The stored token is re-used, not rotated
	go func(email, token string) {
		if err := a.Mailer.SendVerification(email, token); err != nil {
			zap.L().Warn("Failed to re-send verification email", zap.Error(err), zap.String("requestID", requestID))
		}
	}(user.Email, user.VerificationToken)

	c.JSON(http.StatusOK, gin.H{
		"message": "Verification email sent",
	})
}
