package api

import (
	"errors"
	"net/http"
	"strings"

	"contacts-api/model"
	"contacts-api/validators"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (a *API) UserLogin(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)

	var data credentialsBody
	if err := c.ShouldBindJSON(&data); err != nil {
		fail(c, http.StatusBadRequest, codeInvalidBody, "Invalid request body")
		return
	}

	if err := validators.EmailValidator(data.Email); err != nil {
		fail(c, http.StatusBadRequest, codeValidationFailed, err.Error())
		return
	}

	if err := validators.PasswordValidator(data.Password); err != nil {
		fail(c, http.StatusBadRequest, codeValidationFailed, err.Error())
		return
	}

	email := strings.ToLower(strings.TrimSpace(data.Email))

	var user model.User

	err := a.DB.Where("email = ?", email).First(&user).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			internalError(c)

			zap.L().Error("Failed to look up account", zap.Error(err), zap.String("requestID", requestID))
			return
		}

		// Same failure as a wrong password so callers can't probe
		// which emails are registered
		fail(c, http.StatusUnauthorized, codeInvalidCredentials, "Email or password is wrong")
		return
	}

	ok, err := a.Argon.VerifyPasswd(data.Password, user.PasswordHash)
	if err != nil {
		internalError(c)

		zap.L().Error("Failed to verify password", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	if !ok {
		fail(c, http.StatusUnauthorized, codeInvalidCredentials, "Email or password is wrong")
		return
	}

	if !user.Verified {
		// Courtesy resend of the original token, no rotation
		go func(email, token string) {
			if err := a.Mailer.SendVerification(email, token); err != nil {
				zap.L().Warn("Failed to re-send verification email", zap.Error(err), zap.String("requestID", requestID))
			}
		}(user.Email, user.VerificationToken)

		fail(c, http.StatusUnauthorized, codeNotVerified, "User not verified")
		return
	}

	token, _, err := a.Tokens.Issue(user.ID)
	if err != nil {
		internalError(c)

		zap.L().Error("Failed to issue session token", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":        token,
		"email":        user.Email,
		"subscription": user.Subscription,
	})
}
