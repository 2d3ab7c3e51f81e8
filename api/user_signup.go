package api

import (
	"net/http"
	"strings"

	"contacts-api/model"
	"contacts-api/security"
	"contacts-api/util"
	"contacts-api/validators"

	"github.com/gin-gonic/gin"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

const idCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

type credentialsBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) UserSignup(c *gin.Context) {
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

	var found bool

	r := a.DB.Model(model.User{}).
		Select("count(*) > 0").
		Where("email = ?", email).
		Find(&found)
	if r.Error != nil {
		internalError(c)

		zap.L().Error("Failed to check if account is registered", zap.Error(r.Error), zap.String("requestID", requestID))
		return
	}

	if found {
		fail(c, http.StatusConflict, codeEmailInUse, "Email in use")
		return
	}

	hash, err := a.Argon.GenerateFromPassword(data.Password)
	if err != nil {
		internalError(c)

		zap.L().Error("Failed to hash password", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	userID, err := gonanoid.Generate(idCharset, 16)
	if err != nil {
		internalError(c)

		zap.L().Error("Failed to generate account ID", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	verifToken, err := security.MakeVerificationToken()
	if err != nil {
		internalError(c)

		zap.L().Error("Failed to generate verification token", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	user := model.User{
		ID:                userID,
		Email:             email,
		PasswordHash:      hash,
		Subscription:      model.SubscriptionStarter,
		AvatarURL:         util.GravatarURL(email),
		Verified:          false,
		VerificationToken: verifToken,
	}

	if err := a.DB.Create(&user).Error; err != nil {
		internalError(c)

		zap.L().Error("Failed to create account", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	// Best-effort delivery, a failed send never rolls back the account
	go func() {
		if err := a.Mailer.SendVerification(email, verifToken); err != nil {
			zap.L().Warn("Failed to send verification email", zap.Error(err), zap.String("requestID", requestID))
		}
	}()

	c.JSON(http.StatusCreated, gin.H{
		"email":        user.Email,
		"subscription": user.Subscription,
		"avatarURL":    user.AvatarURL,
	})
}
