package api

import (
	"errors"
	"net/http"

	"contacts-api/model"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (a *API) UserCurrent(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)
	userID := c.MustGet("userID").(string)

	var user model.User

	err := a.DB.Where("id = ?", userID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, http.StatusUnauthorized, codeNotAuthorized, "Not authorized")
			return
		}

		internalError(c)

		zap.L().Error("Failed to fetch account", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"email":        user.Email,
		"subscription": user.Subscription,
	})
}
