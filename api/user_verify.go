package api

import (
	"errors"
	"net/http"

	"contacts-api/model"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// UserVerify flips an account to verified from the token in its
// mailed link. The stored token is cleared in the same update, so
// presenting the link a second time comes back as not found.
func (a *API) UserVerify(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)

	token := c.Param("token")

	var user model.User

	// The cleared sentinel is the empty string, requiring a
	// non-empty match keeps used links unusable
	err := a.DB.
		Where("verification_token = ? AND verification_token <> ''", token).
		First(&user).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, http.StatusNotFound, codeNotFound, "Not found")
			return
		}

		internalError(c)

		zap.L().Error("Failed to look up verification token", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	err = a.DB.
		Model(model.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]any{
			"verified":           true,
			"verification_token": "",
		}).
		Error
	if err != nil {
		internalError(c)

		zap.L().Error("Failed to mark account verified", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"verified": true,
		"message":  "Verification successful",
	})
}
