package middleware

import (
	"errors"
	"net/http"
	"strings"

	"contacts-api/model"
	"contacts-api/security"
	"contacts-api/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NewAuthMiddleware authenticates a request from its Authorization
// header. Every failure mode (missing header, revoked, bad
// signature, expired, unknown subject) produces the exact same 401
// so callers can't probe which check failed. The real reason only
// shows up in debug logs.
//
// On success the resolved principal is attached to the context as
// userID, along with the raw token as authToken for logout.
func NewAuthMiddleware(db *gorm.DB, tokens *security.TokenService, ledger *service.RevocationLedger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetString("requestID")

		deny := func(reason string) {
			zap.L().Debug("Request not authorized", zap.String("reason", reason), zap.String("requestID", requestID))

			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":     "not_authorized",
				"message":   "Not authorized",
				"requestID": requestID,
			})
		}

		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			deny("missing or malformed authorization header")
			return
		}

		raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if raw == "" {
			deny("empty bearer token")
			return
		}

		revoked, err := ledger.IsRevoked(raw)
		if err != nil {
			zap.L().Error("Failed to check token revocation", zap.Error(err), zap.String("requestID", requestID))
			deny("revocation check failed")
			return
		}

		if revoked {
			deny("token revoked")
			return
		}

		userID, err := tokens.Verify(raw)
		if err != nil {
			deny("token invalid or expired")
			return
		}

		var user model.User

		err = db.Where("id = ?", userID).First(&user).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				zap.L().Error("Failed to load token subject", zap.Error(err), zap.String("requestID", requestID))
			}

			deny("unknown subject")
			return
		}

		c.Set("userID", userID)
		c.Set("authToken", raw)
		c.Next()
	}
}
