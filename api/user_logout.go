package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UserLogout revokes the session token the request was
// authenticated with. Revoking the same token again is a no-op at
// the ledger, so repeated logouts stay harmless.
func (a *API) UserLogout(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)
	raw := c.MustGet("authToken").(string)

	if err := a.Ledger.Revoke(raw); err != nil {
		internalError(c)

		zap.L().Error("Failed to revoke session token", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	c.Status(http.StatusNoContent)
}
