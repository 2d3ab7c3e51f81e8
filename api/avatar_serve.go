package api

import (
	"errors"
	"io"
	"net/http"

	"contacts-api/storage"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AvatarServe streams a stored avatar straight from the storage
// backend
func (a *API) AvatarServe(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)

	name := c.Param("name")
	if name == "" {
		fail(c, http.StatusBadRequest, codeValidationFailed, "No avatar name provided")
		return
	}

	rc, err := a.Store.Open(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			fail(c, http.StatusNotFound, codeNotFound, "Not found")
			return
		}

		internalError(c)

		zap.L().Error("Failed to open stored avatar", zap.Error(err), zap.String("requestID", requestID))
		return
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		internalError(c)

		zap.L().Error("Failed to read stored avatar", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	c.Data(http.StatusOK, "image/jpeg", data)
}
