package api

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"contacts-api/service"
	"contacts-api/util"
	"contacts-api/validators"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// AvatarUpload takes a multipart image from the avatar field, parks
// it in a temporary file and hands it to the ingestion pipeline.
func (a *API) AvatarUpload(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)
	userID := c.MustGet("userID").(string)

	if !strings.HasPrefix(c.Request.Header.Get("Content-Type"), "multipart/form-data") {
		fail(c, http.StatusBadRequest, codeInvalidBody, "Expected a multipart upload")
		return
	}

	fh, err := c.FormFile("avatar")
	if err != nil {
		fail(c, http.StatusBadRequest, codeValidationFailed, "No file provided")
		return
	}

	code, err := validators.AvatarValidator(fh)
	if err != nil {
		if code == http.StatusInternalServerError {
			internalError(c)

			zap.L().Error("Failed to validate avatar upload", zap.Error(err), zap.String("requestID", requestID))
			return
		}

		fail(c, code, codeValidationFailed, err.Error())
		return
	}

	tempPath := filepath.Join(viper.GetString("storage.tmp_dir"), "upload_"+util.RandStr(10))

	if err := c.SaveUploadedFile(fh, tempPath); err != nil {
		internalError(c)

		zap.L().Error("Failed to save upload to temp file", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	avatarURL, err := a.Avatars.Ingest(c.Request.Context(), userID, tempPath)
	if err != nil {
		if errors.Is(err, service.ErrAccountNotFound) {
			fail(c, http.StatusUnauthorized, codeNotAuthorized, "Not authorized")
			return
		}

		internalError(c)

		zap.L().Error("Avatar ingestion failed", zap.Error(err), zap.String("userID", userID), zap.String("requestID", requestID))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"avatarURL": avatarURL,
	})
}
