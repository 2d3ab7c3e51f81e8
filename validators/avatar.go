package validators

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/viper"
)

var (
	ErrNoFile              = errors.New("no file provided")
	ErrFileTooLarge        = errors.New("file too large")
	ErrFileTypeUnsupported = errors.New("unsupported file type")
)

// AvatarValidator checks an uploaded avatar before it enters the
// ingestion pipeline. The declared Content-Type is checked first
// which is easy to spoof, but faster for legit clients. The actual
// bytes are sniffed afterwards.
func AvatarValidator(fh *multipart.FileHeader) (int, error) {
	if fh == nil {
		return http.StatusBadRequest, ErrNoFile
	}

	ct := fh.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "image/") {
		return http.StatusBadRequest, ErrFileTypeUnsupported
	}

	if fh.Size > viper.GetInt64("upload.max_size") {
		return http.StatusRequestEntityTooLarge, ErrFileTooLarge
	}

	f, err := fh.Open()
	if err != nil {
		return http.StatusInternalServerError, err
	}
	defer f.Close()

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return http.StatusInternalServerError, err
	}

	if !strings.HasPrefix(mt.String(), "image/") {
		return http.StatusBadRequest, ErrFileTypeUnsupported
	}

	return http.StatusOK, nil
}
