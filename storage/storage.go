// Package storage abstracts where transformed avatars end up so the
// rest of the application doesn't care whether it's a local folder
// or an S3 bucket
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/viper"
)

var ErrNotFound = errors.New("object not found")

type Storage interface {
	// Save writes an object under the given name, overwriting any
	// previous object with that name
	Save(ctx context.Context, name string, r io.Reader, size int64, contentType string) error

	// Open returns a reader for a stored object. Returns ErrNotFound
	// if the object doesn't exist
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Delete removes a stored object
	Delete(ctx context.Context, name string) error

	// URL returns the public URL the object is reachable under
	URL(name string) string
}

// New picks a backend based on the configured storage type
func New() (Storage, error) {
	switch t := viper.GetString("storage.type"); t {
	case "local":
		return NewLocal(viper.GetString("storage.avatar_dir"), viper.GetString("storage.base_url"))
	case "s3":
		return NewS3()
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", t)
	}
}
