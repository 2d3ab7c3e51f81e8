package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type LocalStorage struct {
	baseDir string
	baseURL string
}

func NewLocal(baseDir, baseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory, %w", err)
	}

	return &LocalStorage{
		baseDir: baseDir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

func (l *LocalStorage) Save(_ context.Context, name string, r io.Reader, _ int64, _ string) error {
	f, err := os.Create(filepath.Join(l.baseDir, filepath.Base(name)))
	if err != nil {
		return fmt.Errorf("failed to create object file, %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("failed to write object file, %w", err)
	}

	return nil
}

func (l *LocalStorage) Open(_ context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(l.baseDir, filepath.Base(name)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("failed to open object file, %w", err)
	}

	return f, nil
}

func (l *LocalStorage) Delete(_ context.Context, name string) error {
	err := os.Remove(filepath.Join(l.baseDir, filepath.Base(name)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object file, %w", err)
	}

	return nil
}

func (l *LocalStorage) URL(name string) string {
	return l.baseURL + "/avatars/" + filepath.Base(name)
}
