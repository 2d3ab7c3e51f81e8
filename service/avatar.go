package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"time"

	"contacts-api/model"
	"contacts-api/storage"
	"contacts-api/util"

	_ "image/gif"
	_ "image/png"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	"gorm.io/gorm"
)

// AvatarSize is the canonical square every ingested avatar is
// resized to.
const AvatarSize = 250

var ErrAccountNotFound = errors.New("account not found")

// AvatarPipeline moves an uploaded image from its temporary location
// into durable storage, transforms it and commits the result onto
// the account. Each step has a defined compensating action:
//
//	locate fails    -> temp file removed
//	relocate fails  -> temp file removed
//	transform fails -> staged original left in place for diagnosis
//	commit fails    -> stored object orphaned (logged)
type AvatarPipeline struct {
	db         *gorm.DB
	store      storage.Storage
	stagingDir string
}

func NewAvatarPipeline(db *gorm.DB, store storage.Storage, stagingDir string) (*AvatarPipeline, error) {
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory, %w", err)
	}

	return &AvatarPipeline{
		db:         db,
		store:      store,
		stagingDir: stagingDir,
	}, nil
}

// Ingest runs the pipeline for a single upload. tempPath must point
// at the uploaded file; ownership of it passes to the pipeline. The
// returned URL is the committed avatar location.
func (p *AvatarPipeline) Ingest(ctx context.Context, userID, tempPath string) (string, error) {
	var user model.User

	err := p.db.Where("id = ?", userID).First(&user).Error
	if err != nil {
		p.discard(tempPath)

		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrAccountNotFound
		}

		return "", fmt.Errorf("failed to load account, %w", err)
	}

	staged := filepath.Join(p.stagingDir, "staged_"+util.RandStr(10))

	if err := os.Rename(tempPath, staged); err != nil {
		p.discard(tempPath)
		return "", fmt.Errorf("failed to relocate upload, %w", err)
	}

	resized, err := transform(staged)
	if err != nil {
		// Leave the staged original behind on purpose so the
		// failure can be diagnosed
		return "", fmt.Errorf("failed to transform image, %w", err)
	}

	finalName := fmt.Sprintf("%s_%d.jpg", userID, time.Now().UnixNano())

	err = p.store.Save(ctx, finalName, bytes.NewReader(resized), int64(len(resized)), "image/jpeg")
	if err != nil {
		return "", fmt.Errorf("failed to store avatar, %w", err)
	}

	p.discard(staged)

	avatarURL := p.store.URL(finalName)

	err = p.db.
		Model(model.User{}).
		Where("id = ?", userID).
		Update("avatar_url", avatarURL).
		Error
	if err != nil {
		zap.L().Error("Avatar stored but account update failed, object orphaned",
			zap.String("object", finalName), zap.String("userID", userID), zap.Error(err))
		return "", fmt.Errorf("failed to commit avatar, %w", err)
	}

	return avatarURL, nil
}

func (p *AvatarPipeline) discard(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		zap.L().Warn("Failed to remove pipeline file", zap.String("path", path), zap.Error(err))
	}
}

func transform(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open staged file, %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image, %w", err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, AvatarSize, AvatarSize))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode image, %w", err)
	}

	return buf.Bytes(), nil
}
