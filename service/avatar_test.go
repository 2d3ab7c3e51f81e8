package service

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"contacts-api/model"
	"contacts-api/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestPipeline(t *testing.T) (*AvatarPipeline, *gorm.DB, string, string) {
	t.Helper()

	db := newTestDB(t)
	require.NoError(t, db.Create(&model.User{
		ID:           "user123",
		Email:        "a@x.com",
		PasswordHash: "hash",
		Subscription: model.SubscriptionStarter,
		AvatarURL:    "https://www.gravatar.com/avatar/x?d=identicon&s=250",
	}).Error)

	avatarDir := filepath.Join(t.TempDir(), "avatars")
	st, err := storage.NewLocal(avatarDir, "")
	require.NoError(t, err)

	stagingDir := filepath.Join(t.TempDir(), "staging")
	p, err := NewAvatarPipeline(db, st, stagingDir)
	require.NoError(t, err)

	return p, db, avatarDir, stagingDir
}

func writeTempPNG(t *testing.T, w, h int) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	path := filepath.Join(t.TempDir(), "upload")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	return path
}

func dirEntries(t *testing.T, dir string) []os.DirEntry {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return entries
}

func TestIngestSuccess(t *testing.T) {
	p, db, avatarDir, stagingDir := newTestPipeline(t)
	tempPath := writeTempPNG(t, 100, 80)

	avatarURL, err := p.Ingest(context.Background(), "user123", tempPath)
	require.NoError(t, err)
	assert.Contains(t, avatarURL, "user123_")

	// Temp and staged files are gone, the final object exists
	assert.NoFileExists(t, tempPath)
	assert.Empty(t, dirEntries(t, stagingDir))

	finals := dirEntries(t, avatarDir)
	require.Len(t, finals, 1)

	f, err := os.Open(filepath.Join(avatarDir, finals[0].Name()))
	require.NoError(t, err)
	defer f.Close()

	img, err := jpeg.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, AvatarSize, img.Bounds().Dx())
	assert.Equal(t, AvatarSize, img.Bounds().Dy())

	var user model.User
	require.NoError(t, db.Where("id = ?", "user123").First(&user).Error)
	assert.Equal(t, avatarURL, user.AvatarURL)
}

func TestIngestBadImageLeavesStagedFile(t *testing.T) {
	p, db, avatarDir, stagingDir := newTestPipeline(t)

	tempPath := filepath.Join(t.TempDir(), "upload")
	require.NoError(t, os.WriteFile(tempPath, []byte("definitely not an image"), 0o644))

	var before model.User
	require.NoError(t, db.Where("id = ?", "user123").First(&before).Error)

	_, err := p.Ingest(context.Background(), "user123", tempPath)
	require.Error(t, err)

	// The staged original stays behind for diagnosis, nothing was
	// stored or committed
	assert.NoFileExists(t, tempPath)
	assert.Len(t, dirEntries(t, stagingDir), 1)
	assert.Empty(t, dirEntries(t, avatarDir))

	var after model.User
	require.NoError(t, db.Where("id = ?", "user123").First(&after).Error)
	assert.Equal(t, before.AvatarURL, after.AvatarURL)
}

func TestIngestRelocationFailure(t *testing.T) {
	p, db, avatarDir, _ := newTestPipeline(t)

	var before model.User
	require.NoError(t, db.Where("id = ?", "user123").First(&before).Error)

	_, err := p.Ingest(context.Background(), "user123", filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)

	assert.Empty(t, dirEntries(t, avatarDir))

	var after model.User
	require.NoError(t, db.Where("id = ?", "user123").First(&after).Error)
	assert.Equal(t, before.AvatarURL, after.AvatarURL)
}

func TestIngestUnknownAccount(t *testing.T) {
	p, _, _, _ := newTestPipeline(t)
	tempPath := writeTempPNG(t, 50, 50)

	_, err := p.Ingest(context.Background(), "nobody", tempPath)
	assert.ErrorIs(t, err, ErrAccountNotFound)

	// Cleanup still ran for the abandoned upload
	assert.NoFileExists(t, tempPath)
}
