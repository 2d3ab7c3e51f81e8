package service

import (
	"contacts-api/model"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RevocationTTL is how long a revoked token stays in the ledger.
// It has to be at least as long as the session TTL so a revoked
// token can never outlive its ledger entry.
const RevocationTTL = 7 * 24 * time.Hour

// RevocationLedger records session tokens invalidated by logout.
// The database is the source of truth; a TTL cache in front of it
// keeps the per-request lookup cheap.
type RevocationLedger struct {
	db    *gorm.DB
	cache *ttlcache.Cache
	ttl   time.Duration
}

func NewRevocationLedger(db *gorm.DB) *RevocationLedger {
	cache := ttlcache.NewCache()
	cache.SetTTL(RevocationTTL)
	cache.SkipTTLExtensionOnHit(true)

	return &RevocationLedger{
		db:    db,
		cache: cache,
		ttl:   RevocationTTL,
	}
}

// Revoke inserts a token into the ledger. Revoking a token that is
// already revoked is a no-op.
func (l *RevocationLedger) Revoke(raw string) error {
	err := l.db.
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.RevokedToken{
			Token:     raw,
			CreatedAt: time.Now(),
		}).
		Error
	if err != nil {
		return fmt.Errorf("failed to insert revocation, %w", err)
	}

	l.cache.Set(raw, struct{}{})
	return nil
}

func (l *RevocationLedger) IsRevoked(raw string) (bool, error) {
	if _, err := l.cache.Get(raw); err == nil {
		return true, nil
	}

	var found bool

	err := l.db.
		Model(model.RevokedToken{}).
		Select("count(*) > 0").
		Where("token = ? AND created_at > ?", raw, time.Now().Add(-l.ttl)).
		Find(&found).
		Error
	if err != nil {
		return false, fmt.Errorf("failed to check revocation, %w", err)
	}

	if found {
		l.cache.Set(raw, struct{}{})
	}

	return found, nil
}

// StartCleanup periodically deletes ledger rows past the retention
// window. Visibility is already bounded by the lookup query, the
// purge only reclaims space.
func (l *RevocationLedger) StartCleanup(t time.Duration) {
	ticker := time.NewTicker(t)

	zap.L().Debug("Revocation cleanup attached", zap.Duration("tick_every", t))

	go func() {
		for range ticker.C {
			err := l.db.
				Where("created_at < ?", time.Now().Add(-l.ttl)).
				Delete(model.RevokedToken{}).
				Error
			if err != nil {
				zap.L().Error("Failed to cleanup revoked tokens", zap.Error(err))
			}
		}
	}()
}
