package model

import "time"

// RevokedToken is a session token that was invalidated by a logout
// before its natural expiry. Rows are kept for the retention window
// of the ledger and purged afterwards.
type RevokedToken struct {
	Token     string `gorm:"primaryKey"`
	CreatedAt time.Time
}
