package model

import "time"

// Subscription tiers a user can be on. New accounts always start
// on SubscriptionStarter.
const (
	SubscriptionStarter  = "starter"
	SubscriptionPro      = "pro"
	SubscriptionBusiness = "business"
)

type User struct {
	ID           string `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"` // stored lowercased
	PasswordHash string `gorm:"not null"`
	Subscription string `gorm:"default:starter"`
	AvatarURL    string
	Verified     bool `gorm:"default:false"`

	// Cleared to "" once the account is verified so the link
	// can never be replayed
	VerificationToken string `gorm:"index"`

	CreatedAt time.Time
}
