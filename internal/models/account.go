package models

import "time"

// Account is a platform account under automation control.
type Account struct {
	ID        string `gorm:"primaryKey;size:32"`
	UserID    string `gorm:"size:64;index;not null"`
	Username  string `gorm:"size:128;not null"`
	Password  string `gorm:"size:256"`
	ProfileID string `gorm:"size:64"` // remote browser profile, empty until provisioned
	Status    string `gorm:"size:16;default:active;index"`

	// Per-account scheduling settings.
	DailyQuota       int    `gorm:"default:3"`
	MinIntervalMin   int    `gorm:"default:120"` // minutes between posts
	MaxIntervalMin   int    `gorm:"default:360"`
	WorkingHourStart int    `gorm:"default:9"`
	WorkingHourEnd   int    `gorm:"default:21"`
	MediaFolder      string `gorm:"size:256"` // media source folder reference

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Account status values.
const (
	AccountActive  = "active"
	AccountBlocked = "blocked"
	AccountPaused  = "paused"
)
