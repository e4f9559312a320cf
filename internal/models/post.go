package models

import "time"

// Post is one content item intended for publication.
type Post struct {
	ID           string `gorm:"primaryKey;size:32"`
	AccountID    string `gorm:"size:32;index;not null"`
	MediaLocator string `gorm:"size:512;not null"` // object key or path in the media source
	Caption      string `gorm:"type:text"`
	Location     string `gorm:"size:256"`
	Status       string `gorm:"size:16;default:scheduled;index"`
	Priority     int    `gorm:"default:1"` // 0=low 1=normal 2=high
	ScheduledAt  *time.Time
	Attempts     int    `gorm:"default:0"`
	LastError    string `gorm:"type:text"`
	ExternalURL  string `gorm:"size:512"` // platform post URL once published
	PublishedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Account Account `gorm:"foreignKey:AccountID"`
}

// Post status values.
const (
	PostScheduled = "scheduled"
	PostPublished = "published"
	PostFailed    = "failed"
	PostCancelled = "cancelled"
)

// Post priorities.
const (
	PriorityLow    = 0
	PriorityNormal = 1
	PriorityHigh   = 2
)
