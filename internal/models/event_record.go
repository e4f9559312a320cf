package models

import "time"

// EventRecord persists one entry of the bounded event stream for the
// dashboard and notification digest.
type EventRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Kind      string    `gorm:"size:32;index;not null"`
	AccountID string    `gorm:"size:32;index"`
	SessionID string    `gorm:"size:64"`
	Message   string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
}

// ControlRequest is a control command written by the CLI and consumed by
// the daemon's coordinator, one row per command.
type ControlRequest struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	UserID    string `gorm:"size:64;not null"`
	Command   string `gorm:"size:24;not null"` // start, stop, pause, resume, publish-now, retry-failed, emergency-stop
	AccountID string `gorm:"size:32"`
	PostID    string `gorm:"size:32"`
	Force     bool   `gorm:"default:false"`
	Applied   bool   `gorm:"default:false;index"`
	Result    string `gorm:"type:text"`
	CreatedAt time.Time
}
