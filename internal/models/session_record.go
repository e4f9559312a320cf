package models

import "time"

// SessionRecord is the persisted view of an automation session. The live
// state machine lives in memory; this row survives restarts for audit and
// duplicate-session checks.
type SessionRecord struct {
	ID             string `gorm:"primaryKey;size:64"`
	AccountID      string `gorm:"size:32;index;not null"`
	UserID         string `gorm:"size:64;index;not null"`
	State          string `gorm:"size:24;index"`
	ProfileID      string `gorm:"size:64"`
	TasksCompleted int    `gorm:"default:0"`
	TasksFailed    int    `gorm:"default:0"`
	HealthScore    int    `gorm:"default:100"`
	StoppedReason  string `gorm:"size:256"`
	StartedAt      time.Time
	LastActivity   time.Time `gorm:"index"`
	StoppedAt      *time.Time
}
