package dashboard

import (
	"time"

	"gorm.io/gorm"

	"github.com/postpilot/postpilot/internal/models"
)

// JobFilters narrows the job list.
type JobFilters struct {
	AccountID string
	Status    string
	Limit     int
}

// JobRow holds post data for display.
type JobRow struct {
	ID          string     `json:"id"`
	AccountID   string     `json:"account_id"`
	Caption     string     `json:"caption,omitempty"`
	Status      string     `json:"status"`
	Priority    int        `json:"priority"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	ExternalURL string     `json:"external_url,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// JobList returns posts matching filters, newest first.
func JobList(db *gorm.DB, filters JobFilters) ([]JobRow, error) {
	q := db.Model(&models.Post{})
	if filters.AccountID != "" {
		q = q.Where("account_id = ?", filters.AccountID)
	}
	if filters.Status != "" {
		q = q.Where("status = ?", filters.Status)
	}
	limit := filters.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var posts []models.Post
	if err := q.Order("created_at DESC").Limit(limit).Find(&posts).Error; err != nil {
		return nil, err
	}

	rows := make([]JobRow, len(posts))
	for i, p := range posts {
		rows[i] = JobRow{
			ID:          p.ID,
			AccountID:   p.AccountID,
			Caption:     p.Caption,
			Status:      p.Status,
			Priority:    p.Priority,
			Attempts:    p.Attempts,
			LastError:   p.LastError,
			ExternalURL: p.ExternalURL,
			ScheduledAt: p.ScheduledAt,
			PublishedAt: p.PublishedAt,
			CreatedAt:   p.CreatedAt,
		}
	}
	return rows, nil
}

// AccountRow holds account data for display. Credentials are never exposed.
type AccountRow struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Status    string `json:"status"`
	ProfileID string `json:"profile_id,omitempty"`
	Pending   int64  `json:"pending_posts"`
	Published int64  `json:"published_posts"`
}

// AccountList returns all accounts with per-account post counts.
func AccountList(db *gorm.DB) ([]AccountRow, error) {
	var accounts []models.Account
	if err := db.Order("created_at ASC").Find(&accounts).Error; err != nil {
		return nil, err
	}

	rows := make([]AccountRow, len(accounts))
	for i, a := range accounts {
		rows[i] = AccountRow{
			ID:        a.ID,
			UserID:    a.UserID,
			Username:  a.Username,
			Status:    a.Status,
			ProfileID: a.ProfileID,
		}
		db.Model(&models.Post{}).
			Where("account_id = ? AND status = ?", a.ID, models.PostScheduled).
			Count(&rows[i].Pending)
		db.Model(&models.Post{}).
			Where("account_id = ? AND status = ?", a.ID, models.PostPublished).
			Count(&rows[i].Published)
	}
	return rows, nil
}
