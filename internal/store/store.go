// Package store is the persistence collaborator for the automation core.
// The core treats it purely as a key-addressed store: find publishable
// posts, record terminal outcomes, update session counters. No query logic
// leaks past these verbs.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/postpilot/postpilot/internal/models"
	"gorm.io/gorm"
)

// Store wraps a GORM connection with the verbs the core needs.
type Store struct {
	db *gorm.DB
}

// New creates a Store.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection for migration and dashboard queries.
func (s *Store) DB() *gorm.DB { return s.db }

// Account returns the account by id.
func (s *Store) Account(accountID string) (*models.Account, error) {
	var acct models.Account
	if err := s.db.Where("id = ?", accountID).First(&acct).Error; err != nil {
		return nil, fmt.Errorf("store: account %s: %w", accountID, err)
	}
	return &acct, nil
}

// AccountsForUser returns every account owned by the user.
func (s *Store) AccountsForUser(userID string) ([]models.Account, error) {
	var accounts []models.Account
	if err := s.db.Where("user_id = ?", userID).Order("created_at ASC").Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("store: accounts for %s: %w", userID, err)
	}
	return accounts, nil
}

// FindByAccount returns the account's scheduled (publishable) posts,
// oldest first.
func (s *Store) FindByAccount(accountID string) ([]models.Post, error) {
	var posts []models.Post
	if err := s.db.Where("account_id = ? AND status = ?", accountID, models.PostScheduled).
		Order("created_at ASC").Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("store: posts for %s: %w", accountID, err)
	}
	return posts, nil
}

// Post returns the post by id.
func (s *Store) Post(postID string) (*models.Post, error) {
	var post models.Post
	if err := s.db.Where("id = ?", postID).First(&post).Error; err != nil {
		return nil, fmt.Errorf("store: post %s: %w", postID, err)
	}
	return &post, nil
}

// MarkPublished records a terminal published outcome.
func (s *Store) MarkPublished(postID, externalURL string, at time.Time) error {
	result := s.db.Model(&models.Post{}).Where("id = ?", postID).Updates(map[string]interface{}{
		"status":       models.PostPublished,
		"external_url": externalURL,
		"published_at": at,
		"last_error":   "",
	})
	if result.Error != nil {
		return fmt.Errorf("store: mark published %s: %w", postID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("store: post not found: %s", postID)
	}
	return nil
}

// MarkFailed records a terminal failed outcome with the error kind.
func (s *Store) MarkFailed(postID string, attempts int, lastError string) error {
	result := s.db.Model(&models.Post{}).Where("id = ?", postID).Updates(map[string]interface{}{
		"status":     models.PostFailed,
		"attempts":   attempts,
		"last_error": lastError,
	})
	if result.Error != nil {
		return fmt.Errorf("store: mark failed %s: %w", postID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("store: post not found: %s", postID)
	}
	return nil
}

// MarkCancelled records a cancelled outcome (emergency eviction).
func (s *Store) MarkCancelled(postID string) error {
	if err := s.db.Model(&models.Post{}).Where("id = ?", postID).
		Update("status", models.PostCancelled).Error; err != nil {
		return fmt.Errorf("store: mark cancelled %s: %w", postID, err)
	}
	return nil
}

// ResetForRetry moves a terminally failed post back to scheduled with a
// bounded attempt count, so the retry budget across restarts stays finite.
func (s *Store) ResetForRetry(postID string, attempts int) error {
	result := s.db.Model(&models.Post{}).
		Where("id = ? AND status = ?", postID, models.PostFailed).
		Updates(map[string]interface{}{
			"status":   models.PostScheduled,
			"attempts": attempts,
		})
	if result.Error != nil {
		return fmt.Errorf("store: reset for retry %s: %w", postID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("store: post not failed or not found: %s", postID)
	}
	return nil
}

// FailedPosts returns terminally failed posts for the account set (all
// accounts when accountIDs is empty).
func (s *Store) FailedPosts(userID string, accountIDs []string) ([]models.Post, error) {
	q := s.db.Joins("JOIN accounts ON accounts.id = posts.account_id").
		Where("accounts.user_id = ? AND posts.status = ?", userID, models.PostFailed)
	if len(accountIDs) > 0 {
		q = q.Where("posts.account_id IN ?", accountIDs)
	}
	var posts []models.Post
	if err := q.Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("store: failed posts: %w", err)
	}
	return posts, nil
}

// CountPublishedToday counts the account's posts published on now's
// calendar day.
func (s *Store) CountPublishedToday(accountID string, now time.Time) (int, error) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var count int64
	if err := s.db.Model(&models.Post{}).
		Where("account_id = ? AND status = ? AND published_at >= ?", accountID, models.PostPublished, dayStart).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("store: count published today %s: %w", accountID, err)
	}
	return int(count), nil
}

// LastPublished returns the account's most recent successful publish time,
// or zero if none.
func (s *Store) LastPublished(accountID string) (time.Time, error) {
	var post models.Post
	err := s.db.Where("account_id = ? AND status = ?", accountID, models.PostPublished).
		Order("published_at DESC").First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("store: last published %s: %w", accountID, err)
	}
	if post.PublishedAt == nil {
		return time.Time{}, nil
	}
	return *post.PublishedAt, nil
}

// SetAccountStatus updates the account status (e.g. blocked).
func (s *Store) SetAccountStatus(accountID, status string) error {
	if err := s.db.Model(&models.Account{}).Where("id = ?", accountID).
		Update("status", status).Error; err != nil {
		return fmt.Errorf("store: set account status %s: %w", accountID, err)
	}
	return nil
}

// SetAccountProfile records the provisioned profile id for the account.
func (s *Store) SetAccountProfile(accountID, profileID string) error {
	if err := s.db.Model(&models.Account{}).Where("id = ?", accountID).
		Update("profile_id", profileID).Error; err != nil {
		return fmt.Errorf("store: set account profile %s: %w", accountID, err)
	}
	return nil
}
