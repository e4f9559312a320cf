package store

import (
	"fmt"
	"time"

	"github.com/postpilot/postpilot/internal/models"
)

// CreateSessionRecord persists a new session row.
func (s *Store) CreateSessionRecord(rec *models.SessionRecord) error {
	if err := s.db.Create(rec).Error; err != nil {
		return fmt.Errorf("store: create session %s: %w", rec.ID, err)
	}
	return nil
}

// UpdateCounters writes the session's live counters and state.
func (s *Store) UpdateCounters(sessionID, state string, completed, failed, healthScore int) error {
	if err := s.db.Model(&models.SessionRecord{}).Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"state":           state,
			"tasks_completed": completed,
			"tasks_failed":    failed,
			"health_score":    healthScore,
			"last_activity":   time.Now(),
		}).Error; err != nil {
		return fmt.Errorf("store: update counters %s: %w", sessionID, err)
	}
	return nil
}

// CloseSessionRecord marks the session row stopped with a reason.
func (s *Store) CloseSessionRecord(sessionID, state, reason string) error {
	now := time.Now()
	if err := s.db.Model(&models.SessionRecord{}).Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"state":          state,
			"stopped_reason": reason,
			"stopped_at":     now,
			"last_activity":  now,
		}).Error; err != nil {
		return fmt.Errorf("store: close session %s: %w", sessionID, err)
	}
	return nil
}

// PruneStoppedSessions deletes session rows stopped before cutoff and
// returns the number removed.
func (s *Store) PruneStoppedSessions(cutoff time.Time) (int64, error) {
	result := s.db.Where("stopped_at IS NOT NULL AND stopped_at < ?", cutoff).
		Delete(&models.SessionRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("store: prune sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// PendingControlRequests returns unapplied control commands, oldest first.
func (s *Store) PendingControlRequests() ([]models.ControlRequest, error) {
	var reqs []models.ControlRequest
	if err := s.db.Where("applied = ?", false).Order("created_at ASC").
		Find(&reqs).Error; err != nil {
		return nil, fmt.Errorf("store: pending control requests: %w", err)
	}
	return reqs, nil
}

// SubmitControlRequest writes a control command for the daemon to apply.
func (s *Store) SubmitControlRequest(req *models.ControlRequest) error {
	if err := s.db.Create(req).Error; err != nil {
		return fmt.Errorf("store: submit control request: %w", err)
	}
	return nil
}

// ResolveControlRequest marks a control command applied with its result.
func (s *Store) ResolveControlRequest(id uint, result string) error {
	if err := s.db.Model(&models.ControlRequest{}).Where("id = ?", id).
		Updates(map[string]interface{}{"applied": true, "result": result}).Error; err != nil {
		return fmt.Errorf("store: resolve control request %d: %w", id, err)
	}
	return nil
}
