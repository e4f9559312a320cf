package coordinator

import (
	"fmt"
	"time"

	"github.com/postpilot/postpilot/internal/breaker"
	"github.com/postpilot/postpilot/internal/session"
)

// Status is the aggregate control-surface snapshot. Computed from in-memory
// state only; never blocks on a remote call.
type Status struct {
	Running         bool               `json:"running"`
	Paused          bool               `json:"paused"`
	ActiveSessions  int                `json:"active_sessions"`
	ActiveProfiles  int                `json:"active_profiles"`
	QueueDepth      int                `json:"queue_depth"`
	CompletedToday  int                `json:"completed_today"`
	FailedToday     int                `json:"failed_today"`
	UptimeSeconds   int64              `json:"uptime_seconds"`
	Sessions        []session.Snapshot `json:"sessions"`
	SlotsInUse      int                `json:"slots_in_use"`
	SlotCapacity    int                `json:"slot_capacity"`
	SessionCapacity int                `json:"session_capacity"`
}

// GetStatus returns the aggregate snapshot in O(active sessions).
func (c *Coordinator) GetStatus() Status {
	c.mu.Lock()
	snaps := make([]session.Snapshot, 0, len(c.sessions))
	for _, sess := range c.sessions {
		snaps = append(snaps, sess.Snapshot())
	}
	c.mu.Unlock()

	st := Status{
		UptimeSeconds:   int64(time.Since(c.startedAt).Seconds()),
		Sessions:        snaps,
		SlotsInUse:      len(c.slots),
		SlotCapacity:    cap(c.slots),
		SessionCapacity: c.opts.MaxSessions,
	}
	allPaused := true
	for _, snap := range snaps {
		if snap.State.Terminal() {
			continue
		}
		st.ActiveSessions++
		st.QueueDepth += snap.QueueDepth
		st.CompletedToday += snap.CompletedToday
		st.FailedToday += snap.FailedToday
		if snap.ProfileID != "" {
			st.ActiveProfiles++
		}
		if snap.State != session.StatePaused {
			allPaused = false
		}
	}
	st.Running = st.ActiveSessions > 0
	st.Paused = st.Running && allPaused
	return st
}

// SessionHealth is one session's contribution to the health report.
type SessionHealth struct {
	SessionID   string `json:"session_id"`
	AccountID   string `json:"account_id"`
	State       string `json:"state"`
	HealthScore int    `json:"health_score"`
}

// Health is the aggregate health report: breaker states, guard rails, and
// per-session scores.
type Health struct {
	Healthy  bool            `json:"healthy"`
	Issues   []string        `json:"issues"`
	Breakers []breaker.Stats `json:"breakers"`
	Sessions []SessionHealth `json:"sessions"`
}

const unhealthyScore = 40

// GetHealth combines breaker states, the session-count guard, and
// per-session health scores.
func (c *Coordinator) GetHealth() Health {
	h := Health{Healthy: true, Breakers: c.breakers.AllStats()}

	for _, stats := range h.Breakers {
		if stats.State != breaker.Closed {
			h.Healthy = false
			h.Issues = append(h.Issues, fmt.Sprintf("dependency %s circuit is %s", stats.Name, stats.State))
		}
	}

	c.mu.Lock()
	active := 0
	for _, sess := range c.sessions {
		snap := sess.Snapshot()
		if !snap.State.Terminal() {
			active++
		}
		h.Sessions = append(h.Sessions, SessionHealth{
			SessionID:   snap.ID,
			AccountID:   snap.AccountID,
			State:       string(snap.State),
			HealthScore: snap.HealthScore,
		})
		if !snap.State.Terminal() && snap.HealthScore < unhealthyScore {
			h.Healthy = false
			h.Issues = append(h.Issues,
				fmt.Sprintf("session %s health score %d", snap.ID, snap.HealthScore))
		}
	}
	c.mu.Unlock()

	if active >= c.opts.MaxSessions {
		h.Healthy = false
		h.Issues = append(h.Issues,
			fmt.Sprintf("session limit reached (%d/%d); new starts are rejected", active, c.opts.MaxSessions))
	}
	return h
}
