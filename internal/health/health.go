// Package health runs the periodic probe loop for active sessions: remote
// profile liveness, platform login state, and account standing. Recoverable
// faults trigger in-place recovery on the session; a banned account force
// blocks it. The monitor also prunes old stopped-session and event rows.
package health

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/postpilot/postpilot/internal/events"
	"github.com/postpilot/postpilot/internal/provider"
	"github.com/postpilot/postpilot/internal/session"
	"github.com/postpilot/postpilot/internal/store"
)

const (
	defaultInterval  = time.Minute
	defaultRetention = 7 * 24 * time.Hour

	penaltyProbeFailed    = 5
	penaltyRecoveryFailed = 15
	rewardProbeHealthy    = 1
)

// SessionLister yields the sessions the monitor should probe.
type SessionLister interface {
	Running() []*session.Session
}

// Options tune the monitor loop.
type Options struct {
	Interval  time.Duration // probe period
	Retention time.Duration // stopped-session and event row retention
}

func (o *Options) applyDefaults() {
	if o.Interval <= 0 {
		o.Interval = defaultInterval
	}
	if o.Retention <= 0 {
		o.Retention = defaultRetention
	}
}

// Monitor probes active sessions on a fixed period.
type Monitor struct {
	store       *store.Store
	provisioner provider.Provisioner
	publisher   provider.PublishAdapter
	sessions    SessionLister
	bus         *events.Bus
	opts        Options
	out         io.Writer
}

// New creates a Monitor. out may be nil.
func New(st *store.Store, prov provider.Provisioner, pub provider.PublishAdapter,
	sessions SessionLister, bus *events.Bus, opts Options, out io.Writer) *Monitor {
	if out == nil {
		out = io.Discard
	}
	opts.applyDefaults()
	return &Monitor{
		store:       st,
		provisioner: prov,
		publisher:   pub,
		sessions:    sessions,
		bus:         bus,
		opts:        opts,
		out:         out,
	}
}

// Run executes the probe loop until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		m.Sweep(ctx)
		m.prune()
	}
}

// Sweep probes every active session once.
func (m *Monitor) Sweep(ctx context.Context) {
	for _, s := range m.sessions.Running() {
		snap := s.Snapshot()
		if snap.State != session.StatePublishing && snap.State != session.StatePaused {
			continue
		}
		m.probeProfile(ctx, s, snap)
		// The session may have gone terminal during profile recovery.
		if s.State().Terminal() {
			continue
		}
		m.probeAccount(ctx, s)
	}
}

// probeProfile verifies the remote browser profile is still alive and
// restarts it in place if not.
func (m *Monitor) probeProfile(ctx context.Context, s *session.Session, snap session.Snapshot) {
	if snap.ProfileID == "" {
		return
	}

	active, err := m.provisioner.CheckStatus(ctx, snap.ProfileID)
	if err != nil {
		m.warn(s, fmt.Sprintf("profile status check failed: %v", err), penaltyProbeFailed)
		return
	}
	if active {
		s.AdjustHealth(rewardProbeHealthy)
		return
	}

	fmt.Fprintf(m.out, "Health: session %s profile %s is down, recovering\n", s.ID, snap.ProfileID)
	if err := s.RecoverProfile(ctx); err != nil {
		m.warn(s, fmt.Sprintf("profile recovery failed: %v", err), penaltyRecoveryFailed)
		return
	}
}

// probeAccount verifies the platform still considers the session logged in
// and the account in good standing.
func (m *Monitor) probeAccount(ctx context.Context, s *session.Session) {
	status, err := m.publisher.CheckAccountStatus(ctx, s.Handle())
	if err != nil {
		m.warn(s, fmt.Sprintf("account status check failed: %v", err), penaltyProbeFailed)
		return
	}

	if status.Banned {
		s.ForceBlocked("platform reports account banned")
		return
	}
	if status.Restricted {
		m.warn(s, "platform reports account restricted", penaltyProbeFailed)
	}
	if !status.LoggedIn {
		fmt.Fprintf(m.out, "Health: session %s logged out, re-authenticating\n", s.ID)
		if err := s.Reauthenticate(ctx); err != nil {
			m.warn(s, fmt.Sprintf("re-authentication failed: %v", err), penaltyRecoveryFailed)
		}
	}
}

func (m *Monitor) warn(s *session.Session, msg string, penalty int) {
	score := s.AdjustHealth(-penalty)
	snap := s.Snapshot()
	m.bus.Publish(events.Event{
		Kind:      events.HealthWarning,
		AccountID: snap.AccountID,
		SessionID: snap.ID,
		Message:   fmt.Sprintf("%s (health %d)", msg, score),
	})
	fmt.Fprintf(m.out, "Health: session %s: %s (score %d)\n", s.ID, msg, score)
}

// prune removes stopped-session and event rows past retention.
func (m *Monitor) prune() {
	cutoff := time.Now().Add(-m.opts.Retention)
	if _, err := m.store.PruneStoppedSessions(cutoff); err != nil {
		log.Printf("health: prune sessions: %v", err)
	}
	m.bus.PruneRecords(cutoff)
}
