package session

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/postpilot/postpilot/internal/events"
	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/internal/provider"
	"github.com/postpilot/postpilot/internal/queue"
)

// stopWait bounds how long Stop waits for the run loop to settle.
const stopWait = 60 * time.Second

// Pause freezes the scheduler without releasing the provisioned profile.
// Valid only while Publishing.
func (s *Session) Pause() error {
	s.mu.Lock()
	if s.state != StatePublishing {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("session: cannot pause from %s", state)
	}
	s.paused = true
	s.state = StatePaused
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.deps.Bus.Publish(events.Event{
		Kind: events.SessionPaused, AccountID: s.AccountID, SessionID: s.ID,
		Message: "session paused",
	})
	s.persistCounters()
	return nil
}

// Resume re-arms the scheduler. Valid only while Paused.
func (s *Session) Resume() error {
	s.mu.Lock()
	if s.state != StatePaused {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("session: cannot resume from %s", state)
	}
	s.paused = false
	s.state = StatePublishing
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.deps.Bus.Publish(events.Event{
		Kind: events.SessionResumed, AccountID: s.AccountID, SessionID: s.ID,
		Message: "session resumed",
	})
	s.persistCounters()
	return nil
}

func (s *Session) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Stop terminates the session. Graceful stop lets an in-flight publish
// finish and drains timers; force skips draining, evicts the queue, and
// abandons in-flight work. Returns cumulative completed and cancelled
// counts.
func (s *Session) Stop(force bool) (completed, cancelled int, err error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return 0, 0, fmt.Errorf("session: no active session")
	}
	s.state = StateStopping
	s.stopRequested = true
	cancel := s.cancel
	s.mu.Unlock()

	if force {
		// Evict queued work before interrupting the loop so nothing fires
		// in between.
		cancelled = s.evictQueue(true)
		if cancel != nil {
			cancel()
		}
	} else {
		s.requestStop()
	}

	select {
	case <-s.done:
	case <-time.After(stopWait):
		log.Printf("session %s: stop wait timed out", s.ID)
	}

	s.mu.Lock()
	completed = s.completed
	s.mu.Unlock()
	if !force {
		cancelled = s.lastCancelCount()
	}
	return completed, cancelled, nil
}

// requestStop signals the loop to exit gracefully. Safe to call more than
// once.
func (s *Session) requestStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

// evictQueue clears pending jobs, optionally recording them as cancelled in
// the store, and remembers the count for Stop's result.
func (s *Session) evictQueue(markCancelled bool) int {
	pending := s.queue.Pending()
	n := s.queue.Clear()
	if markCancelled {
		for _, j := range pending {
			if err := s.deps.Store.MarkCancelled(j.PostID); err != nil {
				log.Printf("session %s: mark cancelled %s: %v", s.ID, j.PostID, err)
			}
		}
	}
	s.mu.Lock()
	s.cancelCount += n
	s.mu.Unlock()
	return n
}

func (s *Session) lastCancelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelCount
}

// finalizeStop settles the session after the run loop exits. Sessions that
// already reached Error or Blocked keep that state.
func (s *Session) finalizeStop() {
	s.mu.Lock()
	if s.state == StateError || s.state == StateBlocked {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	s.mu.Unlock()

	// Drain remaining timers; jobs stay "scheduled" in the store so a fresh
	// start can pick them up.
	s.evictQueue(false)
	s.releaseProfile()

	s.mu.Lock()
	s.state = StateStopped
	completed, failed := s.completed, s.failed
	s.mu.Unlock()

	if err := s.deps.Store.CloseSessionRecord(s.ID, string(StateStopped), "stopped"); err != nil {
		log.Printf("session %s: close record: %v", s.ID, err)
	}
	s.deps.Bus.Publish(events.Event{
		Kind: events.SessionStopped, AccountID: s.AccountID, SessionID: s.ID,
		Message: fmt.Sprintf("session stopped (%d published, %d failed)", completed, failed),
	})
	fmt.Fprintf(s.deps.Out, "Session %s: stopped (%d published, %d failed)\n", s.ID, completed, failed)
}

// InjectJob enqueues a job immediately, bypassing the eligibility planner.
// Used by publish-now.
func (s *Session) InjectJob(post *models.Post, priority int) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != StatePublishing && state != StatePaused {
		return fmt.Errorf("session: cannot inject job from %s", state)
	}

	s.queue.Schedule(&queue.Job{
		PostID:       post.ID,
		AccountID:    s.AccountID,
		MediaLocator: post.MediaLocator,
		Caption:      post.Caption,
		Location:     post.Location,
		Priority:     priority,
		ScheduledAt:  time.Now(),
		Attempts:     post.Attempts,
		Injected:     true,
	})
	return nil
}

// ForceBlocked moves the session to the absorbing Blocked state and
// triggers an automatic stop. Blocked sessions are never auto-restarted.
func (s *Session) ForceBlocked(reason string) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = StateBlocked
	s.stateReason = reason
	s.healthScore = 0
	s.mu.Unlock()

	if err := s.deps.Store.SetAccountStatus(s.AccountID, models.AccountBlocked); err != nil {
		log.Printf("session %s: mark account blocked: %v", s.ID, err)
	}
	if err := s.deps.Store.CloseSessionRecord(s.ID, string(StateBlocked), reason); err != nil {
		log.Printf("session %s: close record: %v", s.ID, err)
	}

	s.evictQueue(false)
	s.releaseProfile()
	s.requestStop()

	s.deps.Bus.Publish(events.Event{
		Kind: events.AccountBlocked, AccountID: s.AccountID, SessionID: s.ID, Message: reason,
	})
	fmt.Fprintf(s.deps.Out, "Session %s: account blocked: %s\n", s.ID, reason)
}

// RecoverProfile restarts a dead remote profile without leaving Publishing
// from the caller's perspective. Called by the health monitor.
func (s *Session) RecoverProfile(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StatePublishing && s.state != StatePaused {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("session: cannot recover profile from %s", state)
	}
	profileID := s.profileID
	s.mu.Unlock()
	if profileID == "" {
		return fmt.Errorf("session: no profile to recover")
	}

	release, err := s.acquireSlot(ctx)
	if err != nil {
		return err
	}
	defer release()

	br := s.deps.Breakers.Get(provider.DepProvisioner)
	if err := br.Execute(func() error { return s.deps.Provisioner.StopProfile(ctx, profileID) }); err != nil {
		log.Printf("session %s: recovery stop profile: %v", s.ID, err)
	}

	var handle provider.SessionHandle
	err = br.Execute(func() error {
		var startErr error
		handle, startErr = s.deps.Provisioner.StartProfile(ctx, profileID)
		return startErr
	})
	if err != nil {
		return fmt.Errorf("session: recovery start profile: %w", err)
	}

	s.mu.Lock()
	s.handle = handle
	s.lastActivity = time.Now()
	s.mu.Unlock()
	fmt.Fprintf(s.deps.Out, "Session %s: profile %s recovered\n", s.ID, profileID)
	return nil
}

// Reauthenticate restores the platform session after a dead login without
// leaving Publishing. Called by the health monitor.
func (s *Session) Reauthenticate(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StatePublishing && s.state != StatePaused {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("session: cannot reauthenticate from %s", state)
	}
	s.mu.Unlock()

	release, err := s.acquireSlot(ctx)
	if err != nil {
		return err
	}
	defer release()

	br := s.deps.Breakers.Get(provider.DepPublisher)

	// Try a cheap session restore first; fall back to a full login.
	var restored bool
	if err := br.Execute(func() error {
		var restoreErr error
		restored, restoreErr = s.deps.Publisher.RestoreSession(ctx, s.currentHandle())
		return restoreErr
	}); err == nil && restored {
		return nil
	}

	creds := provider.Credentials{Username: s.account.Username, Password: s.account.Password}
	var result provider.LoginResult
	err = br.Execute(func() error {
		var loginErr error
		result, loginErr = s.deps.Publisher.Login(ctx, s.currentHandle(), creds)
		return loginErr
	})
	if err != nil {
		return fmt.Errorf("session: reauthenticate: %w", err)
	}
	if result.RequiresVerification {
		return &provider.ChallengeError{ChallengeType: result.ChallengeType}
	}
	if !result.Success {
		return fmt.Errorf("%w: %s", provider.ErrInvalidCredentials, result.Error)
	}
	fmt.Fprintf(s.deps.Out, "Session %s: re-authenticated\n", s.ID)
	return nil
}

// AdjustHealth applies a bounded health-score delta. Positive deltas never
// push the score back to exactly 100; only a fresh start does that.
func (s *Session) AdjustHealth(delta int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthScore += delta
	if s.healthScore < 0 {
		s.healthScore = 0
	}
	if s.healthScore > 99 {
		s.healthScore = 99
	}
	return s.healthScore
}
