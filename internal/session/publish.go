package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/postpilot/postpilot/internal/breaker"
	"github.com/postpilot/postpilot/internal/events"
	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/internal/provider"
	"github.com/postpilot/postpilot/internal/queue"
	"github.com/postpilot/postpilot/internal/retry"
)

// Conservative platform rate limits, layered over the account's own
// schedule when RespectPlatformLimits is set.
const (
	platformMinInterval = 30 * time.Minute
	platformDailyCap    = 25
)

// publishLoop is the scheduler loop: plan the next job when the queue is
// empty, pop due jobs, and publish them. It exits on stop or cancellation;
// finalizeStop settles the terminal state.
func (s *Session) publishLoop(ctx context.Context) {
	s.setState(StatePublishing, "")
	fmt.Fprintf(s.deps.Out, "Session %s: publishing started\n", s.ID)

	ticker := time.NewTicker(s.settings.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.finalizeStop()
			return
		case <-s.stopCh:
			s.finalizeStop()
			return
		case <-ticker.C:
		}

		if s.isPaused() {
			continue
		}
		if s.State().Terminal() {
			return
		}

		now := time.Now()
		if s.queue.Len() == 0 {
			if err := s.scheduleNext(now); err != nil && !isEligibilityError(err) {
				log.Printf("session %s: plan: %v", s.ID, err)
			}
		}

		job := s.queue.NextReady(now)
		if job == nil {
			continue
		}
		if s.deferOutsideWindow(job, now) {
			continue
		}
		s.publishJob(ctx, job)
	}
}

// deferOutsideWindow re-queues a due job for the next window opening when
// it came due outside the account's working hours. Backoff requeues and
// breaker defers land wherever the clock puts them; the window is enforced
// here, at dispatch. Injected publish-now jobs bypass it.
func (s *Session) deferOutsideWindow(job *queue.Job, now time.Time) bool {
	if job.Injected {
		return false
	}
	w := queue.Window{StartHour: s.account.WorkingHourStart, EndHour: s.account.WorkingHourEnd}
	if w.Contains(now) {
		return false
	}
	job.ScheduledAt = w.NextOpen(now)
	s.queue.Schedule(job)
	fmt.Fprintf(s.deps.Out, "Session %s: post %s deferred to %s (outside working hours)\n",
		s.ID, job.PostID, job.ScheduledAt.Format(time.RFC3339))
	return true
}

// scheduleNext plans and enqueues the account's next publication, if one is
// eligible right now.
func (s *Session) scheduleNext(now time.Time) error {
	posts, err := s.deps.Store.FindByAccount(s.AccountID)
	if err != nil {
		return err
	}

	var next *models.Post
	for i := range posts {
		if !s.queue.HasPending(posts[i].ID) {
			next = &posts[i]
			break
		}
	}
	if next == nil {
		return nil // nothing left to publish
	}

	published, err := s.deps.Store.CountPublishedToday(s.AccountID, now)
	if err != nil {
		return err
	}
	lastSuccess, err := s.deps.Store.LastPublished(s.AccountID)
	if err != nil {
		return err
	}

	minInterval := time.Duration(s.account.MinIntervalMin) * time.Minute
	maxInterval := time.Duration(s.account.MaxIntervalMin) * time.Minute
	quota := s.account.DailyQuota
	if s.settings.RespectPlatformLimits {
		if minInterval < platformMinInterval {
			minInterval = platformMinInterval
		}
		if maxInterval < minInterval {
			maxInterval = minInterval
		}
		if quota <= 0 || quota > platformDailyCap {
			quota = platformDailyCap
		}
	}

	at, err := queue.PlanNext(queue.PlanInput{
		Now:            now,
		PublishedToday: published,
		DailyQuota:     quota,
		Window:         queue.Window{StartHour: s.account.WorkingHourStart, EndHour: s.account.WorkingHourEnd},
		LastSuccess:    lastSuccess,
		MinInterval:    minInterval,
		MaxInterval:    maxInterval,
		HasPending:     false,
	})
	if err != nil {
		return err
	}

	s.queue.Schedule(&queue.Job{
		PostID:       next.ID,
		AccountID:    s.AccountID,
		MediaLocator: next.MediaLocator,
		Caption:      next.Caption,
		Location:     next.Location,
		Priority:     next.Priority,
		ScheduledAt:  at,
		Attempts:     next.Attempts,
	})
	fmt.Fprintf(s.deps.Out, "Session %s: post %s scheduled for %s\n", s.ID, next.ID, at.Format(time.RFC3339))
	return nil
}

// publishJob runs one publish attempt end to end. Attempts for this account
// are strictly serialized by publishMu.
func (s *Session) publishJob(ctx context.Context, job *queue.Job) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	// restart provisions a fresh profile, which takes its own remote-work
	// slot. It must wait until the attempt's slot is back in the pool, or a
	// concurrency ceiling of one deadlocks the fleet.
	if s.attemptPublish(ctx, job) {
		s.restart(ctx)
	}
}

// attemptPublish performs one attempt while holding a remote-work slot. It
// reports whether the session must restart once the slot is released.
func (s *Session) attemptPublish(ctx context.Context, job *queue.Job) bool {
	release, err := s.acquireSlot(ctx)
	if err != nil {
		// Shutting down; put the job back untouched.
		s.queue.Schedule(job)
		return false
	}
	defer release()

	localPath, err := s.fetchMedia(ctx, job.MediaLocator)
	if err != nil {
		return s.handlePublishFailure(job, fmt.Errorf("fetch media: %w", err))
	}

	// A single attempt per pass: per-attempt bookkeeping and backoff live in
	// the queue, not in a nested retry loop.
	var result provider.PublishResult
	err = s.deps.Breakers.Get(provider.DepPublisher).Execute(func() error {
		var pubErr error
		result, pubErr = s.deps.Publisher.Publish(ctx, s.currentHandle(), localPath, job.Caption,
			provider.PublishOpts{Location: job.Location})
		if pubErr != nil {
			return pubErr
		}
		if !result.Success {
			return publishResultError(result)
		}
		return nil
	})

	if err == nil {
		s.handlePublishSuccess(job, result)
		return false
	}
	return s.handlePublishFailure(job, err)
}

// fetchMedia downloads the job's media through the media breaker with
// bounded retries.
func (s *Session) fetchMedia(ctx context.Context, locator string) (string, error) {
	var localPath string
	err := retry.Do(ctx, func() error {
		return s.deps.Breakers.Get(provider.DepMedia).Execute(func() error {
			var fetchErr error
			localPath, fetchErr = s.deps.Media.Fetch(ctx, locator)
			return fetchErr
		})
	}, retry.Options{
		MaxAttempts:  3,
		InitialDelay: 5 * time.Second,
		Multiplier:   2,
		MaxDelay:     time.Minute,
		ShouldRetry:  func(err error) bool { return !provider.IsPermanent(err) },
	})
	return localPath, err
}

func (s *Session) handlePublishSuccess(job *queue.Job, result provider.PublishResult) {
	now := time.Now()
	if err := s.deps.Store.MarkPublished(job.PostID, result.ExternalURL, now); err != nil {
		log.Printf("session %s: mark published %s: %v", s.ID, job.PostID, err)
	}

	s.mu.Lock()
	s.completed++
	s.rollCounterDay(now)
	s.completedToday++
	s.consecFails = 0
	s.lastSuccess = now
	s.lastActivity = now
	if s.healthScore < 99 {
		s.healthScore += 2
		if s.healthScore > 99 {
			s.healthScore = 99
		}
	}
	s.mu.Unlock()
	s.persistCounters()

	s.deps.Bus.Publish(events.Event{
		Kind: events.JobPublished, AccountID: s.AccountID, SessionID: s.ID,
		Message: fmt.Sprintf("post %s published (%s)", job.PostID, result.ExternalURL),
	})
	fmt.Fprintf(s.deps.Out, "Session %s: post %s published\n", s.ID, job.PostID)
}

// handlePublishFailure classifies a failed attempt and reports whether the
// consecutive-failure threshold fired with auto-restart enabled.
func (s *Session) handlePublishFailure(job *queue.Job, err error) bool {
	// Permanent platform block: terminal for the whole session.
	if errors.Is(err, provider.ErrAccountBlocked) {
		s.ForceBlocked("platform reports account blocked")
		return false
	}

	// Breaker open: defer without consuming the job's attempt budget.
	if errors.Is(err, breaker.ErrOpen) {
		job.ScheduledAt = time.Now().Add(s.settings.RetryBaseDelay)
		s.queue.Schedule(job)
		fmt.Fprintf(s.deps.Out, "Session %s: post %s deferred (dependency unavailable)\n", s.ID, job.PostID)
		return false
	}

	now := time.Now()
	job.RecordError(err.Error())

	// Every failed attempt counts toward the consecutive-failure threshold;
	// only a successful publish resets it.
	s.mu.Lock()
	s.consecFails++
	s.lastFailure = now
	s.lastActivity = now
	consec := s.consecFails
	s.mu.Unlock()

	if s.queue.Requeue(job, now, s.settings.RetryBaseDelay, s.settings.RetryMaxDelay, s.settings.MaxPublishAttempts) {
		fmt.Fprintf(s.deps.Out, "Session %s: post %s failed (attempt %d), requeued: %v\n", s.ID, job.PostID, job.Attempts, err)
	} else {
		// Terminal job failure.
		if merr := s.deps.Store.MarkFailed(job.PostID, job.Attempts, err.Error()); merr != nil {
			log.Printf("session %s: mark failed %s: %v", s.ID, job.PostID, merr)
		}

		s.mu.Lock()
		s.failed++
		s.rollCounterDay(now)
		s.failedToday++
		s.healthScore -= 15
		if s.healthScore < 0 {
			s.healthScore = 0
		}
		s.mu.Unlock()

		s.deps.Bus.Publish(events.Event{
			Kind: events.JobFailed, AccountID: s.AccountID, SessionID: s.ID,
			Message: fmt.Sprintf("post %s failed terminally after %d attempts: %v", job.PostID, job.Attempts, err),
		})
		fmt.Fprintf(s.deps.Out, "Session %s: post %s failed terminally: %v\n", s.ID, job.PostID, err)
	}
	s.persistCounters()

	if consec >= s.settings.MaxConsecutiveFailures {
		if s.settings.AutoRestart {
			fmt.Fprintf(s.deps.Out, "Session %s: %d consecutive failures, restarting\n", s.ID, consec)
			s.deps.Bus.Publish(events.Event{
				Kind: events.HealthWarning, AccountID: s.AccountID, SessionID: s.ID,
				Message: fmt.Sprintf("restarting after %d consecutive failures", consec),
			})
			return true
		}
		fmt.Fprintf(s.deps.Out, "Session %s: %d consecutive failures, stopping\n", s.ID, consec)
		s.requestStop()
	}
	return false
}

// restart performs a full internal restart: release the profile, provision
// a fresh one, and re-authenticate. Failure aborts the session.
func (s *Session) restart(ctx context.Context) {
	s.releaseProfile()
	s.mu.Lock()
	s.consecFails = 0
	s.mu.Unlock()

	if err := s.provisionProfile(ctx); err != nil {
		s.abort("restart: profile provisioning failed: " + err.Error())
		return
	}
	if err := s.authenticate(ctx); err != nil {
		s.abortAuth(err)
		return
	}
	s.setState(StatePublishing, "")
}

// persistCounters writes the live counters under the current state.
func (s *Session) persistCounters() {
	s.mu.Lock()
	state, completed, failed, score := s.state, s.completed, s.failed, s.healthScore
	s.mu.Unlock()
	if err := s.deps.Store.UpdateCounters(s.ID, string(state), completed, failed, score); err != nil {
		log.Printf("session %s: persist counters: %v", s.ID, err)
	}
}

// publishResultError maps an unsuccessful adapter result to the error
// taxonomy.
func publishResultError(result provider.PublishResult) error {
	switch result.ErrorKind {
	case "blocked", "banned":
		return fmt.Errorf("%w: %s", provider.ErrAccountBlocked, result.Error)
	default:
		return fmt.Errorf("publish rejected: %s", result.Error)
	}
}

// isEligibilityError reports whether err is a normal "not now" planner
// rejection rather than a real failure.
func isEligibilityError(err error) bool {
	return errors.Is(err, queue.ErrQuotaReached) ||
		errors.Is(err, queue.ErrOutsideWindow) ||
		errors.Is(err, queue.ErrTooSoon) ||
		errors.Is(err, queue.ErrAlreadyQueued)
}
