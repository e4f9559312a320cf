// Package session implements the per-account automation state machine:
// diagnostics, profile provisioning, authentication, queue priming, and the
// publishing loop, with pause/resume/stop/error transitions.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/postpilot/postpilot/internal/breaker"
	"github.com/postpilot/postpilot/internal/events"
	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/internal/provider"
	"github.com/postpilot/postpilot/internal/queue"
	"github.com/postpilot/postpilot/internal/retry"
	"github.com/postpilot/postpilot/internal/store"
)

const (
	defaultPollInterval = 15 * time.Second
	initialHealthScore  = 100
)

// Settings holds the orchestration tunables a session snapshots at start.
type Settings struct {
	MaxPublishAttempts     int
	MaxConsecutiveFailures int
	AutoRestart            bool
	RespectPlatformLimits  bool
	RetryBaseDelay         time.Duration
	RetryMaxDelay          time.Duration
	PollInterval           time.Duration
}

func (s *Settings) applyDefaults() {
	if s.MaxPublishAttempts <= 0 {
		s.MaxPublishAttempts = 3
	}
	if s.MaxConsecutiveFailures <= 0 {
		s.MaxConsecutiveFailures = 5
	}
	if s.RetryBaseDelay <= 0 {
		s.RetryBaseDelay = time.Minute
	}
	if s.RetryMaxDelay <= 0 {
		s.RetryMaxDelay = 15 * time.Minute
	}
	if s.PollInterval <= 0 {
		s.PollInterval = defaultPollInterval
	}
}

// Deps are the collaborators a session needs. Breakers and Slots are shared
// across all sessions; everything else is read-only from the session's view.
type Deps struct {
	Store       *store.Store
	Provisioner provider.Provisioner
	Publisher   provider.PublishAdapter
	Media       provider.MediaSource
	Breakers    *breaker.Registry
	Bus         *events.Bus
	// Slots is the global remote-work semaphore enforcing the concurrency
	// ceiling. A session holds a slot only while performing live remote work.
	Slots chan struct{}
	Out   io.Writer
}

// Session drives automation for a single account. All mutations of session
// state happen under mu and never suspend; remote calls run outside the
// lock.
type Session struct {
	ID        string
	AccountID string
	UserID    string

	deps     Deps
	settings Settings
	account  *models.Account

	mu            sync.Mutex
	state         State
	stateReason   string
	challengeType string
	profileID     string
	handle        provider.SessionHandle
	completed     int
	failed        int
	// Today counters reset at local midnight; the cumulative ones never do.
	completedToday int
	failedToday    int
	counterDay     time.Time
	consecFails    int
	healthScore    int
	startedAt      time.Time
	lastActivity   time.Time
	lastSuccess    time.Time
	lastFailure    time.Time
	paused         bool
	stopRequested  bool
	cancelCount    int

	queue *queue.Queue

	// publishMu serializes publish attempts for this account.
	publishMu sync.Mutex

	cancel context.CancelFunc
	stopCh chan struct{} // closed on graceful stop request
	done   chan struct{} // closed when Run exits
}

// New creates a Session in Idle for the given account.
func New(accountID, userID string, settings Settings, deps Deps) (*Session, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("session: store is required")
	}
	if deps.Provisioner == nil || deps.Publisher == nil || deps.Media == nil {
		return nil, fmt.Errorf("session: provisioner, publisher and media source are required")
	}
	if deps.Breakers == nil {
		return nil, fmt.Errorf("session: breaker registry is required")
	}
	if deps.Slots == nil {
		return nil, fmt.Errorf("session: slot semaphore is required")
	}
	if deps.Bus == nil {
		deps.Bus = events.NewBus(0, nil)
	}
	if deps.Out == nil {
		deps.Out = io.Discard
	}
	settings.applyDefaults()

	now := time.Now()
	return &Session{
		ID:           uuid.NewString(),
		AccountID:    accountID,
		UserID:       userID,
		deps:         deps,
		settings:     settings,
		state:        StateIdle,
		healthScore:  initialHealthScore,
		startedAt:    now,
		lastActivity: now,
		counterDay:   startOfDay(now),
		queue:        queue.New(),
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}, nil
}

// Run executes the session pipeline until it stops or hits a terminal
// state. It is meant to be run in its own goroutine; callers observe
// progress through Snapshot and the event bus.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	defer close(s.done)
	defer cancel()

	rec := &models.SessionRecord{
		ID:           s.ID,
		AccountID:    s.AccountID,
		UserID:       s.UserID,
		State:        string(StateIdle),
		HealthScore:  initialHealthScore,
		StartedAt:    s.startedAt,
		LastActivity: s.startedAt,
	}
	if err := s.deps.Store.CreateSessionRecord(rec); err != nil {
		log.Printf("session %s: record: %v", s.ID, err)
	}

	s.deps.Bus.Publish(events.Event{
		Kind: events.SessionStarted, AccountID: s.AccountID, SessionID: s.ID,
		Message: "automation session started",
	})

	if err := s.diagnose(ctx); err != nil {
		s.abort("diagnostics failed: " + err.Error())
		return
	}
	if err := s.provisionProfile(ctx); err != nil {
		s.abort("profile provisioning failed: " + err.Error())
		return
	}
	if err := s.authenticate(ctx); err != nil {
		s.abortAuth(err)
		return
	}
	if err := s.primeQueue(ctx); err != nil {
		s.abort("queue priming failed: " + err.Error())
		return
	}

	s.publishLoop(ctx)
}

// diagnose verifies the provisioning service is reachable, publishable
// content exists, and credentials are present. Any failure aborts before
// the session ever reaches Publishing.
func (s *Session) diagnose(ctx context.Context) error {
	s.setState(StateDiagnosing, "")

	acct, err := s.deps.Store.Account(s.AccountID)
	if err != nil {
		return fmt.Errorf("account lookup: %w", err)
	}
	if acct.Username == "" || acct.Password == "" {
		return fmt.Errorf("account %s has no credentials", s.AccountID)
	}
	if acct.Status == models.AccountBlocked {
		return fmt.Errorf("account %s is blocked", s.AccountID)
	}
	s.account = acct

	posts, err := s.deps.Store.FindByAccount(s.AccountID)
	if err != nil {
		return fmt.Errorf("content lookup: %w", err)
	}
	if len(posts) == 0 {
		return fmt.Errorf("no publishable content for account %s", s.AccountID)
	}

	// Reachability probe: a status check against the provisioner, gated by
	// its breaker. An unknown profile id is fine, we only need the service
	// to answer.
	if acct.ProfileID != "" {
		err = s.deps.Breakers.Get(provider.DepProvisioner).Execute(func() error {
			_, probeErr := s.deps.Provisioner.CheckStatus(ctx, acct.ProfileID)
			return probeErr
		})
		if err != nil && errors.Is(err, breaker.ErrOpen) {
			return fmt.Errorf("provisioning service unavailable: %w", err)
		}
	}

	fmt.Fprintf(s.deps.Out, "Session %s: diagnostics passed (%d publishable posts)\n", s.ID, len(posts))
	return nil
}

// provisionProfile obtains and starts a remote browser profile. An existing
// profile id is reused; CreateProfile itself is never blindly retried.
func (s *Session) provisionProfile(ctx context.Context) error {
	s.setState(StateProvisioning, "")

	release, err := s.acquireSlot(ctx)
	if err != nil {
		return err
	}
	defer release()

	br := s.deps.Breakers.Get(provider.DepProvisioner)

	profileID := s.account.ProfileID
	if profileID == "" {
		// Single attempt: a duplicate profile is worse than a failed start.
		err := br.Execute(func() error {
			var createErr error
			profileID, createErr = s.deps.Provisioner.CreateProfile(ctx, s.AccountID)
			return createErr
		})
		if err != nil {
			return fmt.Errorf("create profile: %w", err)
		}
		if err := s.deps.Store.SetAccountProfile(s.AccountID, profileID); err != nil {
			log.Printf("session %s: persist profile id: %v", s.ID, err)
		}
		s.account.ProfileID = profileID
	}

	var handle provider.SessionHandle
	err = retry.Do(ctx, func() error {
		return br.Execute(func() error {
			var startErr error
			handle, startErr = s.deps.Provisioner.StartProfile(ctx, profileID)
			return startErr
		})
	}, retry.Options{
		MaxAttempts:  3,
		InitialDelay: s.settings.RetryBaseDelay,
		Multiplier:   2,
		MaxDelay:     s.settings.RetryMaxDelay,
		ShouldRetry:  func(err error) bool { return !provider.IsPermanent(err) },
	})
	if err != nil {
		return fmt.Errorf("start profile %s: %w", profileID, err)
	}

	s.mu.Lock()
	s.profileID = profileID
	s.handle = handle
	s.mu.Unlock()

	fmt.Fprintf(s.deps.Out, "Session %s: profile %s running\n", s.ID, profileID)
	return nil
}

// authenticate logs into the platform. Challenges and invalid credentials
// are terminal; only a clean success proceeds.
func (s *Session) authenticate(ctx context.Context) error {
	s.setState(StateAuthenticating, "")

	release, err := s.acquireSlot(ctx)
	if err != nil {
		return err
	}
	defer release()

	creds := provider.Credentials{Username: s.account.Username, Password: s.account.Password}

	var result provider.LoginResult
	err = s.deps.Breakers.Get(provider.DepPublisher).Execute(func() error {
		var loginErr error
		result, loginErr = s.deps.Publisher.Login(ctx, s.currentHandle(), creds)
		return loginErr
	})
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	switch {
	case result.Success:
		fmt.Fprintf(s.deps.Out, "Session %s: authenticated\n", s.ID)
		return nil
	case result.RequiresVerification:
		// No silent retry: automation cannot resolve a challenge.
		return &provider.ChallengeError{ChallengeType: result.ChallengeType}
	default:
		return fmt.Errorf("%w: %s", provider.ErrInvalidCredentials, result.Error)
	}
}

// primeQueue loads the candidate content list, discards unreadable items,
// and fails if no valid item remains. The first job is scheduled
// immediately; the rest follow the interval planner as publishes complete.
func (s *Session) primeQueue(ctx context.Context) error {
	s.setState(StateQueuePriming, "")

	posts, err := s.deps.Store.FindByAccount(s.AccountID)
	if err != nil {
		return fmt.Errorf("load posts: %w", err)
	}

	available, err := s.listMedia(ctx)
	if err != nil {
		return fmt.Errorf("list media: %w", err)
	}

	valid := 0
	for _, p := range posts {
		if _, ok := available[p.MediaLocator]; !ok {
			fmt.Fprintf(s.deps.Out, "Session %s: skipping post %s (media %s unavailable)\n", s.ID, p.ID, p.MediaLocator)
			continue
		}
		valid++
	}
	if valid == 0 {
		return fmt.Errorf("no valid content items after validation")
	}

	if err := s.scheduleNext(time.Now()); err != nil {
		// Not eligible right now (quota, window) is fine. The loop will
		// re-plan; only a hard store error aborts priming.
		log.Printf("session %s: initial plan: %v", s.ID, err)
	}

	fmt.Fprintf(s.deps.Out, "Session %s: queue primed (%d valid posts)\n", s.ID, valid)
	return nil
}

// listMedia returns the set of media object names available for the
// account, gated by the media breaker.
func (s *Session) listMedia(ctx context.Context) (map[string]struct{}, error) {
	var items []provider.MediaItem
	err := s.deps.Breakers.Get(provider.DepMedia).Execute(func() error {
		var listErr error
		items, listErr = s.deps.Media.ListAvailable(ctx, s.account.MediaFolder)
		return listErr
	})
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it.Name] = struct{}{}
	}
	return set, nil
}

// acquireSlot takes a global remote-work slot, honoring cancellation.
func (s *Session) acquireSlot(ctx context.Context) (func(), error) {
	select {
	case s.deps.Slots <- struct{}{}:
		return func() { <-s.deps.Slots }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.stopCh:
		return nil, fmt.Errorf("session: stop requested")
	}
}

func (s *Session) currentHandle() provider.SessionHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Handle returns the current remote session handle. Zero until a profile is
// running.
func (s *Session) Handle() provider.SessionHandle { return s.currentHandle() }

// setState applies a state transition. Transitions never suspend, so a
// control command observing state never races a half-applied change.
func (s *Session) setState(state State, reason string) {
	s.mu.Lock()
	s.state = state
	s.stateReason = reason
	s.lastActivity = time.Now()
	completed, failed, score := s.completed, s.failed, s.healthScore
	s.mu.Unlock()

	if err := s.deps.Store.UpdateCounters(s.ID, string(state), completed, failed, score); err != nil {
		log.Printf("session %s: persist state: %v", s.ID, err)
	}
}

// abort moves the session to the absorbing Error state.
func (s *Session) abort(reason string) {
	s.setState(StateError, reason)
	s.releaseProfile()
	if err := s.deps.Store.CloseSessionRecord(s.ID, string(StateError), reason); err != nil {
		log.Printf("session %s: close record: %v", s.ID, err)
	}
	s.deps.Bus.Publish(events.Event{
		Kind: events.SessionError, AccountID: s.AccountID, SessionID: s.ID, Message: reason,
	})
	fmt.Fprintf(s.deps.Out, "Session %s: error: %s\n", s.ID, reason)
}

// abortAuth maps authentication failures to their terminal states,
// preserving challenge metadata.
func (s *Session) abortAuth(err error) {
	var ch *provider.ChallengeError
	if errors.As(err, &ch) {
		s.mu.Lock()
		s.challengeType = ch.ChallengeType
		s.mu.Unlock()
		s.abort(fmt.Sprintf("authentication challenge (%s): manual verification required", ch.ChallengeType))
		return
	}
	s.abort("authentication failed: " + err.Error())
}

// releaseProfile best-effort stops the remote browser profile.
func (s *Session) releaseProfile() {
	s.mu.Lock()
	profileID := s.profileID
	s.profileID = ""
	s.handle = provider.SessionHandle{}
	s.mu.Unlock()
	if profileID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.deps.Provisioner.StopProfile(ctx, profileID); err != nil {
		log.Printf("session %s: stop profile %s: %v", s.ID, profileID, err)
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// rollCounterDay zeroes the today counters when the calendar day has
// changed since they were last touched. Callers hold mu.
func (s *Session) rollCounterDay(now time.Time) {
	day := startOfDay(now)
	if !day.Equal(s.counterDay) {
		s.counterDay = day
		s.completedToday = 0
		s.failedToday = 0
	}
}

// Snapshot returns a copy of the session's observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollCounterDay(time.Now())
	return Snapshot{
		ID:             s.ID,
		AccountID:      s.AccountID,
		UserID:         s.UserID,
		State:          s.state,
		StateReason:    s.stateReason,
		ChallengeType:  s.challengeType,
		ProfileID:      s.profileID,
		QueueDepth:     s.queue.Len(),
		TasksCompleted: s.completed,
		TasksFailed:    s.failed,
		CompletedToday: s.completedToday,
		FailedToday:    s.failedToday,
		ConsecFailures: s.consecFails,
		HealthScore:    s.healthScore,
		StartedAt:      s.startedAt,
		LastActivity:   s.lastActivity,
		LastSuccess:    s.lastSuccess,
		LastFailure:    s.lastFailure,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done returns a channel closed when Run exits.
func (s *Session) Done() <-chan struct{} { return s.done }
