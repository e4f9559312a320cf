// Package coordinator is the top-level control surface of the automation
// core. It owns the session registry (at most one non-terminal session per
// account), the global concurrency ceiling, and graceful shutdown, and it
// routes control commands to sessions. One session's failure never stops
// the others.
package coordinator

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/postpilot/postpilot/internal/breaker"
	"github.com/postpilot/postpilot/internal/events"
	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/internal/provider"
	"github.com/postpilot/postpilot/internal/session"
	"github.com/postpilot/postpilot/internal/store"
)

const (
	defaultMaxConcurrent = 3
	defaultMaxSessions   = 50
	defaultStopWait      = 90 * time.Second
)

// Options tune the coordinator.
type Options struct {
	// MaxConcurrentAccounts caps sessions performing live remote work at
	// the same time. Excess sessions keep their queues but wait for a slot.
	MaxConcurrentAccounts int
	// MaxSessions is the registry guard rail; at this many tracked
	// non-terminal sessions, new starts are rejected until it clears.
	MaxSessions int
	// StopWait bounds how long shutdown waits for all sessions.
	StopWait time.Duration
	// Session holds the per-session tunables applied to every start.
	Session session.Settings
}

func (o *Options) applyDefaults() {
	if o.MaxConcurrentAccounts <= 0 {
		o.MaxConcurrentAccounts = defaultMaxConcurrent
	}
	if o.MaxSessions <= 0 {
		o.MaxSessions = defaultMaxSessions
	}
	if o.StopWait <= 0 {
		o.StopWait = defaultStopWait
	}
}

// Coordinator owns the session registry and the slot semaphore.
type Coordinator struct {
	store       *store.Store
	provisioner provider.Provisioner
	publisher   provider.PublishAdapter
	media       provider.MediaSource
	breakers    *breaker.Registry
	bus         *events.Bus
	opts        Options
	out         io.Writer

	slots     chan struct{}
	startedAt time.Time

	mu       sync.Mutex
	sessions map[string]*session.Session // account id -> most recent session
}

// New creates a Coordinator. out may be nil.
func New(st *store.Store, prov provider.Provisioner, pub provider.PublishAdapter,
	media provider.MediaSource, breakers *breaker.Registry, bus *events.Bus,
	opts Options, out io.Writer) *Coordinator {
	if out == nil {
		out = io.Discard
	}
	opts.applyDefaults()
	return &Coordinator{
		store:       st,
		provisioner: prov,
		publisher:   pub,
		media:       media,
		breakers:    breakers,
		bus:         bus,
		opts:        opts,
		out:         out,
		slots:       make(chan struct{}, opts.MaxConcurrentAccounts),
		startedAt:   time.Now(),
		sessions:    make(map[string]*session.Session),
	}
}

// Bus returns the coordinator's event bus.
func (c *Coordinator) Bus() *events.Bus { return c.bus }

// Breakers returns the shared breaker registry.
func (c *Coordinator) Breakers() *breaker.Registry { return c.breakers }

// Start launches one session per account id. All-or-nothing validation: if
// any account is unknown, not owned by the user, or already running, no
// session starts.
func (c *Coordinator) Start(ctx context.Context, accountIDs []string, userID string) ([]string, error) {
	if len(accountIDs) == 0 {
		return nil, errf(ReasonValidation, "coordinator: no accounts given")
	}
	if userID == "" {
		return nil, errf(ReasonValidation, "coordinator: user id is required")
	}

	accounts := make([]*models.Account, 0, len(accountIDs))
	for _, id := range accountIDs {
		acct, err := c.store.Account(id)
		if err != nil {
			return nil, errf(ReasonNotFound, "coordinator: account %s not found", id)
		}
		if acct.UserID != userID {
			return nil, errf(ReasonNotFound, "coordinator: account %s not found", id)
		}
		if acct.Status == models.AccountBlocked {
			return nil, errf(ReasonValidation, "coordinator: account %s is blocked", id)
		}
		accounts = append(accounts, acct)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if active := c.activeCountLocked(); active+len(accountIDs) > c.opts.MaxSessions {
		return nil, errf(ReasonExhausted,
			"coordinator: session limit reached (%d active, limit %d)", active, c.opts.MaxSessions)
	}
	for _, acct := range accounts {
		if existing, ok := c.sessions[acct.ID]; ok && !existing.State().Terminal() {
			return nil, errf(ReasonAlreadyRunning,
				"coordinator: session already running for account %s", acct.ID)
		}
	}

	ids := make([]string, 0, len(accounts))
	for _, acct := range accounts {
		sess, err := session.New(acct.ID, userID, c.opts.Session, session.Deps{
			Store:       c.store,
			Provisioner: c.provisioner,
			Publisher:   c.publisher,
			Media:       c.media,
			Breakers:    c.breakers,
			Bus:         c.bus,
			Slots:       c.slots,
			Out:         c.out,
		})
		if err != nil {
			return nil, errf(ReasonValidation, "coordinator: %v", err)
		}
		c.sessions[acct.ID] = sess
		ids = append(ids, sess.ID)
		go c.runSession(ctx, sess)
	}
	return ids, nil
}

// runSession runs one session with bulkhead isolation: a panic in one
// session's loop is contained and reported, never propagated.
func (c *Coordinator) runSession(ctx context.Context, sess *session.Session) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("coordinator: session %s panicked: %v", sess.ID, r)
			c.bus.Publish(events.Event{
				Kind:      events.SessionError,
				AccountID: sess.AccountID,
				SessionID: sess.ID,
				Message:   fmt.Sprintf("session loop panicked: %v", r),
			})
		}
	}()
	sess.Run(ctx)
}

// StopResult aggregates the outcome of a stop command.
type StopResult struct {
	TasksCompleted int
	TasksCancelled int
	Stopped        int
}

// Stop terminates the user's sessions for the given accounts (all of the
// user's sessions when accountIDs is empty).
func (c *Coordinator) Stop(accountIDs []string, userID string, force bool) (StopResult, error) {
	targets := c.sessionsFor(userID, accountIDs)
	if len(targets) == 0 {
		return StopResult{}, errf(ReasonNotFound, "coordinator: no active session")
	}

	var res StopResult
	var stopErr error
	for _, sess := range targets {
		completed, cancelled, err := sess.Stop(force)
		if err != nil {
			stopErr = err
			continue
		}
		res.TasksCompleted += completed
		res.TasksCancelled += cancelled
		res.Stopped++
	}
	if res.Stopped == 0 {
		if stopErr != nil {
			return res, errf(ReasonNotFound, "coordinator: %v", stopErr)
		}
		return res, errf(ReasonNotFound, "coordinator: no active session")
	}
	return res, nil
}

// Pause freezes every publishing session owned by the user.
func (c *Coordinator) Pause(userID string) error {
	return c.eachActive(userID, "pause", func(s *session.Session) error { return s.Pause() })
}

// Resume re-arms every paused session owned by the user.
func (c *Coordinator) Resume(userID string) error {
	return c.eachActive(userID, "resume", func(s *session.Session) error { return s.Resume() })
}

func (c *Coordinator) eachActive(userID, verb string, op func(*session.Session) error) error {
	targets := c.sessionsFor(userID, nil)
	if len(targets) == 0 {
		return errf(ReasonNotFound, "coordinator: no active session")
	}
	applied := 0
	var lastErr error
	for _, sess := range targets {
		if err := op(sess); err != nil {
			lastErr = err
			continue
		}
		applied++
	}
	if applied == 0 {
		return errf(ReasonValidation, "coordinator: %s failed: %v", verb, lastErr)
	}
	return nil
}

// PublishNow injects a single job for the post, bypassing eligibility
// checks. The concurrency ceiling still applies at publish time.
func (c *Coordinator) PublishNow(postID string, priority int, userID string) error {
	post, err := c.store.Post(postID)
	if err != nil {
		return errf(ReasonNotFound, "coordinator: post %s not found", postID)
	}
	if post.Status == models.PostPublished {
		return errf(ReasonValidation, "coordinator: post %s is already published", postID)
	}

	c.mu.Lock()
	sess, ok := c.sessions[post.AccountID]
	c.mu.Unlock()
	if !ok || sess.State().Terminal() || sess.UserID != userID {
		return errf(ReasonNotFound, "coordinator: no active session for account %s", post.AccountID)
	}

	if err := sess.InjectJob(post, priority); err != nil {
		return errf(ReasonValidation, "coordinator: %v", err)
	}
	fmt.Fprintf(c.out, "Queued post %s for immediate publication\n", postID)
	return nil
}

// RetryResult aggregates the outcome of a retry-failed command.
type RetryResult struct {
	Retried       int
	Skipped       int
	EstimatedTime time.Duration
}

// RetryFailed re-queues the user's terminally failed posts with one
// remaining attempt, so the retry budget across restarts stays finite.
// Posts already past twice the attempt limit are skipped.
func (c *Coordinator) RetryFailed(accountIDs []string, userID string) (RetryResult, error) {
	posts, err := c.store.FailedPosts(userID, accountIDs)
	if err != nil {
		return RetryResult{}, errf(ReasonUnavailable, "coordinator: %v", err)
	}
	if len(posts) == 0 {
		return RetryResult{}, nil
	}

	maxAttempts := c.opts.Session.MaxPublishAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var res RetryResult
	for _, post := range posts {
		if post.Attempts >= 2*maxAttempts {
			res.Skipped++
			continue
		}
		if err := c.store.ResetForRetry(post.ID, maxAttempts-1); err != nil {
			log.Printf("coordinator: retry %s: %v", post.ID, err)
			res.Skipped++
			continue
		}
		res.Retried++
	}

	// Retried posts re-enter their sessions' schedulers serially, one slot
	// at a time; base the estimate on that.
	base := c.opts.Session.RetryBaseDelay
	if base <= 0 {
		base = time.Minute
	}
	res.EstimatedTime = time.Duration(res.Retried) * base
	fmt.Fprintf(c.out, "Retry queued: %d posts (%d skipped)\n", res.Retried, res.Skipped)
	return res, nil
}

// EmergencyResult aggregates the outcome of an emergency stop.
type EmergencyResult struct {
	StoppedAccounts int
	CancelledTasks  int
}

// EmergencyStop stops every session owned by the user immediately,
// discarding queued work.
func (c *Coordinator) EmergencyStop(userID string) (EmergencyResult, error) {
	targets := c.sessionsFor(userID, nil)
	if len(targets) == 0 {
		return EmergencyResult{}, errf(ReasonNotFound, "coordinator: no active session")
	}

	var res EmergencyResult
	for _, sess := range targets {
		_, cancelled, err := sess.Stop(true)
		if err != nil {
			continue
		}
		res.StoppedAccounts++
		res.CancelledTasks += cancelled
	}
	fmt.Fprintf(c.out, "Emergency stop: %d sessions stopped, %d tasks cancelled\n",
		res.StoppedAccounts, res.CancelledTasks)
	return res, nil
}

// Shutdown gracefully stops every active session with a bounded overall
// wait. Sessions that do not settle in time are abandoned.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	targets := make([]*session.Session, 0, len(c.sessions))
	for _, sess := range c.sessions {
		if !sess.State().Terminal() {
			targets = append(targets, sess)
		}
	}
	c.mu.Unlock()

	if len(targets) == 0 {
		return
	}
	fmt.Fprintf(c.out, "Shutting down %d active sessions...\n", len(targets))

	var wg sync.WaitGroup
	for _, sess := range targets {
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			if _, _, err := s.Stop(false); err != nil {
				log.Printf("coordinator: shutdown stop %s: %v", s.ID, err)
			}
		}(sess)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		fmt.Fprintf(c.out, "All sessions stopped.\n")
	case <-time.After(c.opts.StopWait):
		fmt.Fprintf(c.out, "Shutdown wait elapsed; abandoning remaining sessions.\n")
	}
}

// Running returns the non-terminal sessions, for the health monitor.
func (c *Coordinator) Running() []*session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*session.Session, 0, len(c.sessions))
	for _, sess := range c.sessions {
		if !sess.State().Terminal() {
			out = append(out, sess)
		}
	}
	return out
}

// Session returns the most recent session for the account, or nil.
func (c *Coordinator) Session(accountID string) *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[accountID]
}

// sessionsFor returns the user's non-terminal sessions, optionally filtered
// to an account set.
func (c *Coordinator) sessionsFor(userID string, accountIDs []string) []*session.Session {
	var filter map[string]struct{}
	if len(accountIDs) > 0 {
		filter = make(map[string]struct{}, len(accountIDs))
		for _, id := range accountIDs {
			filter[id] = struct{}{}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*session.Session
	for accountID, sess := range c.sessions {
		if sess.UserID != userID || sess.State().Terminal() {
			continue
		}
		if filter != nil {
			if _, ok := filter[accountID]; !ok {
				continue
			}
		}
		out = append(out, sess)
	}
	return out
}

func (c *Coordinator) activeCountLocked() int {
	n := 0
	for _, sess := range c.sessions {
		if !sess.State().Terminal() {
			n++
		}
	}
	return n
}
