package coordinator

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/postpilot/postpilot/internal/breaker"
	"github.com/postpilot/postpilot/internal/db"
	"github.com/postpilot/postpilot/internal/events"
	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/internal/provider"
	"github.com/postpilot/postpilot/internal/session"
	"github.com/postpilot/postpilot/internal/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeProvisioner struct {
	mu     sync.Mutex
	nextID int
}

func (f *fakeProvisioner) CreateProfile(ctx context.Context, accountRef string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return "prof-" + accountRef, nil
}

func (f *fakeProvisioner) StartProfile(ctx context.Context, profileID string) (provider.SessionHandle, error) {
	return provider.SessionHandle{ProfileID: profileID, Endpoint: "ws://127.0.0.1:9222"}, nil
}

func (f *fakeProvisioner) StopProfile(ctx context.Context, profileID string) error   { return nil }
func (f *fakeProvisioner) DeleteProfile(ctx context.Context, profileID string) error { return nil }

func (f *fakeProvisioner) CheckStatus(ctx context.Context, profileID string) (bool, error) {
	return true, nil
}

type fakePublisher struct{}

func (fakePublisher) Login(ctx context.Context, h provider.SessionHandle, creds provider.Credentials) (provider.LoginResult, error) {
	return provider.LoginResult{Success: true}, nil
}

func (fakePublisher) Publish(ctx context.Context, h provider.SessionHandle, mediaPath, caption string, opts provider.PublishOpts) (provider.PublishResult, error) {
	return provider.PublishResult{Success: true, ExternalURL: "https://platform.example/p/1"}, nil
}

func (fakePublisher) CheckAccountStatus(ctx context.Context, h provider.SessionHandle) (provider.AccountStatus, error) {
	return provider.AccountStatus{LoggedIn: true}, nil
}

func (fakePublisher) RestoreSession(ctx context.Context, h provider.SessionHandle) (bool, error) {
	return true, nil
}

type fakeMedia struct {
	mu    sync.Mutex
	names []string
}

func (f *fakeMedia) ListAvailable(ctx context.Context, folderRef string) ([]provider.MediaItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]provider.MediaItem, len(f.names))
	for i, n := range f.names {
		items[i] = provider.MediaItem{Name: n}
	}
	return items, nil
}

func (f *fakeMedia) Fetch(ctx context.Context, itemRef string) (string, error) {
	return "/tmp/" + itemRef, nil
}

type rig struct {
	store *store.Store
	media *fakeMedia
	coord *Coordinator
}

func newRig(t *testing.T, opts Options) *rig {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st := store.New(gdb)

	if opts.Session.PollInterval == 0 {
		opts.Session = session.Settings{
			MaxPublishAttempts:     2,
			MaxConsecutiveFailures: 3,
			RetryBaseDelay:         time.Millisecond,
			RetryMaxDelay:          5 * time.Millisecond,
			PollInterval:           5 * time.Millisecond,
		}
	}

	media := &fakeMedia{}
	coord := New(st, &fakeProvisioner{}, fakePublisher{}, media,
		breaker.NewRegistry(breaker.Options{FailureThreshold: 100}),
		events.NewBus(64, nil), opts, io.Discard)

	r := &rig{store: st, media: media, coord: coord}
	t.Cleanup(coord.Shutdown)
	return r
}

// seedAccount inserts the account, then rewrites the scheduling columns
// through an Updates map so zero values survive the column defaults.
func (r *rig) seedAccount(t *testing.T, id string, minIntervalMin int) {
	t.Helper()
	acct := models.Account{
		ID: id, UserID: "user-1", Username: "tester-" + id, Password: "secret",
		Status: models.AccountActive,
	}
	if err := r.store.DB().Create(&acct).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
	err := r.store.DB().Model(&models.Account{}).Where("id = ?", id).
		Updates(map[string]any{
			"daily_quota":        10,
			"min_interval_min":   minIntervalMin,
			"max_interval_min":   minIntervalMin,
			"working_hour_start": 0,
			"working_hour_end":   0,
		}).Error
	if err != nil {
		t.Fatalf("seed account schedule: %v", err)
	}
}

func (r *rig) seedPost(t *testing.T, id, accountID, status string, attempts int) {
	t.Helper()
	post := models.Post{
		ID: id, AccountID: accountID, MediaLocator: "media/" + id + ".jpg",
		Status: status, Priority: models.PriorityNormal, Attempts: attempts,
	}
	if err := r.store.DB().Create(&post).Error; err != nil {
		t.Fatalf("seed post: %v", err)
	}
	r.media.mu.Lock()
	r.media.names = append(r.media.names, post.MediaLocator)
	r.media.mu.Unlock()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (r *rig) waitPublishing(t *testing.T, accountID string) {
	t.Helper()
	waitFor(t, "session publishing for "+accountID, func() bool {
		sess := r.coord.Session(accountID)
		return sess != nil && sess.State() == session.StatePublishing
	})
}

func TestStart_AtMostOneSessionPerAccount(t *testing.T) {
	r := newRig(t, Options{})
	r.seedAccount(t, "acct-1", 60)
	r.seedPost(t, "p1", "acct-1", models.PostScheduled, 0)

	if _, err := r.coord.Start(context.Background(), []string{"acct-1"}, "user-1"); err != nil {
		t.Fatalf("first start: %v", err)
	}
	r.waitPublishing(t, "acct-1")

	_, err := r.coord.Start(context.Background(), []string{"acct-1"}, "user-1")
	if ReasonOf(err) != ReasonAlreadyRunning {
		t.Errorf("second start reason = %q, want already-running (err %v)", ReasonOf(err), err)
	}
}

func TestStart_ValidationFailures(t *testing.T) {
	r := newRig(t, Options{})
	r.seedAccount(t, "acct-1", 60)

	if _, err := r.coord.Start(context.Background(), nil, "user-1"); ReasonOf(err) != ReasonValidation {
		t.Errorf("empty accounts reason = %q, want validation", ReasonOf(err))
	}
	if _, err := r.coord.Start(context.Background(), []string{"missing"}, "user-1"); ReasonOf(err) != ReasonNotFound {
		t.Errorf("unknown account reason = %q, want not-found", ReasonOf(err))
	}
	if _, err := r.coord.Start(context.Background(), []string{"acct-1"}, "someone-else"); ReasonOf(err) != ReasonNotFound {
		t.Errorf("foreign account reason = %q, want not-found", ReasonOf(err))
	}

	if err := r.store.SetAccountStatus("acct-1", models.AccountBlocked); err != nil {
		t.Fatalf("block account: %v", err)
	}
	if _, err := r.coord.Start(context.Background(), []string{"acct-1"}, "user-1"); ReasonOf(err) != ReasonValidation {
		t.Errorf("blocked account reason = %q, want validation", ReasonOf(err))
	}
}

func TestStart_SessionLimitGuard(t *testing.T) {
	r := newRig(t, Options{MaxSessions: 1})
	r.seedAccount(t, "acct-1", 60)
	r.seedAccount(t, "acct-2", 60)
	r.seedPost(t, "p1", "acct-1", models.PostScheduled, 0)
	r.seedPost(t, "p2", "acct-2", models.PostScheduled, 0)

	if _, err := r.coord.Start(context.Background(), []string{"acct-1"}, "user-1"); err != nil {
		t.Fatalf("first start: %v", err)
	}
	r.waitPublishing(t, "acct-1")

	_, err := r.coord.Start(context.Background(), []string{"acct-2"}, "user-1")
	if ReasonOf(err) != ReasonExhausted {
		t.Fatalf("reason = %q, want resource-exhausted (err %v)", ReasonOf(err), err)
	}

	health := r.coord.GetHealth()
	if health.Healthy {
		t.Error("health.Healthy = true, want false at session limit")
	}
}

func TestStop_NoActiveSession(t *testing.T) {
	r := newRig(t, Options{})
	if _, err := r.coord.Stop(nil, "user-1", false); ReasonOf(err) != ReasonNotFound {
		t.Errorf("reason = %q, want not-found", ReasonOf(err))
	}
}

func TestEmergencyStopThenRestart(t *testing.T) {
	r := newRig(t, Options{})
	r.seedAccount(t, "acct-1", 60) // long interval keeps a job pending
	r.seedPost(t, "p1", "acct-1", models.PostScheduled, 0)

	if _, err := r.coord.Start(context.Background(), []string{"acct-1"}, "user-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.waitPublishing(t, "acct-1")
	waitFor(t, "pending job", func() bool {
		return r.coord.Session("acct-1").Snapshot().QueueDepth == 1
	})

	res, err := r.coord.EmergencyStop("user-1")
	if err != nil {
		t.Fatalf("EmergencyStop: %v", err)
	}
	if res.StoppedAccounts != 1 || res.CancelledTasks != 1 {
		t.Errorf("result = %+v, want 1 session and 1 cancelled task", res)
	}
	if got := r.coord.Session("acct-1").State(); got != session.StateStopped {
		t.Fatalf("state = %s, want stopped", got)
	}

	// A fresh start for the same account succeeds.
	r.seedPost(t, "p2", "acct-1", models.PostScheduled, 0)
	if _, err := r.coord.Start(context.Background(), []string{"acct-1"}, "user-1"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	r.waitPublishing(t, "acct-1")
}

func TestPauseResumeRouting(t *testing.T) {
	r := newRig(t, Options{})
	r.seedAccount(t, "acct-1", 60)
	r.seedPost(t, "p1", "acct-1", models.PostScheduled, 0)

	if err := r.coord.Pause("user-1"); ReasonOf(err) != ReasonNotFound {
		t.Errorf("pause with no session reason = %q, want not-found", ReasonOf(err))
	}

	if _, err := r.coord.Start(context.Background(), []string{"acct-1"}, "user-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.waitPublishing(t, "acct-1")

	if err := r.coord.Pause("user-1"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if got := r.coord.Session("acct-1").State(); got != session.StatePaused {
		t.Errorf("state = %s, want paused", got)
	}
	st := r.coord.GetStatus()
	if !st.Running || !st.Paused {
		t.Errorf("status = %+v, want running and paused", st)
	}

	if err := r.coord.Resume("user-1"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got := r.coord.Session("acct-1").State(); got != session.StatePublishing {
		t.Errorf("state = %s, want publishing", got)
	}
}

func TestPublishNowBypassesScheduling(t *testing.T) {
	r := newRig(t, Options{})
	r.seedAccount(t, "acct-1", 60)
	r.seedPost(t, "p1", "acct-1", models.PostScheduled, 0)
	r.seedPost(t, "p2", "acct-1", models.PostScheduled, 0)

	if err := r.coord.PublishNow("p2", models.PriorityHigh, "user-1"); ReasonOf(err) != ReasonNotFound {
		t.Errorf("publish-now without session reason = %q, want not-found", ReasonOf(err))
	}

	if _, err := r.coord.Start(context.Background(), []string{"acct-1"}, "user-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.waitPublishing(t, "acct-1")

	if err := r.coord.PublishNow("p2", models.PriorityHigh, "user-1"); err != nil {
		t.Fatalf("PublishNow: %v", err)
	}
	waitFor(t, "immediate publication", func() bool {
		p, err := r.store.Post("p2")
		return err == nil && p.Status == models.PostPublished
	})
}

func TestRetryFailedBoundsAttempts(t *testing.T) {
	r := newRig(t, Options{})
	r.seedAccount(t, "acct-1", 60)
	r.seedPost(t, "p1", "acct-1", models.PostFailed, 2)  // retryable
	r.seedPost(t, "p2", "acct-1", models.PostFailed, 10) // past the budget

	res, err := r.coord.RetryFailed(nil, "user-1")
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if res.Retried != 1 || res.Skipped != 1 {
		t.Errorf("result = %+v, want 1 retried and 1 skipped", res)
	}

	p1, _ := r.store.Post("p1")
	if p1.Status != models.PostScheduled || p1.Attempts != 1 {
		t.Errorf("p1 = status %s attempts %d, want scheduled with 1 attempt", p1.Status, p1.Attempts)
	}
	p2, _ := r.store.Post("p2")
	if p2.Status != models.PostFailed {
		t.Errorf("p2 status = %s, want still failed", p2.Status)
	}
}

func TestApplyControlCommands(t *testing.T) {
	r := newRig(t, Options{})
	r.seedAccount(t, "acct-1", 60)
	r.seedPost(t, "p1", "acct-1", models.PostScheduled, 0)

	res := r.coord.applyControl(context.Background(), &models.ControlRequest{
		UserID: "user-1", Command: "start",
	})
	if res != "started 1 sessions" {
		t.Errorf("start result = %q", res)
	}
	r.waitPublishing(t, "acct-1")

	res = r.coord.applyControl(context.Background(), &models.ControlRequest{
		UserID: "user-1", Command: "pause",
	})
	if res != "paused" {
		t.Errorf("pause result = %q", res)
	}

	res = r.coord.applyControl(context.Background(), &models.ControlRequest{
		UserID: "user-1", Command: "self-destruct",
	})
	if want := `error (validation): unknown command "self-destruct"`; res != want {
		t.Errorf("unknown command result = %q, want %q", res, want)
	}
}

func TestShutdownStopsEverything(t *testing.T) {
	r := newRig(t, Options{})
	r.seedAccount(t, "acct-1", 60)
	r.seedAccount(t, "acct-2", 60)
	r.seedPost(t, "p1", "acct-1", models.PostScheduled, 0)
	r.seedPost(t, "p2", "acct-2", models.PostScheduled, 0)

	if _, err := r.coord.Start(context.Background(), []string{"acct-1", "acct-2"}, "user-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.waitPublishing(t, "acct-1")
	r.waitPublishing(t, "acct-2")

	r.coord.Shutdown()

	if n := len(r.coord.Running()); n != 0 {
		t.Errorf("running after shutdown = %d, want 0", n)
	}
}
