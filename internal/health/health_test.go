package health

import (
	"context"
	"errors"
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
	mu        sync.Mutex
	active    bool
	starts    int
	statusErr error
}

func (f *fakeProvisioner) CreateProfile(ctx context.Context, accountRef string) (string, error) {
	return "prof-1", nil
}

func (f *fakeProvisioner) StartProfile(ctx context.Context, profileID string) (provider.SessionHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.active = true
	return provider.SessionHandle{ProfileID: profileID, Endpoint: "ws://127.0.0.1:9222"}, nil
}

func (f *fakeProvisioner) StopProfile(ctx context.Context, profileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
	return nil
}

func (f *fakeProvisioner) CheckStatus(ctx context.Context, profileID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active, f.statusErr
}

func (f *fakeProvisioner) DeleteProfile(ctx context.Context, profileID string) error { return nil }

type fakePublisher struct {
	mu      sync.Mutex
	status  provider.AccountStatus
	restore bool
	logins  int
}

func (f *fakePublisher) Login(ctx context.Context, h provider.SessionHandle, creds provider.Credentials) (provider.LoginResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	return provider.LoginResult{Success: true}, nil
}

func (f *fakePublisher) Publish(ctx context.Context, h provider.SessionHandle, mediaPath, caption string, opts provider.PublishOpts) (provider.PublishResult, error) {
	return provider.PublishResult{Success: true, ExternalURL: "https://platform.example/p/1"}, nil
}

func (f *fakePublisher) CheckAccountStatus(ctx context.Context, h provider.SessionHandle) (provider.AccountStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, nil
}

func (f *fakePublisher) RestoreSession(ctx context.Context, h provider.SessionHandle) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restore, nil
}

type fakeMedia struct{}

func (fakeMedia) ListAvailable(ctx context.Context, folderRef string) ([]provider.MediaItem, error) {
	return []provider.MediaItem{{Name: "media/p1.jpg"}}, nil
}

func (fakeMedia) Fetch(ctx context.Context, itemRef string) (string, error) {
	return "/tmp/" + itemRef, nil
}

type staticLister []*session.Session

func (l staticLister) Running() []*session.Session { return l }

type fixture struct {
	store       *store.Store
	provisioner *fakeProvisioner
	publisher   *fakePublisher
	bus         *events.Bus
	sess        *session.Session
}

// newFixture boots one session into Publishing with a far-future pending
// job so the scheduler stays out of the way during probing.
func newFixture(t *testing.T) *fixture {
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

	acct := models.Account{
		ID: "acct-1", UserID: "user-1", Username: "tester", Password: "secret",
		Status: models.AccountActive,
	}
	if err := st.DB().Create(&acct).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
	// Column defaults would refill zero-valued scheduling fields on Create;
	// a map update always writes them.
	err = st.DB().Model(&models.Account{}).Where("id = ?", acct.ID).
		Updates(map[string]any{
			"daily_quota":        10,
			"min_interval_min":   60,
			"max_interval_min":   60,
			"working_hour_start": 0,
			"working_hour_end":   0,
		}).Error
	if err != nil {
		t.Fatalf("seed account schedule: %v", err)
	}
	post := models.Post{
		ID: "p1", AccountID: "acct-1", MediaLocator: "media/p1.jpg",
		Status: models.PostScheduled, Priority: models.PriorityNormal,
	}
	if err := st.DB().Create(&post).Error; err != nil {
		t.Fatalf("seed post: %v", err)
	}

	f := &fixture{
		store:       st,
		provisioner: &fakeProvisioner{},
		publisher:   &fakePublisher{status: provider.AccountStatus{LoggedIn: true}},
		bus:         events.NewBus(64, nil),
	}
	sess, err := session.New("acct-1", "user-1", session.Settings{
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
	}, session.Deps{
		Store:       st,
		Provisioner: f.provisioner,
		Publisher:   f.publisher,
		Media:       fakeMedia{},
		Breakers:    breaker.NewRegistry(breaker.Options{FailureThreshold: 100}),
		Bus:         f.bus,
		Slots:       make(chan struct{}, 2),
		Out:         io.Discard,
	})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	f.sess = sess

	go sess.Run(context.Background())
	deadline := time.Now().Add(5 * time.Second)
	for sess.State() != session.StatePublishing {
		if time.Now().After(deadline) {
			t.Fatalf("session never reached publishing, state = %s", sess.State())
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Cleanup(func() { f.sess.Stop(true) })
	return f
}

func (f *fixture) monitor() *Monitor {
	return New(f.store, f.provisioner, f.publisher, staticLister{f.sess}, f.bus, Options{}, io.Discard)
}

func TestSweep_RestartsDeadProfile(t *testing.T) {
	f := newFixture(t)

	f.provisioner.mu.Lock()
	f.provisioner.active = false
	startsBefore := f.provisioner.starts
	f.provisioner.mu.Unlock()

	f.monitor().Sweep(context.Background())

	f.provisioner.mu.Lock()
	starts := f.provisioner.starts
	f.provisioner.mu.Unlock()
	if starts != startsBefore+1 {
		t.Errorf("starts = %d, want %d", starts, startsBefore+1)
	}
	if got := f.sess.State(); got != session.StatePublishing {
		t.Errorf("state = %s, want publishing preserved", got)
	}
}

func TestSweep_BlocksBannedAccount(t *testing.T) {
	f := newFixture(t)

	f.publisher.mu.Lock()
	f.publisher.status = provider.AccountStatus{Banned: true}
	f.publisher.mu.Unlock()

	f.monitor().Sweep(context.Background())

	if got := f.sess.State(); got != session.StateBlocked {
		t.Fatalf("state = %s, want blocked", got)
	}
	acct, err := f.store.Account("acct-1")
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if acct.Status != models.AccountBlocked {
		t.Errorf("account status = %s, want blocked", acct.Status)
	}
}

func TestSweep_ReauthenticatesLoggedOutSession(t *testing.T) {
	f := newFixture(t)

	f.publisher.mu.Lock()
	f.publisher.status = provider.AccountStatus{LoggedIn: false}
	f.publisher.restore = true
	f.publisher.mu.Unlock()

	f.monitor().Sweep(context.Background())

	if got := f.sess.State(); got != session.StatePublishing {
		t.Errorf("state = %s, want publishing after session restore", got)
	}
}

func TestSweep_ProbeErrorLowersHealth(t *testing.T) {
	f := newFixture(t)

	before := f.sess.Snapshot().HealthScore
	f.provisioner.mu.Lock()
	f.provisioner.statusErr = errors.New("provisioner timeout")
	f.provisioner.mu.Unlock()

	f.monitor().Sweep(context.Background())

	after := f.sess.Snapshot().HealthScore
	if after >= before {
		t.Errorf("health = %d, want below %d", after, before)
	}

	var warned bool
	for _, e := range f.bus.Recent(0) {
		if e.Kind == events.HealthWarning {
			warned = true
		}
	}
	if !warned {
		t.Error("expected a health warning event")
	}
}

func TestSweep_SkipsStoppedSessions(t *testing.T) {
	f := newFixture(t)
	if _, _, err := f.sess.Stop(false); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	f.publisher.mu.Lock()
	f.publisher.status = provider.AccountStatus{Banned: true}
	f.publisher.mu.Unlock()

	f.monitor().Sweep(context.Background())

	if got := f.sess.State(); got != session.StateStopped {
		t.Errorf("state = %s, want stopped untouched by sweep", got)
	}
}
