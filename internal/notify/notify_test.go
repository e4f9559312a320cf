package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/postpilot/postpilot/internal/db"
	"github.com/postpilot/postpilot/internal/events"
	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/internal/store"
	slackapi "github.com/slack-go/slack"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type captureSink struct {
	mu     sync.Mutex
	notes  []Note
	closed bool
}

func (c *captureSink) Send(ctx context.Context, note Note) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notes = append(c.notes, note)
	return nil
}

func (c *captureSink) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.notes)
}

func testStore(t *testing.T) *store.Store {
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
	return store.New(gdb)
}

func TestNotifier_ForwardsEvents(t *testing.T) {
	bus := events.NewBus(64, nil)
	sink := &captureSink{}
	n := New(bus, testStore(t), Options{}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()

	// Give the subscriber a moment to attach before publishing.
	time.Sleep(10 * time.Millisecond)
	bus.Publish(events.Event{Kind: events.JobPublished, AccountID: "acct-1", Message: "post p1 published"})
	bus.Publish(events.Event{Kind: events.SessionPaused, AccountID: "acct-1", Message: "paused"})
	bus.Publish(events.Event{Kind: events.AccountBlocked, AccountID: "acct-1", Message: "banned"})

	deadline := time.Now().Add(5 * time.Second)
	for sink.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	<-done

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.notes) != 2 {
		t.Fatalf("notes = %d, want 2 (pause chatter suppressed)", len(sink.notes))
	}
	if sink.notes[0].Severity != "success" || sink.notes[1].Severity != "error" {
		t.Errorf("severities = %s/%s, want success/error", sink.notes[0].Severity, sink.notes[1].Severity)
	}
	if !sink.closed {
		t.Error("sink not closed on shutdown")
	}
}

func TestFormatEvent_Mapping(t *testing.T) {
	tests := []struct {
		kind     events.Kind
		forward  bool
		severity string
	}{
		{events.SessionStarted, true, "info"},
		{events.SessionStopped, true, "info"},
		{events.SessionError, true, "error"},
		{events.JobPublished, true, "success"},
		{events.JobFailed, true, "error"},
		{events.HealthWarning, true, "warning"},
		{events.AccountBlocked, true, "error"},
		{events.SessionPaused, false, ""},
		{events.SessionResumed, false, ""},
	}
	for _, tt := range tests {
		note, forward := formatEvent(events.Event{Kind: tt.kind, Message: "m"})
		if forward != tt.forward {
			t.Errorf("%s: forward = %v, want %v", tt.kind, forward, tt.forward)
			continue
		}
		if forward && note.Severity != tt.severity {
			t.Errorf("%s: severity = %s, want %s", tt.kind, note.Severity, tt.severity)
		}
	}
}

func TestBuildDailyReport(t *testing.T) {
	st := testStore(t)
	now := time.Now()
	recent := now.Add(-time.Hour)
	old := now.Add(-48 * time.Hour)

	acct := models.Account{ID: "acct-1", UserID: "u1", Username: "x", Status: models.AccountBlocked}
	if err := st.DB().Create(&acct).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
	posts := []models.Post{
		{ID: "p1", AccountID: "acct-1", MediaLocator: "a", Status: models.PostPublished, PublishedAt: &recent},
		{ID: "p2", AccountID: "acct-1", MediaLocator: "b", Status: models.PostPublished, PublishedAt: &old},
		{ID: "p3", AccountID: "acct-1", MediaLocator: "c", Status: models.PostFailed},
		{ID: "p4", AccountID: "acct-1", MediaLocator: "d", Status: models.PostScheduled},
	}
	for i := range posts {
		if err := st.DB().Create(&posts[i]).Error; err != nil {
			t.Fatalf("seed post: %v", err)
		}
	}

	n := New(events.NewBus(8, nil), st, Options{})
	report, err := n.BuildDailyReport()
	if err != nil {
		t.Fatalf("BuildDailyReport: %v", err)
	}
	if report.Published != 1 {
		t.Errorf("published = %d, want 1 (older publish excluded)", report.Published)
	}
	if report.Failed != 1 || report.Scheduled != 1 || report.BlockedAccounts != 1 {
		t.Errorf("report = %+v, want 1 failed, 1 scheduled, 1 blocked", report)
	}

	note := FormatDaily(report)
	if note.Severity != "warning" {
		t.Errorf("severity = %s, want warning with failures present", note.Severity)
	}
}

func TestNextCronDuration(t *testing.T) {
	if d := nextCronDuration("not a cron expr"); d != 0 {
		t.Errorf("invalid expr duration = %v, want 0", d)
	}
	d := nextCronDuration("* * * * *")
	if d <= 0 || d > time.Minute {
		t.Errorf("every-minute duration = %v, want (0, 1m]", d)
	}
}

type mockSlackClient struct {
	mu       sync.Mutex
	channels []string
}

func (m *mockSlackClient) PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, channelID)
	return channelID, "1", nil
}

func TestSlackSink_Send(t *testing.T) {
	if _, err := NewSlack(SlackOpts{ChannelID: "C123"}); err == nil {
		t.Error("expected error without token or client")
	}

	client := &mockSlackClient{}
	sink, err := NewSlack(SlackOpts{ChannelID: "C123", Client: client})
	if err != nil {
		t.Fatalf("NewSlack: %v", err)
	}
	if err := sink.Send(context.Background(), Note{Title: "t", Body: "b", Color: colorInfo}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(client.channels) != 1 || client.channels[0] != "C123" {
		t.Errorf("posted channels = %v, want [C123]", client.channels)
	}
}

type mockDiscordSession struct {
	mu     sync.Mutex
	opened bool
	closed bool
	embeds []*discordgo.MessageEmbed
}

func (m *mockDiscordSession) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = true
	return nil
}

func (m *mockDiscordSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockDiscordSession) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embeds = append(m.embeds, embed)
	return &discordgo.Message{}, nil
}

func TestDiscordSink_SendAndClose(t *testing.T) {
	sess := &mockDiscordSession{}
	sink, err := NewDiscord(DiscordOpts{ChannelID: "555", Session: sess})
	if err != nil {
		t.Fatalf("NewDiscord: %v", err)
	}
	if !sess.opened {
		t.Error("gateway not opened")
	}

	if err := sink.Send(context.Background(), Note{Title: "t", Body: "b", Color: "#36a64f"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(sess.embeds) != 1 || sess.embeds[0].Color != 0x36a64f {
		t.Errorf("embeds = %+v, want one with color 0x36a64f", sess.embeds)
	}

	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !sess.closed {
		t.Error("gateway not closed")
	}
	if err := sink.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestHexColor(t *testing.T) {
	if got := hexColor("#d00000"); got != 0xd00000 {
		t.Errorf("hexColor = %#x, want 0xd00000", got)
	}
	if got := hexColor("red"); got != 0 {
		t.Errorf("hexColor(red) = %d, want 0", got)
	}
}
