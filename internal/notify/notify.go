// Package notify forwards the core event stream to chat platforms (Slack,
// Discord) and sends a periodic activity digest. Sinks are best effort: a
// failed delivery is logged and dropped, never retried into the core loop.
package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/postpilot/postpilot/internal/events"
	"github.com/postpilot/postpilot/internal/store"
)

// Sidebar color hints per severity.
const (
	colorInfo    = "#439fe0"
	colorSuccess = "#36a64f"
	colorWarning = "#f2c744"
	colorError   = "#d00000"
)

// Note is one formatted notification.
type Note struct {
	Title    string
	Body     string
	Severity string // "info", "success", "warning", "error"
	Color    string
}

// Sink delivers notes to a single chat platform.
type Sink interface {
	Send(ctx context.Context, note Note) error
	Close() error
}

// Options tune the notifier.
type Options struct {
	// DigestCron is a 5-field cron expression for the activity digest;
	// empty disables the digest.
	DigestCron string
}

// Notifier subscribes to the event bus and fans notes out to its sinks.
type Notifier struct {
	bus   *events.Bus
	store *store.Store
	sinks []Sink
	opts  Options
}

// New creates a Notifier with the given sinks. Zero sinks is valid; the
// notifier is then inert.
func New(bus *events.Bus, st *store.Store, opts Options, sinks ...Sink) *Notifier {
	return &Notifier{bus: bus, store: st, sinks: sinks, opts: opts}
}

// Run forwards events and fires digests until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) {
	if len(n.sinks) == 0 {
		return
	}

	ch, cancel := n.bus.Subscribe(128)
	defer cancel()

	var digestTimer *time.Timer
	if n.opts.DigestCron != "" {
		if d := nextCronDuration(n.opts.DigestCron); d > 0 {
			digestTimer = time.NewTimer(d)
		}
	}
	defer func() {
		if digestTimer != nil {
			digestTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			n.closeSinks()
			return
		case e, ok := <-ch:
			if !ok {
				n.closeSinks()
				return
			}
			if note, forward := formatEvent(e); forward {
				n.send(ctx, note)
			}
		case <-timerChan(digestTimer):
			n.fireDigest(ctx)
			if d := nextCronDuration(n.opts.DigestCron); d > 0 {
				digestTimer.Reset(d)
			}
		}
	}
}

func (n *Notifier) send(ctx context.Context, note Note) {
	for _, sink := range n.sinks {
		if err := sink.Send(ctx, note); err != nil {
			log.Printf("notify: send %q: %v", note.Title, err)
		}
	}
}

func (n *Notifier) closeSinks() {
	for _, sink := range n.sinks {
		if err := sink.Close(); err != nil {
			log.Printf("notify: close sink: %v", err)
		}
	}
}

// formatEvent maps a core event to a note. Pause/resume chatter is not
// forwarded.
func formatEvent(e events.Event) (Note, bool) {
	switch e.Kind {
	case events.SessionStarted:
		return Note{Title: "Session started", Body: body(e), Severity: "info", Color: colorInfo}, true
	case events.SessionStopped:
		return Note{Title: "Session stopped", Body: body(e), Severity: "info", Color: colorInfo}, true
	case events.SessionError:
		return Note{Title: "Session error", Body: body(e), Severity: "error", Color: colorError}, true
	case events.JobPublished:
		return Note{Title: "Post published", Body: body(e), Severity: "success", Color: colorSuccess}, true
	case events.JobFailed:
		return Note{Title: "Post failed", Body: body(e), Severity: "error", Color: colorError}, true
	case events.HealthWarning:
		return Note{Title: "Health warning", Body: body(e), Severity: "warning", Color: colorWarning}, true
	case events.AccountBlocked:
		return Note{Title: "Account blocked", Body: body(e), Severity: "error", Color: colorError}, true
	default:
		return Note{}, false
	}
}

func body(e events.Event) string {
	if e.AccountID == "" {
		return e.Message
	}
	return fmt.Sprintf("account %s: %s", e.AccountID, e.Message)
}
