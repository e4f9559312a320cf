// Package events provides the core's bounded, timestamped event stream:
// session lifecycle, job outcomes, and health warnings. Fan-out is a
// broadcast over buffered channels; a slow subscriber drops events rather
// than blocking the core loop. Nothing in the core depends on anyone
// consuming the stream.
package events

import (
	"log"
	"sync"
	"time"

	"github.com/postpilot/postpilot/internal/models"
	"gorm.io/gorm"
)

// Kind classifies an event.
type Kind string

const (
	SessionStarted Kind = "session-started"
	SessionStopped Kind = "session-stopped"
	SessionPaused  Kind = "session-paused"
	SessionResumed Kind = "session-resumed"
	SessionError   Kind = "session-error"
	JobPublished   Kind = "job-published"
	JobFailed      Kind = "job-failed"
	HealthWarning  Kind = "health-warning"
	AccountBlocked Kind = "account-blocked"
)

// Event is one entry in the stream.
type Event struct {
	Kind      Kind      `json:"kind"`
	AccountID string    `json:"account_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// Bus holds a bounded in-memory ring of recent events and fans new events
// out to subscribers. Safe for concurrent use.
type Bus struct {
	mu      sync.Mutex
	ring    []Event
	max     int
	subs    map[int]chan Event
	nextSub int
	db      *gorm.DB // optional persistence for the dashboard; nil in tests
}

// NewBus creates a Bus retaining up to max recent events. db may be nil.
func NewBus(max int, db *gorm.DB) *Bus {
	if max <= 0 {
		max = 500
	}
	return &Bus{max: max, subs: make(map[int]chan Event), db: db}
}

// Publish records an event and fans it out. Never blocks.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.Lock()
	b.ring = append(b.ring, e)
	if len(b.ring) > b.max {
		b.ring = b.ring[len(b.ring)-b.max:]
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default: // subscriber is behind; drop
		}
	}
	db := b.db
	b.mu.Unlock()

	if db != nil {
		rec := models.EventRecord{
			Kind:      string(e.Kind),
			AccountID: e.AccountID,
			SessionID: e.SessionID,
			Message:   e.Message,
			CreatedAt: e.At,
		}
		if err := db.Create(&rec).Error; err != nil {
			log.Printf("events: persist: %v", err)
		}
	}
}

// Subscribe returns a channel of future events and a cancel function. The
// channel is closed on cancel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Recent returns up to n of the most recent events, oldest first.
func (b *Bus) Recent(n int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > len(b.ring) {
		n = len(b.ring)
	}
	out := make([]Event, n)
	copy(out, b.ring[len(b.ring)-n:])
	return out
}

// PruneRecords deletes persisted events older than cutoff.
func (b *Bus) PruneRecords(cutoff time.Time) {
	b.mu.Lock()
	db := b.db
	b.mu.Unlock()
	if db == nil {
		return
	}
	if err := db.Where("created_at < ?", cutoff).Delete(&models.EventRecord{}).Error; err != nil {
		log.Printf("events: prune: %v", err)
	}
}
