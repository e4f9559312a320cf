package queue

import (
	"testing"
	"time"

	"github.com/postpilot/postpilot/internal/models"
)

func job(postID string, priority int, at time.Time) *Job {
	return &Job{PostID: postID, AccountID: "acct-1", Priority: priority, ScheduledAt: at}
}

func TestNextReady_PriorityThenTime(t *testing.T) {
	now := time.Now()
	q := New()
	q.Schedule(job("low-early", models.PriorityLow, now.Add(-3*time.Hour)))
	q.Schedule(job("high-late", models.PriorityHigh, now.Add(-1*time.Hour)))
	q.Schedule(job("high-early", models.PriorityHigh, now.Add(-2*time.Hour)))
	q.Schedule(job("normal", models.PriorityNormal, now.Add(-2*time.Hour)))

	want := []string{"high-early", "high-late", "normal", "low-early"}
	for i, w := range want {
		j := q.NextReady(now)
		if j == nil {
			t.Fatalf("NextReady %d = nil, want %s", i, w)
		}
		if j.PostID != w {
			t.Errorf("NextReady %d = %s, want %s", i, j.PostID, w)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d, want 0", q.Len())
	}
}

func TestNextReady_NotYetDue(t *testing.T) {
	now := time.Now()
	q := New()
	q.Schedule(job("future", models.PriorityHigh, now.Add(time.Hour)))
	if j := q.NextReady(now); j != nil {
		t.Errorf("NextReady = %v, want nil for future job", j.PostID)
	}
	if q.Len() != 1 {
		t.Errorf("Len = %d, want 1 (job must stay queued)", q.Len())
	}
}

func TestNextReady_FutureHighPriorityDoesNotHideDueJob(t *testing.T) {
	now := time.Now()
	q := New()
	q.Schedule(job("urgent-later", models.PriorityHigh, now.Add(time.Hour)))
	q.Schedule(job("due-now", models.PriorityNormal, now.Add(-time.Minute)))

	j := q.NextReady(now)
	if j == nil {
		t.Fatal("NextReady = nil, want the due normal-priority job")
	}
	if j.PostID != "due-now" {
		t.Errorf("NextReady = %s, want due-now", j.PostID)
	}
	if q.Len() != 1 {
		t.Errorf("Len = %d, want 1 (future job must stay queued)", q.Len())
	}
}

func TestSchedule_ReplacesSamePost(t *testing.T) {
	now := time.Now()
	q := New()
	q.Schedule(job("p1", models.PriorityLow, now))
	q.Schedule(job("p1", models.PriorityHigh, now))
	if q.Len() != 1 {
		t.Fatalf("Len = %d, want 1 after replacement", q.Len())
	}
	if j := q.NextReady(now); j == nil || j.Priority != models.PriorityHigh {
		t.Errorf("kept job = %+v, want the replacement", j)
	}
}

func TestRequeue_BackoffGrowsAndCaps(t *testing.T) {
	now := time.Now()
	base := 10 * time.Minute
	maxDelay := 25 * time.Minute
	j := job("p1", models.PriorityNormal, now)
	q := New()

	var delays []time.Duration
	for i := 0; i < 3; i++ {
		if !q.Requeue(j, now, base, maxDelay, 10) {
			t.Fatalf("Requeue %d reported terminal", i)
		}
		delays = append(delays, j.ScheduledAt.Sub(now))
		q.Remove(j.PostID)
	}

	// attempts*base: 10m, 20m, then 30m capped to 25m.
	want := []time.Duration{10 * time.Minute, 20 * time.Minute, 25 * time.Minute}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay %d = %v, want %v", i, delays[i], want[i])
		}
	}
	for i := 1; i < len(delays); i++ {
		if delays[i] < delays[i-1] {
			t.Errorf("delay %d (%v) decreased from %v", i, delays[i], delays[i-1])
		}
	}
}

func TestRequeue_TerminalAtMaxAttempts(t *testing.T) {
	now := time.Now()
	j := job("p1", models.PriorityNormal, now)
	q := New()

	q.Requeue(j, now, time.Minute, 0, 3)
	q.Remove(j.PostID)
	q.Requeue(j, now, time.Minute, 0, 3)
	q.Remove(j.PostID)
	if q.Requeue(j, now, time.Minute, 0, 3) {
		t.Error("third Requeue should be terminal (max attempts 3)")
	}
	if j.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", j.Attempts)
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d, want 0 (terminal job must not re-enter)", q.Len())
	}
}

func TestClearAndRemove(t *testing.T) {
	now := time.Now()
	q := New()
	q.Schedule(job("a", models.PriorityNormal, now))
	q.Schedule(job("b", models.PriorityNormal, now))

	if !q.Remove("a") {
		t.Error("Remove(a) = false, want true")
	}
	if q.Remove("a") {
		t.Error("second Remove(a) = true, want false")
	}
	if n := q.Clear(); n != 1 {
		t.Errorf("Clear = %d, want 1", n)
	}
	if q.HasPending("b") {
		t.Error("HasPending(b) after Clear")
	}
}

func TestRecordError_Bounded(t *testing.T) {
	j := &Job{PostID: "p1"}
	for i := 0; i < 10; i++ {
		j.RecordError("err")
	}
	if len(j.Errors) != maxErrorHistory {
		t.Errorf("error history len = %d, want %d", len(j.Errors), maxErrorHistory)
	}
}
