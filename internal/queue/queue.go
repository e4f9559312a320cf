// Package queue implements the per-account publication queue and scheduler:
// a priority min-heap of pending publish jobs plus the eligibility and
// interval rules that decide when the next job may run.
package queue

import (
	"container/heap"
	"sync"
	"time"
)

// maxErrorHistory bounds the per-job error history.
const maxErrorHistory = 5

// Job is one intended publish action.
type Job struct {
	PostID       string
	AccountID    string
	MediaLocator string
	Caption      string
	Location     string
	Priority     int // models.PriorityLow/Normal/High
	ScheduledAt  time.Time
	Attempts     int
	Injected     bool     // publish-now: bypasses eligibility, working hours included
	Errors       []string // bounded error history, newest last

	index int // heap bookkeeping
}

// RecordError appends msg to the job's bounded error history.
func (j *Job) RecordError(msg string) {
	j.Errors = append(j.Errors, msg)
	if len(j.Errors) > maxErrorHistory {
		j.Errors = j.Errors[len(j.Errors)-maxErrorHistory:]
	}
}

// jobHeap orders jobs by (priority desc, scheduledAt asc).
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].ScheduledAt.Before(h[j].ScheduledAt)
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	j := x.(*Job)
	j.index = len(*h)
	*h = append(*h, j)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return j
}

// Queue holds the pending jobs for one account's session. Safe for
// concurrent use; all operations complete without suspending.
type Queue struct {
	mu     sync.Mutex
	jobs   jobHeap
	byPost map[string]*Job
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{byPost: make(map[string]*Job)}
}

// Schedule inserts a job. A job already pending for the same post is
// replaced.
func (q *Queue) Schedule(job *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if old, ok := q.byPost[job.PostID]; ok {
		heap.Remove(&q.jobs, old.index)
	}
	q.byPost[job.PostID] = job
	heap.Push(&q.jobs, job)
}

// NextReady removes and returns the highest-priority, earliest-scheduled job
// whose scheduled time has arrived, or nil if none is due. The heap top may
// be a high-priority job scheduled for later, so every due job is
// considered.
func (q *Queue) NextReady(now time.Time) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	var best *Job
	for _, j := range q.jobs {
		if j.ScheduledAt.After(now) {
			continue
		}
		if best == nil ||
			j.Priority > best.Priority ||
			(j.Priority == best.Priority && j.ScheduledAt.Before(best.ScheduledAt)) {
			best = j
		}
	}
	if best == nil {
		return nil
	}
	heap.Remove(&q.jobs, best.index)
	delete(q.byPost, best.PostID)
	return best
}

// NextDue returns the scheduled time of the earliest-due pending job without
// removing it, and false if the queue is empty.
func (q *Queue) NextDue() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return time.Time{}, false
	}
	earliest := q.jobs[0].ScheduledAt
	for _, j := range q.jobs[1:] {
		if j.ScheduledAt.Before(earliest) {
			earliest = j.ScheduledAt
		}
	}
	return earliest, true
}

// Requeue re-inserts a failed job with an exponential backoff delay
// (attempts * baseDelay, capped at maxDelay). Returns false if the job has
// reached maxAttempts and is terminally failed instead.
func (q *Queue) Requeue(job *Job, now time.Time, baseDelay, maxDelay time.Duration, maxAttempts int) bool {
	job.Attempts++
	if job.Attempts >= maxAttempts {
		return false
	}
	delay := time.Duration(job.Attempts) * baseDelay
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	job.ScheduledAt = now.Add(delay)
	q.Schedule(job)
	return true
}

// HasPending reports whether a job for the given post is queued.
func (q *Queue) HasPending(postID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byPost[postID]
	return ok
}

// Remove deletes the pending job for postID, reporting whether one existed.
func (q *Queue) Remove(postID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.byPost[postID]
	if !ok {
		return false
	}
	heap.Remove(&q.jobs, j.index)
	delete(q.byPost, postID)
	return true
}

// Len returns the number of pending jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Clear evicts every pending job and returns the eviction count.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.jobs)
	q.jobs = nil
	q.byPost = make(map[string]*Job)
	return n
}

// Pending returns a snapshot of the queued jobs, unordered.
func (q *Queue) Pending() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, *j)
	}
	return out
}
