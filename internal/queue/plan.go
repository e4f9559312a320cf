package queue

import (
	"errors"
	"math/rand"
	"time"
)

// Eligibility rejection reasons for initial scheduling.
var (
	ErrQuotaReached  = errors.New("daily quota reached")
	ErrOutsideWindow = errors.New("outside working hours")
	ErrTooSoon       = errors.New("minimum interval not elapsed")
	ErrAlreadyQueued = errors.New("job already pending for account")
)

// Window is the daily time range during which publishing is permitted.
// A window whose end is at or before its start crosses midnight; Start == End
// means the full day.
type Window struct {
	StartHour int
	EndHour   int
}

// Contains reports whether t's hour falls inside the window.
func (w Window) Contains(t time.Time) bool {
	h := t.Hour()
	if w.StartHour == w.EndHour {
		return true
	}
	if w.StartHour < w.EndHour {
		return h >= w.StartHour && h < w.EndHour
	}
	// Crosses midnight, e.g. 22–6.
	return h >= w.StartHour || h < w.EndHour
}

// NextClose returns the moment the current or next window closes, strictly
// after t.
func (w Window) NextClose(t time.Time) time.Time {
	close := time.Date(t.Year(), t.Month(), t.Day(), w.EndHour, 0, 0, 0, t.Location())
	if w.StartHour >= w.EndHour && t.Hour() >= w.StartHour {
		// Midnight-crossing window entered today; it closes tomorrow.
		close = close.AddDate(0, 0, 1)
	}
	if !close.After(t) {
		close = close.AddDate(0, 0, 1)
	}
	return close
}

// NextOpen returns the moment the window next opens, at or after t.
func (w Window) NextOpen(t time.Time) time.Time {
	if w.Contains(t) {
		return t
	}
	open := time.Date(t.Year(), t.Month(), t.Day(), w.StartHour, 0, 0, 0, t.Location())
	if !open.After(t) {
		open = open.AddDate(0, 0, 1)
	}
	return open
}

// PlanInput carries everything needed to decide eligibility and compute the
// next scheduled time for an account.
type PlanInput struct {
	Now            time.Time
	PublishedToday int
	DailyQuota     int
	Window         Window
	LastSuccess    time.Time // zero if the account never published
	MinInterval    time.Duration
	MaxInterval    time.Duration
	HasPending     bool
	// Rand returns a uniform float in [0,1); nil uses the global source.
	Rand func() float64
}

// PlanNext validates initial-scheduling eligibility and returns the time at
// which the next job should run. The interval is the configured minimum,
// randomized uniformly up to the maximum, and additionally capped so the
// remaining daily quota can still be exhausted before the window closes.
func PlanNext(in PlanInput) (time.Time, error) {
	if in.HasPending {
		return time.Time{}, ErrAlreadyQueued
	}
	if in.DailyQuota > 0 && in.PublishedToday >= in.DailyQuota {
		return time.Time{}, ErrQuotaReached
	}
	if !in.Window.Contains(in.Now) {
		return time.Time{}, ErrOutsideWindow
	}
	if !in.LastSuccess.IsZero() && in.Now.Sub(in.LastSuccess) < in.MinInterval {
		return time.Time{}, ErrTooSoon
	}

	interval := in.MinInterval
	if in.MaxInterval > in.MinInterval {
		r := in.Rand
		if r == nil {
			r = rand.Float64
		}
		spread := in.MaxInterval - in.MinInterval
		interval += time.Duration(r() * float64(spread))
	}

	// Cap the interval so the rest of today's quota fits before close.
	if in.DailyQuota > 0 {
		remaining := in.DailyQuota - in.PublishedToday
		untilClose := in.Window.NextClose(in.Now).Sub(in.Now)
		if remaining > 0 && untilClose > 0 {
			maxSpacing := untilClose / time.Duration(remaining)
			if interval > maxSpacing {
				interval = maxSpacing
			}
		}
	}
	if interval < 0 {
		interval = 0
	}

	// Contains is end-exclusive: the quota-fit cap can land exactly on the
	// close, which would schedule a publish outside the window.
	at := in.Now.Add(interval)
	if !in.Window.Contains(at) {
		at = in.Window.NextClose(in.Now).Add(-time.Minute)
		if at.Before(in.Now) {
			at = in.Now
		}
	}
	return at, nil
}
