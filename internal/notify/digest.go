package notify

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/postpilot/postpilot/internal/models"
)

// DailyReport holds publication metrics for a 24-hour period.
type DailyReport struct {
	PeriodStart     time.Time
	PeriodEnd       time.Time
	Published       int
	Failed          int
	Cancelled       int
	Scheduled       int
	BlockedAccounts int
}

// BuildDailyReport queries the last 24 hours of publication activity.
func (n *Notifier) BuildDailyReport() (*DailyReport, error) {
	now := time.Now()
	since := now.Add(-24 * time.Hour)
	db := n.store.DB()

	report := &DailyReport{PeriodStart: since, PeriodEnd: now}

	var published int64
	if err := db.Model(&models.Post{}).
		Where("status = ? AND published_at >= ? AND published_at < ?", models.PostPublished, since, now).
		Count(&published).Error; err != nil {
		return nil, fmt.Errorf("notify: daily report: %w", err)
	}
	report.Published = int(published)

	var failed int64
	db.Model(&models.Post{}).
		Where("status = ? AND updated_at >= ? AND updated_at < ?", models.PostFailed, since, now).
		Count(&failed)
	report.Failed = int(failed)

	var cancelled int64
	db.Model(&models.Post{}).
		Where("status = ? AND updated_at >= ? AND updated_at < ?", models.PostCancelled, since, now).
		Count(&cancelled)
	report.Cancelled = int(cancelled)

	var scheduled int64
	db.Model(&models.Post{}).
		Where("status = ?", models.PostScheduled).
		Count(&scheduled)
	report.Scheduled = int(scheduled)

	var blocked int64
	db.Model(&models.Account{}).
		Where("status = ?", models.AccountBlocked).
		Count(&blocked)
	report.BlockedAccounts = int(blocked)

	return report, nil
}

// FormatDaily formats a daily report as a note.
func FormatDaily(report *DailyReport) Note {
	var lines []string
	lines = append(lines, fmt.Sprintf("Period: %s to %s",
		report.PeriodStart.Format("Jan 2 15:04"),
		report.PeriodEnd.Format("Jan 2 15:04")))
	lines = append(lines, fmt.Sprintf("Published: %d, failed: %d, cancelled: %d",
		report.Published, report.Failed, report.Cancelled))
	lines = append(lines, fmt.Sprintf("Still scheduled: %d", report.Scheduled))
	if report.BlockedAccounts > 0 {
		lines = append(lines, fmt.Sprintf("Blocked accounts: %d", report.BlockedAccounts))
	}

	severity, color := "info", colorInfo
	if report.Failed > 0 || report.BlockedAccounts > 0 {
		severity, color = "warning", colorWarning
	}
	return Note{
		Title:    "Daily publication digest",
		Body:     strings.Join(lines, "\n"),
		Severity: severity,
		Color:    color,
	}
}

// fireDigest builds and sends one digest. Suppressed when there was no
// activity in the period.
func (n *Notifier) fireDigest(ctx context.Context) {
	report, err := n.BuildDailyReport()
	if err != nil {
		log.Printf("notify: digest: %v", err)
		return
	}
	if report.Published == 0 && report.Failed == 0 && report.Cancelled == 0 {
		return
	}
	n.send(ctx, FormatDaily(report))
}
