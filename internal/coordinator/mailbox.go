package coordinator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/postpilot/postpilot/internal/models"
)

const defaultMailboxPoll = 3 * time.Second

// RunMailbox polls the control-request table and applies each pending
// command, recording a result string per row. Commands are written by the
// CLI; the daemon is the only consumer. Runs until ctx is cancelled.
func (c *Coordinator) RunMailbox(ctx context.Context, poll time.Duration) {
	if poll <= 0 {
		poll = defaultMailboxPoll
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pending, err := c.store.PendingControlRequests()
		if err != nil {
			log.Printf("coordinator: mailbox: %v", err)
			continue
		}
		for i := range pending {
			req := &pending[i]
			result := c.applyControl(ctx, req)
			if err := c.store.ResolveControlRequest(req.ID, result); err != nil {
				log.Printf("coordinator: resolve request %d: %v", req.ID, err)
			}
		}
	}
}

// applyControl executes one mailbox command and returns its result line.
func (c *Coordinator) applyControl(ctx context.Context, req *models.ControlRequest) string {
	var accountIDs []string
	if req.AccountID != "" {
		accountIDs = []string{req.AccountID}
	}

	switch req.Command {
	case "start":
		ids := accountIDs
		if len(ids) == 0 {
			accounts, err := c.store.AccountsForUser(req.UserID)
			if err != nil {
				return fmt.Sprintf("error: %v", err)
			}
			for _, acct := range accounts {
				if acct.Status == models.AccountActive {
					ids = append(ids, acct.ID)
				}
			}
		}
		sessionIDs, err := c.Start(ctx, ids, req.UserID)
		if err != nil {
			return fmt.Sprintf("error (%s): %v", ReasonOf(err), err)
		}
		return fmt.Sprintf("started %d sessions", len(sessionIDs))

	case "stop":
		res, err := c.Stop(accountIDs, req.UserID, req.Force)
		if err != nil {
			return fmt.Sprintf("error (%s): %v", ReasonOf(err), err)
		}
		return fmt.Sprintf("stopped %d sessions (%d completed, %d cancelled)",
			res.Stopped, res.TasksCompleted, res.TasksCancelled)

	case "pause":
		if err := c.Pause(req.UserID); err != nil {
			return fmt.Sprintf("error (%s): %v", ReasonOf(err), err)
		}
		return "paused"

	case "resume":
		if err := c.Resume(req.UserID); err != nil {
			return fmt.Sprintf("error (%s): %v", ReasonOf(err), err)
		}
		return "resumed"

	case "publish-now":
		if err := c.PublishNow(req.PostID, models.PriorityHigh, req.UserID); err != nil {
			return fmt.Sprintf("error (%s): %v", ReasonOf(err), err)
		}
		return fmt.Sprintf("post %s queued for immediate publication", req.PostID)

	case "retry-failed":
		res, err := c.RetryFailed(accountIDs, req.UserID)
		if err != nil {
			return fmt.Sprintf("error (%s): %v", ReasonOf(err), err)
		}
		return fmt.Sprintf("retried %d, skipped %d, estimated %s",
			res.Retried, res.Skipped, res.EstimatedTime)

	case "emergency-stop":
		res, err := c.EmergencyStop(req.UserID)
		if err != nil {
			return fmt.Sprintf("error (%s): %v", ReasonOf(err), err)
		}
		return fmt.Sprintf("emergency stop: %d sessions, %d tasks cancelled",
			res.StoppedAccounts, res.CancelledTasks)

	default:
		return fmt.Sprintf("error (%s): unknown command %q", ReasonValidation, req.Command)
	}
}
