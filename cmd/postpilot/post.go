package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/postpilot/postpilot/internal/models"
)

func newPostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Manage scheduled posts",
	}

	cmd.AddCommand(newPostAddCmd())
	cmd.AddCommand(newPostListCmd())
	return cmd
}

func newPostAddCmd() *cobra.Command {
	var (
		configPath string
		accountID  string
		media      string
		caption    string
		location   string
		priority   int
		at         string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Schedule a post",
		RunE: func(cmd *cobra.Command, args []string) error {
			if accountID == "" || media == "" {
				return fmt.Errorf("post: --account and --media are required")
			}
			if priority < models.PriorityLow || priority > models.PriorityHigh {
				return fmt.Errorf("post: priority must be %d..%d", models.PriorityLow, models.PriorityHigh)
			}

			var scheduledAt *time.Time
			if at != "" {
				t, err := time.ParseInLocation("2006-01-02 15:04", at, time.Local)
				if err != nil {
					return fmt.Errorf("post: parse --at %q: %w", at, err)
				}
				scheduledAt = &t
			}

			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}

			var acct models.Account
			if err := gormDB.Where("id = ?", accountID).First(&acct).Error; err != nil {
				return fmt.Errorf("post: account %s: %w", accountID, err)
			}

			post := models.Post{
				ID:           newID(),
				AccountID:    accountID,
				MediaLocator: media,
				Caption:      caption,
				Location:     location,
				Priority:     priority,
				Status:       models.PostScheduled,
				ScheduledAt:  scheduledAt,
			}
			if err := gormDB.Create(&post).Error; err != nil {
				return fmt.Errorf("post: create: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Post %s scheduled for account %s\n", post.ID, acct.Username)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to PostPilot config file")
	cmd.Flags().StringVar(&accountID, "account", "", "account id")
	cmd.Flags().StringVar(&media, "media", "", "media locator (object key in the media bucket)")
	cmd.Flags().StringVar(&caption, "caption", "", "post caption")
	cmd.Flags().StringVar(&location, "location", "", "post location tag")
	cmd.Flags().IntVar(&priority, "priority", models.PriorityNormal, "0=low 1=normal 2=high")
	cmd.Flags().StringVar(&at, "at", "", `earliest publication time, "2006-01-02 15:04" local`)
	return cmd
}

func newPostListCmd() *cobra.Command {
	var (
		configPath string
		accountID  string
		status     string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List posts",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}

			q := gormDB.Model(&models.Post{})
			if accountID != "" {
				q = q.Where("account_id = ?", accountID)
			}
			if status != "" {
				q = q.Where("status = ?", status)
			}

			var posts []models.Post
			if err := q.Order("created_at DESC").Limit(100).Find(&posts).Error; err != nil {
				return fmt.Errorf("post: list: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(posts) == 0 {
				fmt.Fprintln(out, "No posts.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tACCOUNT\tSTATUS\tPRIO\tATTEMPTS\tSCHEDULED\tMEDIA")
			for _, p := range posts {
				scheduled := ""
				if p.ScheduledAt != nil {
					scheduled = p.ScheduledAt.Local().Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
					p.ID, p.AccountID, p.Status, p.Priority, p.Attempts, scheduled, p.MediaLocator)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to PostPilot config file")
	cmd.Flags().StringVar(&accountID, "account", "", "filter by account id")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}
