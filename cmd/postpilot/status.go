package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/postpilot/postpilot/internal/models"
)

func newStatusCmd() *cobra.Command {
	var (
		configPath string
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show automation status",
		Long:  "Displays accounts, live session records, post counts, and pending control commands. Use --watch for auto-refresh.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatusCmd(cmd, configPath, watch)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to PostPilot config file")
	cmd.Flags().BoolVar(&watch, "watch", false, "auto-refresh every 5 seconds")
	return cmd
}

func runStatusCmd(cmd *cobra.Command, configPath string, watch bool) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for {
		if watch {
			fmt.Fprint(out, "\033[2J\033[H")
		}

		countByStatus := func(model any, column string) map[string]int64 {
			type row struct {
				Status string
				Count  int64
			}
			var rows []row
			gormDB.Model(model).Select(column + " as status, count(*) as count").Group(column).Find(&rows)
			m := make(map[string]int64, len(rows))
			for _, r := range rows {
				m[r.Status] = r.Count
			}
			return m
		}

		accounts := countByStatus(&models.Account{}, "status")
		posts := countByStatus(&models.Post{}, "status")

		fmt.Fprintf(out, "Accounts: %d active, %d paused, %d blocked\n",
			accounts[models.AccountActive], accounts[models.AccountPaused], accounts[models.AccountBlocked])
		fmt.Fprintf(out, "Posts:    %d scheduled, %d published, %d failed, %d cancelled\n",
			posts[models.PostScheduled], posts[models.PostPublished],
			posts[models.PostFailed], posts[models.PostCancelled])

		var sessions []models.SessionRecord
		gormDB.Where("stopped_at IS NULL").Order("started_at ASC").Find(&sessions)
		if len(sessions) > 0 {
			fmt.Fprintln(out, "\nLive sessions:")
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tACCOUNT\tSTATE\tDONE\tFAILED\tHEALTH\tLAST ACTIVITY")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					s.ID, s.AccountID, s.State, s.TasksCompleted, s.TasksFailed,
					s.HealthScore, s.LastActivity.Local().Format("15:04:05"))
			}
			w.Flush()
		} else {
			fmt.Fprintln(out, "\nNo live sessions.")
		}

		var pending int64
		gormDB.Model(&models.ControlRequest{}).Where("applied = ?", false).Count(&pending)
		if pending > 0 {
			fmt.Fprintf(out, "\n%d control command(s) waiting for the daemon.\n", pending)
		}

		if !watch {
			return nil
		}
		time.Sleep(5 * time.Second)
	}
}
