package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/internal/store"
)

// newControlCmds builds the commands that enqueue control requests for the
// running daemon. Each writes one ControlRequest row; the daemon's mailbox
// loop applies it and records the outcome on the row.
func newControlCmds() []*cobra.Command {
	return []*cobra.Command{
		newStartCmd(),
		newStopCmd(),
		newPauseCmd(),
		newResumeCmd(),
		newPublishNowCmd(),
		newRetryFailedCmd(),
		newEmergencyStopCmd(),
	}
}

// submitControl writes the request and reports it was queued.
func submitControl(cmd *cobra.Command, configPath string, req models.ControlRequest) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if req.UserID == "" {
		req.UserID = cfg.Owner
	}

	if err := store.New(gormDB).SubmitControlRequest(&req); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Queued %s (request %d); the daemon applies it within a few seconds.\n",
		req.Command, req.ID)
	return nil
}

func newStartCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		accountID  string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start automation sessions",
		Long:  "Starts a session for the given account, or for every active account of the user when --account is omitted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return submitControl(cmd, configPath, models.ControlRequest{
				UserID:    userID,
				Command:   "start",
				AccountID: accountID,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to PostPilot config file")
	cmd.Flags().StringVar(&userID, "user", "", "user id (default: config owner)")
	cmd.Flags().StringVar(&accountID, "account", "", "account id (default: all active accounts)")
	return cmd
}

func newStopCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		accountID  string
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop automation sessions",
		Long:  "Gracefully stops the account's session, preserving scheduled posts. With --force, pending jobs are cancelled.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return submitControl(cmd, configPath, models.ControlRequest{
				UserID:    userID,
				Command:   "stop",
				AccountID: accountID,
				Force:     force,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to PostPilot config file")
	cmd.Flags().StringVar(&userID, "user", "", "user id (default: config owner)")
	cmd.Flags().StringVar(&accountID, "account", "", "account id")
	cmd.Flags().BoolVar(&force, "force", false, "cancel pending jobs instead of draining")
	return cmd
}

func newPauseCmd() *cobra.Command {
	var (
		configPath string
		userID     string
	)

	cmd := &cobra.Command{
		Use:   "pause",
		Short: "Pause all publishing",
		Long:  "Freezes every publishing session of the user. Profiles stay provisioned; resume picks up where it left off.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return submitControl(cmd, configPath, models.ControlRequest{
				UserID:  userID,
				Command: "pause",
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to PostPilot config file")
	cmd.Flags().StringVar(&userID, "user", "", "user id (default: config owner)")
	return cmd
}

func newResumeCmd() *cobra.Command {
	var (
		configPath string
		userID     string
	)

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume paused sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return submitControl(cmd, configPath, models.ControlRequest{
				UserID:  userID,
				Command: "resume",
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to PostPilot config file")
	cmd.Flags().StringVar(&userID, "user", "", "user id (default: config owner)")
	return cmd
}

func newPublishNowCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		postID     string
	)

	cmd := &cobra.Command{
		Use:   "publish-now",
		Short: "Publish a post immediately",
		Long:  "Injects the post at high priority, bypassing quota and working-hours checks. The account's session must be running.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if postID == "" {
				return fmt.Errorf("publish-now: --post is required")
			}
			return submitControl(cmd, configPath, models.ControlRequest{
				UserID:  userID,
				Command: "publish-now",
				PostID:  postID,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to PostPilot config file")
	cmd.Flags().StringVar(&userID, "user", "", "user id (default: config owner)")
	cmd.Flags().StringVar(&postID, "post", "", "post id")
	return cmd
}

func newRetryFailedCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		accountID  string
	)

	cmd := &cobra.Command{
		Use:   "retry-failed",
		Short: "Re-queue terminally failed posts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return submitControl(cmd, configPath, models.ControlRequest{
				UserID:    userID,
				Command:   "retry-failed",
				AccountID: accountID,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to PostPilot config file")
	cmd.Flags().StringVar(&userID, "user", "", "user id (default: config owner)")
	cmd.Flags().StringVar(&accountID, "account", "", "restrict to one account")
	return cmd
}

func newEmergencyStopCmd() *cobra.Command {
	var (
		configPath string
		userID     string
	)

	cmd := &cobra.Command{
		Use:   "emergency-stop",
		Short: "Stop everything immediately",
		Long:  "Force-stops every session of the user without draining. Pending jobs are cancelled.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return submitControl(cmd, configPath, models.ControlRequest{
				UserID:  userID,
				Command: "emergency-stop",
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to PostPilot config file")
	cmd.Flags().StringVar(&userID, "user", "", "user id (default: config owner)")
	return cmd
}
