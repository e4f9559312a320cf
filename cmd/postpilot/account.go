package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/postpilot/postpilot/internal/models"
)

func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage platform accounts",
	}

	cmd.AddCommand(newAccountAddCmd())
	cmd.AddCommand(newAccountListCmd())
	return cmd
}

func newAccountAddCmd() *cobra.Command {
	var (
		configPath  string
		userID      string
		username    string
		mediaFolder string
		dailyQuota  int
		minInterval int
		maxInterval int
		hourStart   int
		hourEnd     int
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a platform account",
		Long:  "Registers a platform account for automation. The password is prompted interactively and never echoed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" || username == "" {
				return fmt.Errorf("account: --user and --username are required")
			}

			password, err := readPassword()
			if err != nil {
				return err
			}

			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}

			acct := models.Account{
				ID:               newID(),
				UserID:           userID,
				Username:         username,
				Password:         password,
				MediaFolder:      mediaFolder,
				DailyQuota:       dailyQuota,
				MinIntervalMin:   minInterval,
				MaxIntervalMin:   maxInterval,
				WorkingHourStart: hourStart,
				WorkingHourEnd:   hourEnd,
			}
			if err := gormDB.Create(&acct).Error; err != nil {
				return fmt.Errorf("account: create: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account %s registered as %s\n", username, acct.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to PostPilot config file")
	cmd.Flags().StringVar(&userID, "user", "", "owning user id")
	cmd.Flags().StringVar(&username, "username", "", "platform login name")
	cmd.Flags().StringVar(&mediaFolder, "media-folder", "", "media source folder for this account")
	cmd.Flags().IntVar(&dailyQuota, "daily-quota", 3, "maximum posts per calendar day")
	cmd.Flags().IntVar(&minInterval, "min-interval", 120, "minimum minutes between posts")
	cmd.Flags().IntVar(&maxInterval, "max-interval", 360, "maximum minutes between posts")
	cmd.Flags().IntVar(&hourStart, "hour-start", 9, "working window start hour (0-23)")
	cmd.Flags().IntVar(&hourEnd, "hour-end", 21, "working window end hour (0-23)")
	return cmd
}

// readPassword prompts on stderr and reads with echo disabled. Falls back
// to the POSTPILOT_PASSWORD environment variable when stdin is not a
// terminal (scripted setups).
func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		if p := os.Getenv("POSTPILOT_PASSWORD"); p != "" {
			return p, nil
		}
		return "", fmt.Errorf("account: no terminal for password prompt (set POSTPILOT_PASSWORD)")
	}

	fmt.Fprint(os.Stderr, "Password: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("account: read password: %w", err)
	}
	password := strings.TrimSpace(string(raw))
	if password == "" {
		return "", fmt.Errorf("account: password must not be empty")
	}
	return password, nil
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func newAccountListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}

			var accounts []models.Account
			if err := gormDB.Order("created_at ASC").Find(&accounts).Error; err != nil {
				return fmt.Errorf("account: list: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(accounts) == 0 {
				fmt.Fprintln(out, "No accounts registered.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUSER\tUSERNAME\tSTATUS\tQUOTA\tWINDOW\tPROFILE")
			for _, a := range accounts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/day\t%02d-%02d\t%s\n",
					a.ID, a.UserID, a.Username, a.Status, a.DailyQuota,
					a.WorkingHourStart, a.WorkingHourEnd, a.ProfileID)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to PostPilot config file")
	return cmd
}
