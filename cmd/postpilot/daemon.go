package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/postpilot/postpilot/internal/breaker"
	"github.com/postpilot/postpilot/internal/config"
	"github.com/postpilot/postpilot/internal/coordinator"
	"github.com/postpilot/postpilot/internal/dashboard"
	"github.com/postpilot/postpilot/internal/events"
	"github.com/postpilot/postpilot/internal/health"
	"github.com/postpilot/postpilot/internal/mediasource"
	"github.com/postpilot/postpilot/internal/notify"
	"github.com/postpilot/postpilot/internal/provisioner"
	"github.com/postpilot/postpilot/internal/session"
	"github.com/postpilot/postpilot/internal/store"
)

const mailboxPoll = 3 * time.Second

func newDaemonCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the automation daemon",
		Long:  "Runs the coordinator, control mailbox, health monitor, dashboard API, and notification sinks until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to PostPilot config file")
	return cmd
}

func runDaemon(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Connected to %s as owner %q\n", cfg.DB.Database, cfg.Owner)

	st := store.New(gormDB)
	bus := events.NewBus(500, gormDB)
	breakers := breaker.NewRegistry(breaker.Options{
		FailureThreshold: cfg.Automation.BreakerFailureThreshold,
		SuccessThreshold: cfg.Automation.BreakerSuccessThreshold,
		OpenTimeout:      time.Duration(cfg.Automation.BreakerOpenTimeoutSec) * time.Second,
	})

	provTimeout := time.Duration(cfg.Provisioner.Timeout) * time.Second
	prov := provisioner.New(cfg.Provisioner.BaseURL, cfg.Provisioner.Token, provTimeout)
	pub := provisioner.NewAutomation(cfg.Provisioner.BaseURL, cfg.Provisioner.Token, 0)
	media := mediasource.New(mediasource.Options{
		Endpoint:  cfg.Media.Endpoint,
		Region:    cfg.Media.Region,
		Bucket:    cfg.Media.Bucket,
		AccessKey: cfg.Media.AccessKey,
		SecretKey: cfg.Media.SecretKey,
		SpoolDir:  cfg.Media.SpoolDir,
	})

	coord := coordinator.New(st, prov, pub, media, breakers, bus, coordinator.Options{
		MaxConcurrentAccounts: cfg.Automation.MaxConcurrentAccounts,
		Session: session.Settings{
			MaxPublishAttempts:     cfg.Automation.MaxPublishAttempts,
			MaxConsecutiveFailures: cfg.Automation.MaxConsecutiveFailures,
			AutoRestart:            cfg.Automation.AutoRestart,
			RespectPlatformLimits:  cfg.Automation.RespectPlatformLimits,
			RetryBaseDelay:         time.Duration(cfg.Automation.RetryBaseDelaySec) * time.Second,
			RetryMaxDelay:          time.Duration(cfg.Automation.RetryMaxDelaySec) * time.Second,
		},
	}, out)

	monitor := health.New(st, prov, pub, coord, bus, health.Options{
		Interval: time.Duration(cfg.Automation.HealthIntervalSec) * time.Second,
	}, out)

	notifier := notify.New(bus, st, notify.Options{DigestCron: cfg.Notify.DigestCron},
		buildSinks(cfg, out)...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(out, "Shutting down...")
		cancel()
	}()

	go coord.RunMailbox(ctx, mailboxPoll)
	go monitor.Run(ctx)
	go notifier.Run(ctx)

	fmt.Fprintf(out, "Daemon running; control commands are picked up every %s\n", mailboxPoll)

	// The dashboard server blocks until ctx is cancelled.
	err = dashboard.Start(ctx, dashboard.StartOpts{
		Coordinator: coord,
		DB:          gormDB,
		Port:        cfg.Dashboard.Port,
		Out:         out,
	})

	coord.Shutdown()
	fmt.Fprintln(out, "All sessions stopped.")
	return err
}

// buildSinks assembles notification sinks from config. Misconfigured sinks
// are reported and skipped rather than failing daemon startup.
func buildSinks(cfg *config.Config, out io.Writer) []notify.Sink {
	var sinks []notify.Sink
	if cfg.Notify.SlackToken != "" {
		sink, err := notify.NewSlack(notify.SlackOpts{
			Token:     cfg.Notify.SlackToken,
			ChannelID: cfg.Notify.SlackChannel,
		})
		if err != nil {
			fmt.Fprintf(out, "Slack sink disabled: %v\n", err)
		} else {
			sinks = append(sinks, sink)
		}
	}
	if cfg.Notify.DiscordToken != "" {
		sink, err := notify.NewDiscord(notify.DiscordOpts{
			Token:     cfg.Notify.DiscordToken,
			ChannelID: cfg.Notify.DiscordChannel,
		})
		if err != nil {
			fmt.Fprintf(out, "Discord sink disabled: %v\n", err)
		} else {
			sinks = append(sinks, sink)
		}
	}
	return sinks
}
