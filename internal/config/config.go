// Package config provides YAML-based configuration loading for PostPilot.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level PostPilot configuration, loaded from config.yaml.
type Config struct {
	Owner       string            `yaml:"owner"`
	DB          DBConfig          `yaml:"db"`
	Provisioner ProvisionerConfig `yaml:"provisioner"`
	Media       MediaConfig       `yaml:"media"`
	Automation  AutomationConfig  `yaml:"automation"`
	Notify      NotifyConfig      `yaml:"notify"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// DBConfig holds connection settings for the MySQL server.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// ProvisionerConfig holds settings for the remote browser-profile service.
type ProvisionerConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
	Timeout int    `yaml:"timeout_seconds"`
}

// MediaConfig holds settings for the S3-compatible media source.
type MediaConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	SpoolDir  string `yaml:"spool_dir"`
}

// AutomationConfig holds orchestration tunables shared by all sessions.
type AutomationConfig struct {
	MaxConcurrentAccounts   int  `yaml:"max_concurrent_accounts"`
	MaxPublishAttempts      int  `yaml:"max_publish_attempts"`
	MaxConsecutiveFailures  int  `yaml:"max_consecutive_failures"`
	AutoRestart             bool `yaml:"auto_restart"`
	RespectPlatformLimits   bool `yaml:"respect_platform_limits"`
	RetryBaseDelaySec       int  `yaml:"retry_base_delay_seconds"`
	RetryMaxDelaySec        int  `yaml:"retry_max_delay_seconds"`
	HealthIntervalSec       int  `yaml:"health_interval_seconds"`
	BreakerFailureThreshold int  `yaml:"breaker_failure_threshold"`
	BreakerSuccessThreshold int  `yaml:"breaker_success_threshold"`
	BreakerOpenTimeoutSec   int  `yaml:"breaker_open_timeout_seconds"`
}

// NotifyConfig holds notification sink settings.
type NotifyConfig struct {
	SlackToken     string `yaml:"slack_token"`
	SlackChannel   string `yaml:"slack_channel"`
	DiscordToken   string `yaml:"discord_token"`
	DiscordChannel string `yaml:"discord_channel"`
	DigestCron     string `yaml:"digest_cron"` // 5-field cron expression
}

// DashboardConfig holds the status server settings.
type DashboardConfig struct {
	Port int `yaml:"port"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.DB.Host == "" {
		c.DB.Host = "127.0.0.1"
	}
	if c.DB.Port == 0 {
		c.DB.Port = 3306
	}
	if c.DB.User == "" {
		c.DB.User = "root"
	}
	if c.DB.Database == "" && c.Owner != "" {
		c.DB.Database = "postpilot_" + c.Owner
	}
	if c.Provisioner.Timeout == 0 {
		c.Provisioner.Timeout = 30
	}
	if c.Media.Region == "" {
		c.Media.Region = "us-east-1"
	}
	if c.Media.SpoolDir == "" {
		c.Media.SpoolDir = os.TempDir()
	}
	if c.Automation.MaxConcurrentAccounts == 0 {
		c.Automation.MaxConcurrentAccounts = 3
	}
	if c.Automation.MaxPublishAttempts == 0 {
		c.Automation.MaxPublishAttempts = 3
	}
	if c.Automation.MaxConsecutiveFailures == 0 {
		c.Automation.MaxConsecutiveFailures = 5
	}
	if c.Automation.RetryBaseDelaySec == 0 {
		c.Automation.RetryBaseDelaySec = 60
	}
	if c.Automation.RetryMaxDelaySec == 0 {
		c.Automation.RetryMaxDelaySec = 900
	}
	if c.Automation.HealthIntervalSec == 0 {
		c.Automation.HealthIntervalSec = 120
	}
	if c.Automation.BreakerFailureThreshold == 0 {
		c.Automation.BreakerFailureThreshold = 5
	}
	if c.Automation.BreakerSuccessThreshold == 0 {
		c.Automation.BreakerSuccessThreshold = 2
	}
	if c.Automation.BreakerOpenTimeoutSec == 0 {
		c.Automation.BreakerOpenTimeoutSec = 300
	}
	if c.Notify.DigestCron == "" {
		c.Notify.DigestCron = "0 18 * * *"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Owner == "" {
		errs = append(errs, "owner is required")
	}
	if c.Provisioner.BaseURL == "" {
		errs = append(errs, "provisioner.base_url is required")
	}
	if c.Media.Bucket == "" {
		errs = append(errs, "media.bucket is required")
	}
	if c.Automation.MaxConcurrentAccounts < 1 {
		errs = append(errs, "automation.max_concurrent_accounts must be at least 1")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
