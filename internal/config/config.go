package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":8080"`
	CORSOrigins string `envconfig:"CORS_ORIGINS"`

	// Upstream records API
	UpstreamBaseURL string `envconfig:"UPSTREAM_BASE_URL" default:"http://localhost:9090"`

	// Session persistence
	TokenDBPath string `envconfig:"TOKEN_DB_PATH" default:"clientdesk.db"`

	// Watchdog
	WatchdogPollInterval time.Duration `envconfig:"WATCHDOG_POLL_INTERVAL" default:"30s"`

	// Inbox (push-channel invalidations)
	InboxBuffer int `envconfig:"INBOX_BUFFER" default:"64"`

	// Slack (optional — forced sign-outs are only logged without it)
	SlackBotToken     string `envconfig:"SLACK_BOT_TOKEN"`
	SlackAlertChannel string `envconfig:"SLACK_ALERT_CHANNEL" default:"#clientdesk-alerts"`
}

// SlackEnabled returns true if the Slack notifier is configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackAlertChannel != ""
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	return &cfg, nil
}
