// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	DB         DBConfig         `mapstructure:"db"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
	GoLogin    GoLoginConfig    `mapstructure:"gologin"`
	MailTester MailTesterConfig `mapstructure:"mailtester"`
	Enrich     EnrichConfig     `mapstructure:"enrich"`
	Instantly  ToolConfig       `mapstructure:"instantly"`
	Smartlead  ToolConfig       `mapstructure:"smartlead"`
	Whop       WhopConfig       `mapstructure:"whop"`
	Storage    StorageConfig    `mapstructure:"storage"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication and role mapping.
type AuthConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	APIKey     string   `mapstructure:"api_key"`
	AdminUsers []string `mapstructure:"admin_users"`
}

// DBConfig controls access to the relational database. An empty DSN
// selects the in-memory store.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// QueueConfig governs the processor loop and startup reconciliation.
type QueueConfig struct {
	// OrphanThresholdMinutes is the age beyond which a processing row
	// from a previous run is reset to pending at startup.
	OrphanThresholdMinutes int `mapstructure:"orphan_threshold_minutes"`
	// PollIntervalSeconds is the worker wake fallback for missed
	// enqueue signals.
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
}

// JobsConfig bounds job submissions and pricing.
type JobsConfig struct {
	MaxPages           int   `mapstructure:"max_pages"`
	MaxEmails          int   `mapstructure:"max_emails"`
	ScrapeCostPerPage  int64 `mapstructure:"scrape_cost_per_page"`
	VerifyCostPerEmail int64 `mapstructure:"verify_cost_per_email"`
}

// GoLoginConfig configures the remote browser provider.
type GoLoginConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	Token             string `mapstructure:"token"`
	ProfileID         string `mapstructure:"profile_id"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs     int    `mapstructure:"settle_delay_ms"`
}

// MailTesterConfig configures the verification provider and its key pool.
type MailTesterConfig struct {
	BaseURL        string   `mapstructure:"base_url"`
	APIKeys        []string `mapstructure:"api_keys"`
	BatchSize      int      `mapstructure:"batch_size"`
	BatchDelayMs   int      `mapstructure:"batch_delay_ms"`
	RequestsPerSec float64  `mapstructure:"requests_per_sec"`
}

// EnrichConfig toggles company-page enrichment during scrapes.
type EnrichConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	UserAgent string `mapstructure:"user_agent"`
}

// ToolConfig holds credentials for an outreach campaign tool.
type ToolConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// WhopConfig configures billing webhook verification.
type WhopConfig struct {
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// StorageConfig selects the blob backend for CSV exports.
type StorageConfig struct {
	Backend  string `mapstructure:"backend"`
	LocalDir string `mapstructure:"local_dir"`
	Bucket   string `mapstructure:"bucket"`
}

// PubSubConfig holds metadata for job lifecycle notifications. An empty
// project ID selects the in-process publisher.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LEADENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("jobs.max_pages", 100)
	v.SetDefault("jobs.max_emails", 10000)
	v.SetDefault("jobs.scrape_cost_per_page", 25)
	v.SetDefault("jobs.verify_cost_per_email", 1)
	v.SetDefault("gologin.base_url", "https://api.gologin.com")
	v.SetDefault("gologin.nav_timeout_seconds", 60)
	v.SetDefault("gologin.settle_delay_ms", 1500)
	v.SetDefault("mailtester.base_url", "https://happy.mailtester.ninja")
	v.SetDefault("mailtester.batch_size", 10)
	v.SetDefault("mailtester.batch_delay_ms", 2100)
	v.SetDefault("mailtester.requests_per_sec", 5.0)
	v.SetDefault("queue.orphan_threshold_minutes", 15)
	v.SetDefault("queue.poll_interval_seconds", 3)
	v.SetDefault("enrich.enabled", true)
	v.SetDefault("enrich.user_agent", "leadengine-bot/0.1")
	v.SetDefault("instantly.base_url", "https://api.instantly.ai")
	v.SetDefault("smartlead.base_url", "https://server.smartlead.ai")
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "exports")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Jobs.MaxPages <= 0 {
		return fmt.Errorf("jobs.max_pages must be > 0")
	}
	if c.Jobs.MaxEmails <= 0 {
		return fmt.Errorf("jobs.max_emails must be > 0")
	}
	if c.MailTester.BatchSize <= 0 {
		return fmt.Errorf("mailtester.batch_size must be > 0")
	}
	if c.Queue.OrphanThresholdMinutes <= 0 {
		return fmt.Errorf("queue.orphan_threshold_minutes must be > 0")
	}
	if c.Queue.PollIntervalSeconds <= 0 {
		return fmt.Errorf("queue.poll_interval_seconds must be > 0")
	}
	switch c.Storage.Backend {
	case "memory", "local", "gcs":
	default:
		return fmt.Errorf("storage.backend must be memory, local, or gcs")
	}
	if c.Storage.Backend == "gcs" && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket must be set for the gcs backend")
	}
	return nil
}

// RequestTimeout converts the configured server timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// OrphanThreshold converts the reconciliation age limit into a duration.
func (c QueueConfig) OrphanThreshold() time.Duration {
	return time.Duration(c.OrphanThresholdMinutes) * time.Minute
}

// PollInterval converts the worker wake fallback into a duration.
func (c QueueConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// NavTimeout converts the browser navigation timeout into a duration.
func (c GoLoginConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSeconds) * time.Second
}

// SettleDelay converts the post-navigation settle delay into a duration.
func (c GoLoginConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}

// BatchDelay converts the verification batch delay into a duration.
func (c MailTesterConfig) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelayMs) * time.Millisecond
}
