package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ignite/outreach-dispatcher/internal/domain"
)

// Config holds all configuration for the dispatcher.
type Config struct {
	Timezone    string          `yaml:"timezone"`
	Database    DatabaseConfig  `yaml:"database"`
	Redis       RedisConfig     `yaml:"redis"`
	Roster      RosterConfig    `yaml:"roster"`
	Windows     WindowsConfig   `yaml:"windows"`
	Sequence    domain.Sequence `yaml:"sequence"`
	Dispatch    DispatchConfig  `yaml:"dispatch"`
	Delivery    DeliveryConfig  `yaml:"delivery"`
	Templates   TemplatesConfig `yaml:"templates"`
	Telegram    TelegramConfig  `yaml:"telegram"`
	Signals     SignalsConfig   `yaml:"signals"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the optional Redis settings used for the singleton
// process lease. When Addr is empty the dispatcher falls back to a
// Postgres advisory lock.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RosterConfig describes the sending identities.
type RosterConfig struct {
	Identities []string `yaml:"identities"`
	// HighVolume disables the business-day rotation that pauses a
	// small deterministic subset of identities each day.
	HighVolume bool `yaml:"high_volume"`
}

// Window is one sending window: PerIdentity slots are generated for
// every active identity between StartHour and EndHour.
type Window struct {
	StartHour   int `yaml:"start_hour"`
	EndHour     int `yaml:"end_hour"`
	PerIdentity int `yaml:"per_identity"`
}

// WindowsConfig holds the per-day-type window policies.
type WindowsConfig struct {
	Business []Window `yaml:"business"`
	Weekend  []Window `yaml:"weekend"`
}

// For returns the window policy for a day type.
func (w WindowsConfig) For(dt domain.DayType) []Window {
	if dt == domain.DayWeekend {
		return w.Weekend
	}
	return w.Business
}

// DispatchConfig holds engine timing knobs. Durations are minutes to
// keep the YAML surface simple.
type DispatchConfig struct {
	PrepareHour             int `yaml:"prepare_hour"`
	MisfireGraceMinutes     int `yaml:"misfire_grace_minutes"`
	StaleClaimMaxAgeMinutes int `yaml:"stale_claim_max_age_minutes"`
	StaleScanMinutes        int `yaml:"stale_scan_minutes"`
	Stage1CacheTTLMinutes   int `yaml:"stage1_cache_ttl_minutes"`
	FollowUpCacheTTLMinutes int `yaml:"followup_cache_ttl_minutes"`
	CandidateCacheSize      int `yaml:"candidate_cache_size"`
	ClaimMaxRetries         int `yaml:"claim_max_retries"`
	RecordSentMaxRetries    int `yaml:"record_sent_max_retries"`
}

// MisfireGrace is how late a slot may fire after a brief outage.
func (d DispatchConfig) MisfireGrace() time.Duration {
	return time.Duration(d.MisfireGraceMinutes) * time.Minute
}

// StaleClaimMaxAge is the claim age beyond which a claim is reported
// for operator review.
func (d DispatchConfig) StaleClaimMaxAge() time.Duration {
	return time.Duration(d.StaleClaimMaxAgeMinutes) * time.Minute
}

// StaleScanInterval is how often the stale-claim scanner runs.
func (d DispatchConfig) StaleScanInterval() time.Duration {
	return time.Duration(d.StaleScanMinutes) * time.Minute
}

// Stage1CacheTTL is the freshness window of the stage-1 candidate cache.
func (d DispatchConfig) Stage1CacheTTL() time.Duration {
	return time.Duration(d.Stage1CacheTTLMinutes) * time.Minute
}

// FollowUpCacheTTL is the freshness window of the per-identity
// follow-up candidate caches.
func (d DispatchConfig) FollowUpCacheTTL() time.Duration {
	return time.Duration(d.FollowUpCacheTTLMinutes) * time.Minute
}

// DeliveryConfig selects and configures the delivery transport.
type DeliveryConfig struct {
	Provider string         `yaml:"provider"` // "mailreef" or "ses"
	Mailreef MailreefConfig `yaml:"mailreef"`
	SES      SESConfig      `yaml:"ses"`
}

// MailreefConfig holds the Mailreef HTTP API settings.
type MailreefConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// SESConfig holds AWS SES v2 credentials.
type SESConfig struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
}

// TemplatesConfig points at the liquid template directory.
type TemplatesConfig struct {
	Dir string `yaml:"dir"`
}

// TelegramConfig holds operator alert settings. Both fields empty
// disables alerting (a no-op notifier is used).
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// SignalsConfig holds the webhook listener settings for external
// reply/bounce/complaint signal sources.
type SignalsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Load reads configuration from a YAML file and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.fillDefaults()
	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets
// can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("MAILREEF_API_KEY"); v != "" {
		cfg.Delivery.Mailreef.APIKey = v
	}
	if v := os.Getenv("MAILREEF_API_BASE"); v != "" {
		cfg.Delivery.Mailreef.BaseURL = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Delivery.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Delivery.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Delivery.SES.Region = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}

	return cfg, nil
}

func (cfg *Config) fillDefaults() {
	if cfg.Timezone == "" {
		cfg.Timezone = "America/New_York"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if len(cfg.Sequence) == 0 {
		cfg.Sequence = domain.Sequence{
			{Stage: 1, DelayDays: 0},
			{Stage: 2, DelayDays: 4},
		}
	}
	if cfg.Dispatch.PrepareHour == 0 {
		cfg.Dispatch.PrepareHour = 5
	}
	if cfg.Dispatch.MisfireGraceMinutes == 0 {
		cfg.Dispatch.MisfireGraceMinutes = 60
	}
	if cfg.Dispatch.StaleClaimMaxAgeMinutes == 0 {
		cfg.Dispatch.StaleClaimMaxAgeMinutes = 60
	}
	if cfg.Dispatch.StaleScanMinutes == 0 {
		cfg.Dispatch.StaleScanMinutes = 15
	}
	if cfg.Dispatch.Stage1CacheTTLMinutes == 0 {
		cfg.Dispatch.Stage1CacheTTLMinutes = 5
	}
	if cfg.Dispatch.FollowUpCacheTTLMinutes == 0 {
		cfg.Dispatch.FollowUpCacheTTLMinutes = 10
	}
	if cfg.Dispatch.CandidateCacheSize == 0 {
		cfg.Dispatch.CandidateCacheSize = 50
	}
	if cfg.Dispatch.ClaimMaxRetries == 0 {
		cfg.Dispatch.ClaimMaxRetries = 3
	}
	if cfg.Dispatch.RecordSentMaxRetries == 0 {
		cfg.Dispatch.RecordSentMaxRetries = 3
	}
	if cfg.Delivery.Provider == "" {
		cfg.Delivery.Provider = "mailreef"
	}
	if cfg.Delivery.Mailreef.BaseURL == "" {
		cfg.Delivery.Mailreef.BaseURL = "https://api.mailreef.com"
	}
	if cfg.Delivery.SES.Region == "" {
		cfg.Delivery.SES.Region = "us-east-1"
	}
	if cfg.Templates.Dir == "" {
		cfg.Templates.Dir = "templates"
	}
	if cfg.Signals.ListenAddr == "" {
		cfg.Signals.ListenAddr = ":8087"
	}
	if len(cfg.Windows.Business) == 0 {
		cfg.Windows.Business = defaultBusinessWindows()
	}
	if len(cfg.Windows.Weekend) == 0 {
		cfg.Windows.Weekend = cfg.Windows.Business
	}
}

func defaultBusinessWindows() []Window {
	// 6:00-19:00 local with a lull around midday; tuned for sender
	// reputation rather than raw throughput.
	return []Window{
		{StartHour: 6, EndHour: 7, PerIdentity: 4},
		{StartHour: 7, EndHour: 8, PerIdentity: 4},
		{StartHour: 8, EndHour: 9, PerIdentity: 6},
		{StartHour: 9, EndHour: 10, PerIdentity: 8},
		{StartHour: 10, EndHour: 11, PerIdentity: 6},
		{StartHour: 12, EndHour: 13, PerIdentity: 6},
		{StartHour: 15, EndHour: 16, PerIdentity: 4},
		{StartHour: 16, EndHour: 17, PerIdentity: 4},
		{StartHour: 17, EndHour: 18, PerIdentity: 4},
		{StartHour: 18, EndHour: 19, PerIdentity: 4},
	}
}

// Validate checks the parts of the config that must be fatal at
// startup: missing delivery credentials, an unusable timezone, an
// invalid sequence, or an empty roster.
func (cfg *Config) Validate() error {
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf("config: invalid timezone %q: %w", cfg.Timezone, err)
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("config: database.url is required")
	}
	if err := cfg.Sequence.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if len(cfg.Roster.Identities) == 0 {
		return fmt.Errorf("config: roster.identities is empty")
	}
	for _, id := range cfg.Roster.Identities {
		if !strings.Contains(id, "@") {
			return fmt.Errorf("config: identity %q is not an email address", id)
		}
	}
	for _, w := range append(append([]Window{}, cfg.Windows.Business...), cfg.Windows.Weekend...) {
		if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < w.StartHour || w.PerIdentity < 0 {
			return fmt.Errorf("config: invalid window %d:00-%d:00 (per_identity=%d)", w.StartHour, w.EndHour, w.PerIdentity)
		}
	}
	switch cfg.Delivery.Provider {
	case "mailreef":
		if cfg.Delivery.Mailreef.APIKey == "" {
			return fmt.Errorf("config: delivery.mailreef.api_key is required (set MAILREEF_API_KEY)")
		}
	case "ses":
		if cfg.Delivery.SES.AccessKey == "" || cfg.Delivery.SES.SecretKey == "" {
			return fmt.Errorf("config: delivery.ses credentials are required")
		}
	default:
		return fmt.Errorf("config: unknown delivery provider %q", cfg.Delivery.Provider)
	}
	return nil
}

// Location returns the configured timezone. Validate must have passed.
func (cfg *Config) Location() *time.Location {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
