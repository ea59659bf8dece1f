package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

// Scheduler execution modes.
const (
	ModeSingle   = "SINGLE"
	ModeCluster  = "CLUSTER"
	ModeDisabled = "DISABLED"
)

// Overlap policies for a tick that fires while the previous one still runs.
const (
	OverlapSkip  = "skip"
	OverlapDelay = "delay"
)

const (
	DefaultPollInterval  = 30 * time.Second
	DefaultBatchSize     = 100
	DefaultInitialJitter = 5 * time.Second
	DefaultLeaseTTL      = 20 * time.Second
	DefaultLeaseName     = "alarm-scheduler"
	// DefaultHorizon bounds recurrence expansion.
	DefaultHorizon = 365 * 24 * time.Hour
)

// FeedConfig describes a single ICS subscription whose events are scheduled
// for the listed attendees.
type FeedConfig struct {
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// URL is the ICS endpoint (http, https, file path or file:// URL).
	URL string `yaml:"url" json:"url"`
	// Attendees are the addresses alarms are computed for.
	Attendees []string `yaml:"attendees" json:"attendees"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the HTTP API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

type DatabaseConfig struct {
	// Path of the SQLite database holding alarms and the lease ledger.
	Path        string        `yaml:"path" json:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout" json:"busy_timeout"`
}

type SchedulerConfig struct {
	// Mode is one of SINGLE, CLUSTER, DISABLED.
	Mode         string        `yaml:"mode" json:"mode"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	BatchSize    int           `yaml:"batch_size" json:"batch_size"`
	// ItemDelay paces consecutive alarms of one batch. Zero disables pacing.
	ItemDelay     time.Duration `yaml:"item_delay" json:"item_delay"`
	InitialJitter time.Duration `yaml:"initial_jitter" json:"initial_jitter"`
	// LeaseTTL must stay below PollInterval so a crashed holder's turn
	// lapses before the next tick.
	LeaseTTL  time.Duration `yaml:"lease_ttl" json:"lease_ttl"`
	LeaseName string        `yaml:"lease_name" json:"lease_name"`
	// Overlap is "skip" or "delay".
	Overlap string        `yaml:"overlap" json:"overlap"`
	Horizon time.Duration `yaml:"horizon" json:"horizon"`
}

type MailConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	// TLS is one of "mandatory", "opportunistic", "none".
	TLS     string        `yaml:"tls" json:"tls"`
	From    string        `yaml:"from" json:"from"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

type SettingsConfig struct {
	// Path of a YAML file with per-recipient settings. Empty means every
	// recipient gets the defaults below.
	Path            string `yaml:"path" json:"path"`
	DefaultLocale   string `yaml:"default_locale" json:"default_locale"`
	DefaultTimezone string `yaml:"default_timezone" json:"default_timezone"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for health, metrics and the API.
	// Empty disables the HTTP server.
	Listen string `yaml:"listen" json:"listen"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	Database  DatabaseConfig  `yaml:"database" json:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`
	Mail      MailConfig      `yaml:"mail" json:"mail"`
	Settings  SettingsConfig  `yaml:"settings" json:"settings"`

	// Feeds is the list of subscribed ICS sources.
	Feeds []FeedConfig `yaml:"feeds" json:"feeds"`
	// FeedsRefresh is a cron-style schedule string (e.g. "*/15 * * * *")
	// used for periodic feed sync.
	FeedsRefresh string `yaml:"feeds_refresh" json:"feeds_refresh"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   "127.0.0.1:8080",
		LogLevel: "info",
		Database: DatabaseConfig{
			Path:        "/var/lib/calalarm/calalarm.db",
			BusyTimeout: 5 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Mode:          ModeSingle,
			PollInterval:  DefaultPollInterval,
			BatchSize:     DefaultBatchSize,
			InitialJitter: DefaultInitialJitter,
			LeaseTTL:      DefaultLeaseTTL,
			LeaseName:     DefaultLeaseName,
			Overlap:       OverlapSkip,
			Horizon:       DefaultHorizon,
		},
		Mail: MailConfig{
			Host:    "localhost",
			Port:    25,
			TLS:     "opportunistic",
			From:    "noreply@localhost",
			Timeout: 15 * time.Second,
		},
		Settings: SettingsConfig{
			DefaultLocale:   "en",
			DefaultTimezone: "UTC",
		},
		Feeds:        []FeedConfig{},
		FeedsRefresh: "*/15 * * * *",
		BasicAuth:    nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Database.Path == "" {
		c.Database.Path = def.Database.Path
	}
	if c.Database.BusyTimeout <= 0 {
		c.Database.BusyTimeout = def.Database.BusyTimeout
	}

	s := &c.Scheduler
	s.Mode = strings.ToUpper(strings.TrimSpace(s.Mode))
	if s.Mode == "" {
		s.Mode = ModeSingle
	}
	if s.PollInterval <= 0 {
		s.PollInterval = DefaultPollInterval
	}
	if s.BatchSize <= 0 {
		s.BatchSize = DefaultBatchSize
	}
	if s.ItemDelay < 0 {
		s.ItemDelay = 0
	}
	if s.InitialJitter < 0 {
		s.InitialJitter = 0
	}
	if s.LeaseTTL <= 0 {
		s.LeaseTTL = DefaultLeaseTTL
	}
	// The lease must lapse before the next tick is due.
	if s.LeaseTTL >= s.PollInterval {
		s.LeaseTTL = s.PollInterval * 2 / 3
	}
	if s.LeaseName == "" {
		s.LeaseName = DefaultLeaseName
	}
	s.Overlap = strings.ToLower(strings.TrimSpace(s.Overlap))
	if s.Overlap != OverlapDelay {
		s.Overlap = OverlapSkip
	}
	if s.Horizon <= 0 {
		s.Horizon = DefaultHorizon
	}

	if c.Mail.Port <= 0 {
		c.Mail.Port = def.Mail.Port
	}
	if c.Mail.TLS == "" {
		c.Mail.TLS = def.Mail.TLS
	}
	if c.Mail.Timeout <= 0 {
		c.Mail.Timeout = def.Mail.Timeout
	}

	if c.Settings.DefaultLocale == "" {
		c.Settings.DefaultLocale = def.Settings.DefaultLocale
	}
	if c.Settings.DefaultTimezone == "" {
		c.Settings.DefaultTimezone = def.Settings.DefaultTimezone
	}

	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	if c.FeedsRefresh == "" {
		c.FeedsRefresh = def.FeedsRefresh
	}
}

// Validate reports settings that cannot be defaulted. Call after Normalize.
func (c *Config) Validate() error {
	switch c.Scheduler.Mode {
	case ModeSingle, ModeCluster, ModeDisabled:
	default:
		return fmt.Errorf("scheduler.mode: unsupported value %q", c.Scheduler.Mode)
	}
	switch c.Mail.TLS {
	case "mandatory", "opportunistic", "none":
	default:
		return fmt.Errorf("mail.tls: unsupported value %q", c.Mail.TLS)
	}
	if strings.TrimSpace(c.Mail.From) == "" {
		return errors.New("mail.from: sender address must not be empty")
	}
	if _, err := time.LoadLocation(c.Settings.DefaultTimezone); err != nil {
		return fmt.Errorf("settings.default_timezone: %w", err)
	}
	for i, f := range c.Feeds {
		if f.URL == "" {
			return fmt.Errorf("feeds[%d]: url is empty", i)
		}
		if len(f.Attendees) == 0 {
			return fmt.Errorf("feeds[%d]: no attendees", i)
		}
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults and validate
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".calalarm-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
