// Package config provides YAML-based configuration loading for sessionyard.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zulandar/sessionyard/internal/collector"
	"github.com/zulandar/sessionyard/internal/events"
	"github.com/zulandar/sessionyard/internal/lease"
	"github.com/zulandar/sessionyard/internal/watch"
	"gopkg.in/yaml.v3"
)

// EnvDatabase overrides database.path when set.
const EnvDatabase = "SESSIONYARD_DB"

// Defaults applied when a field is left empty.
const (
	DefaultDatabaseFile    = "sessions.db"
	DefaultCollectSchedule = "@every 5m"
	DefaultDashboardPort   = 8080
)

// Config is the top-level sessionyard configuration, loaded from
// sessionyard.yaml.
type Config struct {
	Database        DatabaseConfig  `yaml:"database"`
	WriterType      string          `yaml:"writer_type"`
	Lease           LeaseConfig     `yaml:"lease"`
	Sources         []SourceConfig  `yaml:"sources"`
	CollectSchedule string          `yaml:"collect_schedule"`
	Watch           WatchConfig     `yaml:"watch"`
	Dashboard       DashboardConfig `yaml:"dashboard"`
	Notify          NotifyConfig    `yaml:"notify"`
}

// DatabaseConfig locates the SQLite file.
type DatabaseConfig struct {
	Path   string `yaml:"path"`
	LogSQL bool   `yaml:"log_sql"`
}

// LeaseConfig tunes writer coordination.
type LeaseConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	Timeout           time.Duration `yaml:"timeout"`
}

// SourceConfig is one transcript root.
type SourceConfig struct {
	Name string `yaml:"name"`
	Root string `yaml:"root"`
}

// WatchConfig controls the filesystem watcher used by serve.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
	Rate     float64       `yaml:"rate"`
	Burst    int           `yaml:"burst"`
}

// DashboardConfig controls the HTTP API.
type DashboardConfig struct {
	Port int `yaml:"port"`
}

// NotifyConfig lists the notification sinks. Every sink is optional.
type NotifyConfig struct {
	Command      string        `yaml:"command"`
	SlackWebhook string        `yaml:"slack_webhook"`
	Discord      DiscordConfig `yaml:"discord"`
	Events       []string      `yaml:"events"`
}

// DiscordConfig identifies a Discord channel webhook.
type DiscordConfig struct {
	WebhookID string `yaml:"webhook_id"`
	Token     string `yaml:"token"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Default returns the configuration used when no file exists.
func Default() (*Config, error) {
	return Parse(nil)
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
	home, _ := os.UserHomeDir()

	if env := os.Getenv(EnvDatabase); env != "" {
		c.Database.Path = env
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(home, ".sessionyard", DefaultDatabaseFile)
	}
	c.Database.Path = expandHome(c.Database.Path, home)

	if c.WriterType == "" {
		c.WriterType = string(lease.TypeCLI)
	}
	if c.Lease.HeartbeatInterval == 0 {
		c.Lease.HeartbeatInterval = lease.DefaultHeartbeatInterval
	}
	if c.Lease.Timeout == 0 {
		c.Lease.Timeout = lease.DefaultTimeout
	}

	if len(c.Sources) == 0 {
		c.Sources = []SourceConfig{{Name: "claude", Root: filepath.Join(home, ".claude", "projects")}}
	}
	for i := range c.Sources {
		if c.Sources[i].Name == "" {
			c.Sources[i].Name = "claude"
		}
		c.Sources[i].Root = expandHome(c.Sources[i].Root, home)
	}

	if c.CollectSchedule == "" {
		c.CollectSchedule = DefaultCollectSchedule
	}
	if c.Watch.Debounce == 0 {
		c.Watch.Debounce = watch.DefaultDebounce
	}
	if c.Watch.Rate == 0 {
		c.Watch.Rate = watch.DefaultRate
	}
	if c.Watch.Burst == 0 {
		c.Watch.Burst = watch.DefaultBurst
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = DefaultDashboardPort
	}
}

// validate checks that all fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if _, err := lease.ParseWriterType(c.WriterType); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.LeaseConfig().Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	seen := make(map[string]bool)
	for i, s := range c.Sources {
		if s.Root == "" {
			errs = append(errs, fmt.Sprintf("sources[%d].root is required", i))
		}
		if seen[s.Root] {
			errs = append(errs, fmt.Sprintf("sources[%d].root %q is listed twice", i, s.Root))
		}
		seen[s.Root] = true
	}
	if _, err := collector.ParseSchedule(c.CollectSchedule); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Watch.Rate < 0 || c.Watch.Burst < 0 || c.Watch.Debounce < 0 {
		errs = append(errs, "watch debounce, rate and burst must not be negative")
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		errs = append(errs, fmt.Sprintf("dashboard.port %d out of range", c.Dashboard.Port))
	}
	if (c.Notify.Discord.WebhookID == "") != (c.Notify.Discord.Token == "") {
		errs = append(errs, "notify.discord needs both webhook_id and token")
	}
	for i, e := range c.Notify.Events {
		if !knownEvents[events.Type(e)] {
			errs = append(errs, fmt.Sprintf("notify.events[%d]: unknown event %q", i, e))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

var knownEvents = map[events.Type]bool{
	events.TypeRoleChanged:      true,
	events.TypeLeaseLost:        true,
	events.TypeTakeover:         true,
	events.TypeMessagesInserted: true,
	events.TypeCollectCompleted: true,
	events.TypeFileChanged:      true,
}

// LeaseConfig converts the lease section for the lease package.
func (c *Config) LeaseConfig() lease.Config {
	return lease.Config{
		HeartbeatInterval: c.Lease.HeartbeatInterval,
		Timeout:           c.Lease.Timeout,
	}
}

// CollectorSources converts the sources section for the collector.
func (c *Config) CollectorSources() []collector.Source {
	out := make([]collector.Source, len(c.Sources))
	for i, s := range c.Sources {
		out[i] = collector.Source{Name: s.Name, Root: s.Root}
	}
	return out
}

// NotifyEvents returns the configured event filter, or nil for the
// notifier's defaults.
func (c *Config) NotifyEvents() []events.Type {
	if len(c.Notify.Events) == 0 {
		return nil
	}
	out := make([]events.Type, len(c.Notify.Events))
	for i, e := range c.Notify.Events {
		out[i] = events.Type(e)
	}
	return out
}

func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
