package landing

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/lander/channels"
	"github.com/hazyhaar/lander/horosafe"
	"github.com/hazyhaar/lander/landing/internal/content"
	"github.com/hazyhaar/lander/landing/internal/generate"
	"github.com/hazyhaar/lander/landing/internal/policy"
	"github.com/hazyhaar/lander/landing/internal/snapshot"
)

// Config holds all lander configuration.
type Config struct {
	DBPath string `yaml:"db_path"`
	Listen string `yaml:"listen"`
	// Element names the page section under test.
	Element string `yaml:"element"`
	// TriggerSecret guards the admin routes: a plain secret of at least 32
	// bytes or a bcrypt hash of one.
	TriggerSecret string `yaml:"trigger_secret"`

	Pinned     content.Pinned    `yaml:"pinned"`
	Thresholds policy.Thresholds `yaml:"thresholds"`
	Provider   ProviderConfig    `yaml:"provider"`
	Snapshot   SnapshotConfig    `yaml:"snapshot"`
	Splitter   SplitterConfig    `yaml:"splitter"`
	Tracking   TrackingConfig    `yaml:"tracking"`
	Scheduler  SchedulerConfig   `yaml:"scheduler"`
	Notify     NotifyConfig      `yaml:"notify"`

	// LeaseTTL bounds how long a crashed cycle blocks the next one.
	LeaseTTL time.Duration `yaml:"lease_ttl"`
}

// ProviderConfig configures the generative text provider.
type ProviderConfig struct {
	generate.OpenAIConfig `yaml:",inline"`
	Timeout               time.Duration `yaml:"timeout"`
}

// SnapshotConfig says where cycles publish the snapshot. With S3 set the
// bucket is the canonical copy; File is still written when set.
type SnapshotConfig struct {
	File string             `yaml:"file"`
	S3   *snapshot.S3Config `yaml:"s3"`
	// SourceURL makes the page server read the snapshot from another
	// lander's /admin/snapshot.json instead of the local store.
	SourceURL    string `yaml:"source_url"`
	SourceSecret string `yaml:"source_secret"`
}

// SplitterConfig controls visitor assignment.
type SplitterConfig struct {
	TTL          time.Duration `yaml:"ttl"`
	CookieMaxAge time.Duration `yaml:"cookie_max_age"`
	// CountImpressions records an impression for every assigned page view.
	CountImpressions *bool `yaml:"count_impressions"`
	// WatchInterval is how often a page server polls the publish log for
	// cycles run by other processes.
	WatchInterval time.Duration `yaml:"watch_interval"`
}

// TrackingConfig controls the impression/conversion endpoints.
type TrackingConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
	BatchSize     int           `yaml:"batch_size"`
	RateLimit     float64       `yaml:"rate_limit"`
	Burst         int           `yaml:"burst"`
}

// SchedulerConfig controls the in-process cycle trigger.
type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// NotifyConfig lists the operator channels that receive cycle digests.
type NotifyConfig struct {
	Channels []channels.Spec `yaml:"channels"`
	Timeout  time.Duration   `yaml:"timeout"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "lander.db"
	}
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.Element == "" {
		c.Element = "hero"
	}
	// A config file seeds every threshold before parsing, so a zero here
	// is either explicit or a programmatic Config that left it out. Only
	// the fields where zero can never be valid are filled.
	d := policy.Defaults()
	t := &c.Thresholds
	if *t == (policy.Thresholds{}) {
		*t = d
	}
	if t.PromoteConfidence == 0 {
		t.PromoteConfidence = d.PromoteConfidence
	}
	if t.ChampionWeight == 0 {
		t.ChampionWeight = d.ChampionWeight
	}
	if t.Samples == 0 {
		t.Samples = d.Samples
	}
	if c.Provider.Timeout <= 0 {
		c.Provider.Timeout = generate.DefaultTimeout
	}
	if c.Snapshot.File == "" && c.Snapshot.S3 == nil {
		c.Snapshot.File = "lander-snapshot.json"
	}
	if c.Splitter.TTL <= 0 {
		c.Splitter.TTL = 5 * time.Minute
	}
	if c.Splitter.CookieMaxAge <= 0 {
		c.Splitter.CookieMaxAge = 30 * 24 * time.Hour
	}
	if c.Splitter.WatchInterval <= 0 {
		c.Splitter.WatchInterval = 2 * time.Second
	}
	if c.Splitter.CountImpressions == nil {
		on := true
		c.Splitter.CountImpressions = &on
	}
	if c.Tracking.FlushInterval <= 0 {
		c.Tracking.FlushInterval = 5 * time.Second
	}
	if c.Tracking.BatchSize <= 0 {
		c.Tracking.BatchSize = 100
	}
	if c.Tracking.RateLimit <= 0 {
		c.Tracking.RateLimit = 5
	}
	if c.Tracking.Burst <= 0 {
		c.Tracking.Burst = 20
	}
	if c.Scheduler.Interval <= 0 {
		c.Scheduler.Interval = 24 * time.Hour
	}
	if c.Notify.Timeout <= 0 {
		c.Notify.Timeout = 10 * time.Second
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 2 * time.Minute
	}
}

// ApplyEnv overrides file values with the LANDER_* and OPENAI_* variables.
func (c *Config) ApplyEnv() {
	c.DBPath = env("LANDER_DB", c.DBPath)
	c.Listen = env("LANDER_LISTEN", c.Listen)
	c.TriggerSecret = env("LANDER_TRIGGER_SECRET", c.TriggerSecret)
	c.Provider.APIKey = env("OPENAI_API_KEY", c.Provider.APIKey)
	c.Provider.Model = env("OPENAI_MODEL", c.Provider.Model)
	c.Provider.BaseURL = env("OPENAI_BASE_URL", c.Provider.BaseURL)
	if u := os.Getenv("LANDER_WEBHOOK_URL"); u != "" {
		c.Notify.Channels = append(c.Notify.Channels, channels.Spec{
			Name:     "env-webhook",
			Platform: "webhook",
			Config:   map[string]any{"url": u},
		})
	}
}

// Validate checks the configuration after defaults.
func (c *Config) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if c.TriggerSecret != "" {
		if _, err := horosafe.NewSecretMatcher(c.TriggerSecret); err != nil {
			return fmt.Errorf("landing: trigger_secret: %w", err)
		}
	}
	if err := horosafe.ValidateIdentifier(c.Element); err != nil {
		return fmt.Errorf("landing: element: %w", err)
	}
	if c.Snapshot.SourceURL != "" && !strings.HasPrefix(c.Snapshot.SourceURL, "http") {
		return fmt.Errorf("landing: snapshot.source_url must be http(s)")
	}
	return nil
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{Thresholds: policy.Defaults()}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("landing: parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadConfig reads path when non-empty, applies the environment, fills
// defaults and validates.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		var err error
		if cfg, err = LoadConfigFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
