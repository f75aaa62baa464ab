package landing

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/lander/landing/internal/policy"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lander.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
db_path: /var/lib/lander/lander.db
element: pricing
pinned:
  headline: Ship faster
  headline_accent: with lander
thresholds:
  promote_confidence: 0.99
  kill_impressions: 200
provider:
  model: gpt-4o
  timeout: 45s
snapshot:
  s3:
    bucket: pages
    endpoint: http://minio:9000
    use_path_style: true
splitter:
  ttl: 1m
  count_impressions: false
notify:
  channels:
    - name: ops
      platform: discord
      config:
        webhook_url: https://discord.example/hook
`)
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("LANDER_WEBHOOK_URL", "")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	want := policy.Defaults()
	want.PromoteConfidence = 0.99
	want.KillImpressions = 200
	if diff := cmp.Diff(want, cfg.Thresholds); diff != "" {
		t.Errorf("thresholds (-want +got):\n%s", diff)
	}
	if cfg.Element != "pricing" || cfg.Pinned.Accent != "with lander" {
		t.Errorf("element/pinned = %q %+v", cfg.Element, cfg.Pinned)
	}
	if cfg.Provider.Model != "gpt-4o" || cfg.Provider.Timeout != 45*time.Second {
		t.Errorf("provider = %+v", cfg.Provider)
	}
	if cfg.Snapshot.S3 == nil || cfg.Snapshot.S3.Bucket != "pages" || !cfg.Snapshot.S3.UsePathStyle {
		t.Errorf("s3 = %+v", cfg.Snapshot.S3)
	}
	if cfg.Snapshot.File != "" {
		t.Errorf("default file set alongside s3: %q", cfg.Snapshot.File)
	}
	if cfg.Splitter.TTL != time.Minute || *cfg.Splitter.CountImpressions {
		t.Errorf("splitter = %+v", cfg.Splitter)
	}
	if len(cfg.Notify.Channels) != 1 || cfg.Notify.Channels[0].Platform != "discord" {
		t.Errorf("channels = %+v", cfg.Notify.Channels)
	}
}

func TestLoadConfigDefaultsAndEnv(t *testing.T) {
	t.Setenv("LANDER_DB", "/tmp/env.db")
	t.Setenv("LANDER_TRIGGER_SECRET", testSecret)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("LANDER_WEBHOOK_URL", "https://hooks.example/lander")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.DBPath != "/tmp/env.db" || cfg.TriggerSecret != testSecret || cfg.Provider.APIKey != "sk-test" {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.Listen != ":8080" || cfg.Element != "hero" || cfg.Snapshot.File != "lander-snapshot.json" {
		t.Errorf("defaults = %q %q %q", cfg.Listen, cfg.Element, cfg.Snapshot.File)
	}
	if cfg.Splitter.CookieMaxAge != 30*24*time.Hour || !*cfg.Splitter.CountImpressions {
		t.Errorf("splitter defaults = %+v", cfg.Splitter)
	}
	if diff := cmp.Diff(policy.Defaults(), cfg.Thresholds); diff != "" {
		t.Errorf("thresholds (-want +got):\n%s", diff)
	}
	if len(cfg.Notify.Channels) != 1 || cfg.Notify.Channels[0].Config["url"] != "https://hooks.example/lander" {
		t.Errorf("webhook channel = %+v", cfg.Notify.Channels)
	}
}

func TestLoadConfigExplicitZeroThresholds(t *testing.T) {
	// WHAT: zeros written in the file survive defaults; absent keys still get them.
	// WHY: min_samples 0 and kill_confidence 0 are valid settings an operator may want.
	path := writeConfig(t, `
thresholds:
  min_samples: 0
  kill_confidence: 0
  explorer_weight: 0
`)
	t.Setenv("LANDER_TRIGGER_SECRET", "")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := policy.Defaults()
	want.MinSamples = 0
	want.KillConfidence = 0
	want.ExplorerWeight = 0
	if diff := cmp.Diff(want, cfg.Thresholds); diff != "" {
		t.Errorf("thresholds (-want +got):\n%s", diff)
	}
}

func TestConfigDefaultsProgrammatic(t *testing.T) {
	cfg := &Config{}
	cfg.defaults()
	if diff := cmp.Diff(policy.Defaults(), cfg.Thresholds); diff != "" {
		t.Errorf("empty thresholds (-want +got):\n%s", diff)
	}

	cfg = &Config{Thresholds: policy.Thresholds{KillImpressions: 10}}
	cfg.defaults()
	d := policy.Defaults()
	if cfg.Thresholds.MinSamples != 0 || cfg.Thresholds.KillImpressions != 10 ||
		cfg.Thresholds.ChampionWeight != d.ChampionWeight || cfg.Thresholds.Samples != d.Samples {
		t.Errorf("partial thresholds = %+v", cfg.Thresholds)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"short secret", "trigger_secret: tooshort\n", "trigger_secret"},
		{"bad element", "element: hero section\n", "element"},
		{"bad source url", "snapshot:\n  source_url: ftp://x\n", "source_url"},
		{"weights", "thresholds:\n  promote_confidence: 1.5\n", "promote_confidence"},
		{"negative min samples", "thresholds:\n  min_samples: -1\n", "min_samples"},
		{"negative weight", "thresholds:\n  challenger_weight: -5\n", "weights"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LANDER_TRIGGER_SECRET", "")
			_, err := LoadConfig(writeConfig(t, tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}
