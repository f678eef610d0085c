package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/extract"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := len(cfg.Site.Buckets); got != 26 {
		t.Fatalf("expected 26 buckets, got %d", got)
	}
	if cfg.Site.Buckets[0] != "a" || cfg.Site.Buckets[25] != "z" {
		t.Fatalf("unexpected bucket order %v", cfg.Site.Buckets)
	}
	if cfg.Site.BucketParam != "alphabet" || cfg.Site.PageParam != "page" {
		t.Fatalf("unexpected params %q %q", cfg.Site.BucketParam, cfg.Site.PageParam)
	}
	if cfg.Discovery.MinDelay() != 2*time.Second || cfg.Discovery.MaxDelay() != 5*time.Second {
		t.Fatalf("unexpected discovery delays %s-%s", cfg.Discovery.MinDelay(), cfg.Discovery.MaxDelay())
	}
	if cfg.Details.MinDelay() != 2*time.Second || cfg.Details.MaxDelay() != 4*time.Second {
		t.Fatalf("unexpected detail delays %s-%s", cfg.Details.MinDelay(), cfg.Details.MaxDelay())
	}
	if cfg.HTTP.MaxRetries != 0 {
		t.Fatalf("expected retries disabled by default, got %d", cfg.HTTP.MaxRetries)
	}
	if cfg.FetchTimeout() != 30*time.Second {
		t.Fatalf("unexpected timeout %s", cfg.FetchTimeout())
	}
	if cfg.PubSub.Enabled() {
		t.Fatalf("pubsub should be disabled without ids")
	}

	profile, err := cfg.Site.Profile()
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	want := []extract.Field{
		{Name: "uses", Locator: "uses", Kind: extract.KindTextWithHidden},
		{Name: "side_effects", Locator: "sideEffects", Kind: extract.KindList},
		{Name: "how_it_works", Locator: "modeOfAction", Kind: extract.KindText},
		{Name: "consumption", Locator: "directionsForUse", Kind: extract.KindList},
	}
	if len(profile.Fields) != len(want) {
		t.Fatalf("expected %d fields, got %d", len(want), len(profile.Fields))
	}
	for i := range want {
		if profile.Fields[i] != want[i] {
			t.Fatalf("field %d = %+v, want %+v", i, profile.Fields[i], want[i])
		}
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
site:
  listing_url: https://example.com/browse
  buckets: ["x", "y"]
  fields:
    - name: summary
      locator: summary
      kind: text
http:
  user_agent: test-agent
  timeout_seconds: 5
  max_retries: 2
discovery:
  min_delay_ms: 0
  max_delay_ms: 10
  max_pages_per_bucket: 3
details:
  limit: 7
state:
  dir: /var/lib/catalog
  links_file: links.txt
pubsub:
  project_id: proj
  topic_id: records
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Site.ListingURL != "https://example.com/browse" {
		t.Fatalf("unexpected listing url %q", cfg.Site.ListingURL)
	}
	if len(cfg.Site.Buckets) != 2 || cfg.Site.Buckets[1] != "y" {
		t.Fatalf("unexpected buckets %v", cfg.Site.Buckets)
	}
	if len(cfg.Site.Fields) != 1 || cfg.Site.Fields[0].Name != "summary" {
		t.Fatalf("unexpected fields %+v", cfg.Site.Fields)
	}
	if cfg.HTTP.UserAgent != "test-agent" || cfg.HTTP.MaxRetries != 2 {
		t.Fatalf("unexpected http config %+v", cfg.HTTP)
	}
	if cfg.Discovery.MaxPagesPerBucket != 3 || cfg.Details.Limit != 7 {
		t.Fatalf("unexpected stage config %+v %+v", cfg.Discovery, cfg.Details)
	}
	if got := cfg.State.Path(cfg.State.LinksFile); got != "/var/lib/catalog/links.txt" {
		t.Fatalf("unexpected links path %q", got)
	}
	if !cfg.PubSub.Enabled() {
		t.Fatalf("pubsub should be enabled")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CRAWLER_DETAILS_LIMIT", "12")
	t.Setenv("CRAWLER_HTTP_USER_AGENT", "env-agent")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Details.Limit != 12 {
		t.Fatalf("expected env limit 12, got %d", cfg.Details.Limit)
	}
	if cfg.HTTP.UserAgent != "env-agent" {
		t.Fatalf("expected env user agent, got %q", cfg.HTTP.UserAgent)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	cases := map[string]func(*Config){
		"no listing url":   func(c *Config) { c.Site.ListingURL = "" },
		"no buckets":       func(c *Config) { c.Site.Buckets = nil },
		"bad kind":         func(c *Config) { c.Site.Fields = []FieldConfig{{Name: "a", Locator: "a", Kind: "table"}} },
		"missing selector": func(c *Config) { c.Site.Identity = "" },
		"zero timeout":     func(c *Config) { c.HTTP.TimeoutSeconds = 0 },
		"negative retries": func(c *Config) { c.HTTP.MaxRetries = -1 },
		"inverted delays":  func(c *Config) { c.Details.MinDelayMs, c.Details.MaxDelayMs = 5, 1 },
		"negative limit":   func(c *Config) { c.Details.Limit = -1 },
		"metrics no addr":  func(c *Config) { c.Metrics.Enabled, c.Metrics.Addr = true, "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Site.Fields = append([]FieldConfig(nil), base.Site.Fields...)
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestStatePath(t *testing.T) {
	t.Parallel()

	s := StateConfig{Dir: "state"}
	if got := s.Path("results.json"); got != filepath.Join("state", "results.json") {
		t.Fatalf("unexpected path %q", got)
	}
	if got := s.Path("/abs/results.json"); got != "/abs/results.json" {
		t.Fatalf("absolute path rewritten to %q", got)
	}
}
