// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/catalog-crawler/internal/extract"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Site      SiteConfig    `mapstructure:"site"`
	HTTP      HTTPConfig    `mapstructure:"http"`
	Discovery StageConfig   `mapstructure:"discovery"`
	Details   StageConfig   `mapstructure:"details"`
	State     StateConfig   `mapstructure:"state"`
	Logging   LoggingConfig `mapstructure:"logging"`
	Metrics   MetricsConfig `mapstructure:"metrics"`
	Export    ExportConfig  `mapstructure:"export"`
	PubSub    PubSubConfig  `mapstructure:"pubsub"`
}

// SiteConfig describes the catalog address space and its markup.
type SiteConfig struct {
	ListingURL  string          `mapstructure:"listing_url"`
	BucketParam string          `mapstructure:"bucket_param"`
	PageParam   string          `mapstructure:"page_param"`
	Buckets     []string        `mapstructure:"buckets"`
	LinkBase    string          `mapstructure:"link_base"`
	ListingItem string          `mapstructure:"listing_item"`
	ListingLink string          `mapstructure:"listing_link"`
	NextPage    string          `mapstructure:"next_page"`
	Identity    string          `mapstructure:"identity"`
	Details     string          `mapstructure:"details"`
	Selectors   SelectorsConfig `mapstructure:"selectors"`
	Fields      []FieldConfig   `mapstructure:"fields"`
}

// SelectorsConfig holds the selectors shared by every schema section.
type SelectorsConfig struct {
	Text     string `mapstructure:"text"`
	ListItem string `mapstructure:"list_item"`
	Hidden   string `mapstructure:"hidden"`
}

// FieldConfig declares one output field.
type FieldConfig struct {
	Name    string `mapstructure:"name"`
	Locator string `mapstructure:"locator"`
	Kind    string `mapstructure:"kind"`
}

// HTTPConfig configures the page fetcher.
type HTTPConfig struct {
	UserAgent        string `mapstructure:"user_agent"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
}

// StageConfig paces one stage.
type StageConfig struct {
	MinDelayMs int     `mapstructure:"min_delay_ms"`
	MaxDelayMs int     `mapstructure:"max_delay_ms"`
	RPS        float64 `mapstructure:"rps"`
	Burst      int     `mapstructure:"burst"`
	// MaxPagesPerBucket applies to discovery only.
	MaxPagesPerBucket int `mapstructure:"max_pages_per_bucket"`
	// Limit applies to details only.
	Limit int `mapstructure:"limit"`
}

// MinDelay returns the lower politeness bound.
func (s StageConfig) MinDelay() time.Duration {
	return time.Duration(s.MinDelayMs) * time.Millisecond
}

// MaxDelay returns the upper politeness bound.
func (s StageConfig) MaxDelay() time.Duration {
	return time.Duration(s.MaxDelayMs) * time.Millisecond
}

// StateConfig names the on-disk artifacts.
type StateConfig struct {
	Dir           string `mapstructure:"dir"`
	LinksFile     string `mapstructure:"links_file"`
	DiscoveryFile string `mapstructure:"discovery_file"`
	DetailsFile   string `mapstructure:"details_file"`
	ResultsFile   string `mapstructure:"results_file"`
	SkippedFile   string `mapstructure:"skipped_file"`
}

// Path joins name onto the state directory unless it is already absolute.
func (s StateConfig) Path(name string) string {
	if filepath.IsAbs(name) || s.Dir == "" {
		return name
	}
	return filepath.Join(s.Dir, name)
}

// LoggingConfig controls the console and file loggers.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
}

// MetricsConfig controls the operator HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// ExportConfig selects and configures the export sinks.
type ExportConfig struct {
	Sink     string               `mapstructure:"sink"`
	Key      string               `mapstructure:"key"`
	Local    LocalExportConfig    `mapstructure:"local"`
	GCS      GCSExportConfig      `mapstructure:"gcs"`
	Postgres PostgresExportConfig `mapstructure:"postgres"`
}

// LocalExportConfig writes snapshots below a directory.
type LocalExportConfig struct {
	Dir string `mapstructure:"dir"`
}

// GCSExportConfig writes snapshots to a bucket.
type GCSExportConfig struct {
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Endpoint string `mapstructure:"endpoint"`
}

// PostgresExportConfig mirrors records into a table.
type PostgresExportConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds the record notification topic. Empty IDs disable notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
	Endpoint  string `mapstructure:"endpoint"`
}

// Enabled reports whether notifications should be published.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.TopicID != ""
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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

// DefaultBuckets is the alphabetic bucket set a..z.
func DefaultBuckets() []string {
	buckets := make([]string, 0, 26)
	for c := 'a'; c <= 'z'; c++ {
		buckets = append(buckets, string(c))
	}
	return buckets
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("site.listing_url", "https://pharmeasy.in/online-medicine-order/browse")
	v.SetDefault("site.bucket_param", "alphabet")
	v.SetDefault("site.page_param", "page")
	v.SetDefault("site.buckets", DefaultBuckets())
	v.SetDefault("site.link_base", "https://pharmeasy.in")
	v.SetDefault("site.listing_item", "div.BrowseList_medicineContainer__Fi9u7")
	v.SetDefault("site.listing_link", "a.BrowseList_medicine__cQZkc")
	v.SetDefault("site.next_page", `a[href*="page="]`)
	v.SetDefault("site.identity", "h1.MedicineOverviewSection_medicineName__dHDQi")
	v.SetDefault("site.details", "div.DescriptionTabs_root__YOrb_")
	v.SetDefault("site.selectors.text", "div.Text_text__i_fng")
	v.SetDefault("site.selectors.list_item", "div.Text_text__i_fng.List_text__7rJzx")
	v.SetDefault("site.selectors.hidden", "span[hidden]")
	v.SetDefault("site.fields", []map[string]any{
		{"name": "uses", "locator": "uses", "kind": "text_with_hidden"},
		{"name": "side_effects", "locator": "sideEffects", "kind": "list"},
		{"name": "how_it_works", "locator": "modeOfAction", "kind": "text"},
		{"name": "consumption", "locator": "directionsForUse", "kind": "list"},
	})
	v.SetDefault("http.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 0)
	v.SetDefault("http.backoff_initial_ms", 500)
	v.SetDefault("http.backoff_max_ms", 10000)
	v.SetDefault("discovery.min_delay_ms", 2000)
	v.SetDefault("discovery.max_delay_ms", 5000)
	v.SetDefault("discovery.max_pages_per_bucket", 0)
	v.SetDefault("details.min_delay_ms", 2000)
	v.SetDefault("details.max_delay_ms", 4000)
	v.SetDefault("details.limit", 0)
	v.SetDefault("state.dir", ".")
	v.SetDefault("state.links_file", "links.txt")
	v.SetDefault("state.discovery_file", "discovery_state.json")
	v.SetDefault("state.details_file", "details_state.json")
	v.SetDefault("state.results_file", "results.json")
	v.SetDefault("state.skipped_file", "skipped.txt")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "crawler.log")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("export.sink", "local")
	v.SetDefault("export.key", "results.json")
	v.SetDefault("export.local.dir", "exports")
	v.SetDefault("export.postgres.table", "catalog_records")
	v.SetDefault("export.postgres.max_conns", 4)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Site.ListingURL == "" {
		return fmt.Errorf("site.listing_url is required")
	}
	if len(c.Site.Buckets) == 0 {
		return fmt.Errorf("site.buckets must not be empty")
	}
	if _, err := c.Site.Profile(); err != nil {
		return err
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	for name, stage := range map[string]StageConfig{"discovery": c.Discovery, "details": c.Details} {
		if stage.MinDelayMs < 0 || stage.MaxDelayMs < stage.MinDelayMs {
			return fmt.Errorf("%s delay bounds must satisfy 0 <= min_delay_ms <= max_delay_ms", name)
		}
	}
	if c.Details.Limit < 0 {
		return fmt.Errorf("details.limit must be >= 0")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr must be set when metrics are enabled")
	}
	return nil
}

// Profile converts the site section into an extraction profile.
func (s SiteConfig) Profile() (extract.Profile, error) {
	fields := make([]extract.Field, 0, len(s.Fields))
	for _, f := range s.Fields {
		kind, err := extract.ParseKind(f.Kind)
		if err != nil {
			return extract.Profile{}, fmt.Errorf("site.fields %q: %w", f.Name, err)
		}
		fields = append(fields, extract.Field{Name: f.Name, Locator: f.Locator, Kind: kind})
	}
	profile := extract.Profile{
		LinkBase:    s.LinkBase,
		ListingItem: s.ListingItem,
		ListingLink: s.ListingLink,
		NextPage:    s.NextPage,
		Identity:    s.Identity,
		Details:     s.Details,
		Selectors: extract.Selectors{
			Text:     s.Selectors.Text,
			ListItem: s.Selectors.ListItem,
			Hidden:   s.Selectors.Hidden,
		},
		Fields: fields,
	}
	if err := profile.Validate(); err != nil {
		return extract.Profile{}, err
	}
	return profile, nil
}

// FetchTimeout returns the per-request timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
