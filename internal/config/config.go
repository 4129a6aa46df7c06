// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/directory-crawler/internal/logging"
	"github.com/JakeFAU/directory-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/directory-crawler/internal/storage/gcs"
	"github.com/JakeFAU/directory-crawler/internal/storage/local"
	"github.com/JakeFAU/directory-crawler/internal/storage/postgres"
)

// Crawl modes.
const (
	ModeListing = "listing"
	ModeDetail  = "detail"
	ModeSingle  = "single"
)

// Browser engines.
const (
	EngineChrome = "chrome"
	EngineStatic = "static"
)

// Config captures every knob of a crawl.
type Config struct {
	Mode     string          `mapstructure:"mode"`
	Site     SiteConfig      `mapstructure:"site"`
	Browser  BrowserConfig   `mapstructure:"browser"`
	Pager    PagerConfig     `mapstructure:"pager"`
	Listing  ListingConfig   `mapstructure:"listing"`
	Detail   DetailConfig    `mapstructure:"detail"`
	Crawler  CrawlerConfig   `mapstructure:"crawler"`
	Output   OutputConfig    `mapstructure:"output"`
	Schema   SchemaConfig    `mapstructure:"schema"`
	Logging  logging.Config  `mapstructure:"logging"`
	Metrics  MetricsConfig   `mapstructure:"metrics"`
	Export   ExportConfig    `mapstructure:"export"`
	Postgres postgres.Config `mapstructure:"postgres"`
	PubSub   pubsub.Config   `mapstructure:"pubsub"`
}

// SiteConfig names the pages to crawl.
type SiteConfig struct {
	ListingURL string `mapstructure:"listing_url"`
	// DetailLinkPattern filters listing links; empty accepts every link the
	// catalog's link query returns.
	DetailLinkPattern string `mapstructure:"detail_link_pattern"`
	// EntityURL is the single page crawled in single mode.
	EntityURL string `mapstructure:"entity_url"`
}

// LinkPattern compiles DetailLinkPattern; nil when unset.
func (s SiteConfig) LinkPattern() (*regexp.Regexp, error) {
	if s.DetailLinkPattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(s.DetailLinkPattern)
	if err != nil {
		return nil, fmt.Errorf("site.detail_link_pattern: %w", err)
	}
	return re, nil
}

// BrowserConfig selects and tunes the page engine.
type BrowserConfig struct {
	Engine            string        `mapstructure:"engine"`
	Headless          bool          `mapstructure:"headless"`
	UserAgent         string        `mapstructure:"user_agent"`
	ExecPath          string        `mapstructure:"exec_path"`
	WindowWidth       int           `mapstructure:"window_width"`
	WindowHeight      int           `mapstructure:"window_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	QueryTimeout      time.Duration `mapstructure:"query_timeout"`
	// RespectRobots, RequestsPerSecond and Burst apply to the static engine.
	RespectRobots     bool    `mapstructure:"respect_robots"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// PagerConfig tunes scroll-until-stable.
type PagerConfig struct {
	Disabled      bool          `mapstructure:"disabled"`
	Pause         time.Duration `mapstructure:"pause"`
	ResetToTop    bool          `mapstructure:"reset_to_top"`
	ResetPause    time.Duration `mapstructure:"reset_pause"`
	MaxIterations int           `mapstructure:"max_iterations"`
}

// ListingConfig tunes the listing page load.
type ListingConfig struct {
	SettleDelay time.Duration `mapstructure:"settle_delay"`
	LoadTimeout time.Duration `mapstructure:"load_timeout"`
}

// DetailConfig tunes detail page crawling.
type DetailConfig struct {
	NameWaitTimeout     time.Duration `mapstructure:"name_wait_timeout"`
	ServicesMode        string        `mapstructure:"services_mode"`
	ServicesSuffix      string        `mapstructure:"services_suffix"`
	ServicesWaitTimeout time.Duration `mapstructure:"services_wait_timeout"`
	ServicesSettle      time.Duration `mapstructure:"services_settle"`
}

// CrawlerConfig paces the detail loop.
type CrawlerConfig struct {
	InterEntityDelay time.Duration `mapstructure:"inter_entity_delay"`
	// CheckpointEvery merges partial batches every N records; 0 disables.
	CheckpointEvery int `mapstructure:"checkpoint_every"`
	// MaxEntities stops after N detail pages; 0 crawls every reference.
	MaxEntities int `mapstructure:"max_entities"`
}

// OutputConfig names the dataset files.
type OutputConfig struct {
	ListingPath string `mapstructure:"listing_path"`
	DetailPath  string `mapstructure:"detail_path"`
}

// SchemaConfig points at an optional JSON5 selector override file.
type SchemaConfig struct {
	Path string `mapstructure:"path"`
}

// MetricsConfig controls the metrics endpoint and textfile output.
type MetricsConfig struct {
	ListenAddr   string `mapstructure:"listen_addr"`
	TextfilePath string `mapstructure:"textfile_path"`
}

// ExportConfig enables secondary copies of the merged dataset.
type ExportConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	// Local copies the dataset under base_dir when set.
	Local local.Config `mapstructure:"local"`
	// GCS copies the dataset to a bucket when bucket is set.
	GCS gcs.Config `mapstructure:"gcs"`
}

// Load builds a Config from defaults, a config file and DIRCRAWL_* env vars.
// With an empty path, dircrawl.{yaml,json,toml} is looked up in the working
// directory, ~/.dircrawl and /etc/dircrawl; finding none is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DIRCRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("dircrawl")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.dircrawl")
		v.AddConfigPath("/etc/dircrawl/")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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
	v.SetDefault("mode", ModeDetail)
	v.SetDefault("site.listing_url", "https://drlogy.com/rajkot/doctor")
	v.SetDefault("site.detail_link_pattern", `/rajkot/doctor/[^/?#]+/?$`)
	v.SetDefault("site.entity_url", "")

	v.SetDefault("browser.engine", EngineChrome)
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.navigation_timeout", 45*time.Second)
	v.SetDefault("browser.query_timeout", 10*time.Second)
	v.SetDefault("browser.respect_robots", true)
	v.SetDefault("browser.requests_per_second", 1.0)
	v.SetDefault("browser.burst", 1)

	v.SetDefault("pager.disabled", false)
	v.SetDefault("pager.pause", 3*time.Second)
	v.SetDefault("pager.reset_to_top", true)
	v.SetDefault("pager.reset_pause", 2*time.Second)
	v.SetDefault("pager.max_iterations", 200)

	v.SetDefault("listing.settle_delay", 5*time.Second)
	v.SetDefault("listing.load_timeout", 20*time.Second)

	v.SetDefault("detail.name_wait_timeout", 20*time.Second)
	v.SetDefault("detail.services_mode", "suffix")
	v.SetDefault("detail.services_suffix", "/services")
	v.SetDefault("detail.services_wait_timeout", 10*time.Second)
	v.SetDefault("detail.services_settle", 2*time.Second)

	v.SetDefault("crawler.inter_entity_delay", 2*time.Second)
	v.SetDefault("crawler.checkpoint_every", 0)
	v.SetDefault("crawler.max_entities", 0)

	v.SetDefault("output.listing_path", "data/doctors.json")
	v.SetDefault("output.detail_path", "data/doctors_data.json")
	v.SetDefault("schema.path", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("metrics.textfile_path", "")

	v.SetDefault("export.timeout", 30*time.Second)
	v.SetDefault("export.local.base_dir", "")
	v.SetDefault("export.gcs.bucket", "")
	v.SetDefault("export.gcs.prefix", "")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.records_table", postgres.DefaultRecordsTable)
	v.SetDefault("postgres.runs_table", postgres.DefaultRunsTable)
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("postgres.auto_migrate", false)

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeListing, ModeDetail:
		if err := absoluteURL("site.listing_url", c.Site.ListingURL); err != nil {
			return err
		}
	case ModeSingle:
		if err := absoluteURL("site.entity_url", c.Site.EntityURL); err != nil {
			return err
		}
	default:
		return fmt.Errorf("mode must be one of listing, detail, single (got %q)", c.Mode)
	}
	if _, err := c.Site.LinkPattern(); err != nil {
		return err
	}

	if c.Browser.Engine != EngineChrome && c.Browser.Engine != EngineStatic {
		return fmt.Errorf("browser.engine must be chrome or static (got %q)", c.Browser.Engine)
	}
	if c.Browser.NavigationTimeout <= 0 {
		return errors.New("browser.navigation_timeout must be > 0")
	}
	if c.Browser.QueryTimeout <= 0 {
		return errors.New("browser.query_timeout must be > 0")
	}
	if c.Browser.RequestsPerSecond < 0 {
		return errors.New("browser.requests_per_second must be >= 0")
	}

	if c.Pager.MaxIterations <= 0 {
		return errors.New("pager.max_iterations must be > 0")
	}
	if c.Pager.Pause < 0 || c.Pager.ResetPause < 0 {
		return errors.New("pager pauses must be >= 0")
	}
	if c.Listing.LoadTimeout <= 0 {
		return errors.New("listing.load_timeout must be > 0")
	}
	if c.Listing.SettleDelay < 0 {
		return errors.New("listing.settle_delay must be >= 0")
	}

	if c.Detail.NameWaitTimeout <= 0 {
		return errors.New("detail.name_wait_timeout must be > 0")
	}
	switch c.Detail.ServicesMode {
	case "suffix":
		if !strings.HasPrefix(c.Detail.ServicesSuffix, "/") {
			return errors.New("detail.services_suffix must start with /")
		}
	case "same_page", "none":
	default:
		return fmt.Errorf("detail.services_mode must be suffix, same_page or none (got %q)", c.Detail.ServicesMode)
	}
	if c.Detail.ServicesWaitTimeout <= 0 {
		return errors.New("detail.services_wait_timeout must be > 0")
	}

	if c.Crawler.InterEntityDelay < 0 {
		return errors.New("crawler.inter_entity_delay must be >= 0")
	}
	if c.Crawler.CheckpointEvery < 0 {
		return errors.New("crawler.checkpoint_every must be >= 0")
	}
	if c.Crawler.MaxEntities < 0 {
		return errors.New("crawler.max_entities must be >= 0")
	}

	if strings.TrimSpace(c.Output.ListingPath) == "" || strings.TrimSpace(c.Output.DetailPath) == "" {
		return errors.New("output.listing_path and output.detail_path are required")
	}
	if c.Export.Timeout < 0 {
		return errors.New("export.timeout must be >= 0")
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return errors.New("pubsub.project_id must be set when pubsub.topic is set")
	}
	return nil
}

// DatasetPath returns the output file for the configured mode.
func (c Config) DatasetPath() string {
	if c.Mode == ModeListing {
		return c.Output.ListingPath
	}
	return c.Output.DetailPath
}

func absoluteURL(key, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL (got %q)", key, raw)
	}
	return nil
}
