// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`

	// Source is the config file that was read, empty when none was found.
	Source string `mapstructure:"-"`
}

// CrawlerConfig governs seed polling and the fetch pipeline.
type CrawlerConfig struct {
	BaseURL            string            `mapstructure:"base_url"`
	SeedURL            string            `mapstructure:"seed_url"`
	ItemRule           string            `mapstructure:"item_rule"`
	Headers            map[string]string `mapstructure:"headers"`
	Concurrency        int               `mapstructure:"concurrency"`
	PollInterval       time.Duration     `mapstructure:"poll_interval"`
	RequestTimeout     time.Duration     `mapstructure:"request_timeout"`
	RatePerHost        float64           `mapstructure:"rate_per_host"`
	CommentParallelism int               `mapstructure:"comment_parallelism"`
	FetchStory         bool              `mapstructure:"fetch_story"`
	RecheckEachPoll    bool              `mapstructure:"recheck_each_poll"`
}

// RetryConfig shapes the delay before a failed item is offered again.
// A zero BackoffBase re-enqueues immediately.
type RetryConfig struct {
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffMax  time.Duration `mapstructure:"backoff_max"`
}

// ScannerConfig holds the CSS selectors used to parse item pages.
type ScannerConfig struct {
	ItemIDSelector  string `mapstructure:"item_id_selector"`
	LinkSelector    string `mapstructure:"link_selector"`
	CommentSelector string `mapstructure:"comment_selector"`
}

// StorageConfig selects and configures the blob backend.
type StorageConfig struct {
	Backend     string             `mapstructure:"backend"`
	Prefix      string             `mapstructure:"prefix"`
	ContentType string             `mapstructure:"content_type"`
	Local       LocalStorageConfig `mapstructure:"local"`
	GCS         GCSStorageConfig   `mapstructure:"gcs"`
}

// LocalStorageConfig configures the filesystem backend.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// GCSStorageConfig configures the Cloud Storage backend.
type GCSStorageConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// DBConfig controls the optional Postgres item record store.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds the optional item notification topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the status/metrics HTTP server. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features and file output.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
}

// TelemetryConfig enables OpenTelemetry tracing of passes and items.
type TelemetryConfig struct {
	Tracing     bool    `mapstructure:"tracing"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Storage backends.
const (
	BackendLocal  = "local"
	BackendMemory = "memory"
	BackendGCS    = "gcs"
)

// Load builds a Config from disk/environment. With an empty path it looks for
// ycrawler.{yaml,json,toml} in the working directory, /etc/ycrawler and
// $HOME/.ycrawler, and falls back to defaults when none exists.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("YCRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("ycrawler")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/ycrawler")
		v.AddConfigPath("$HOME/.ycrawler")
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
	cfg.Crawler.Headers = canonicalHeaders(cfg.Crawler.Headers)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	cfg.Source = v.ConfigFileUsed()

	return cfg, nil
}

const defaultUserAgent = "Google Spider"

// canonicalHeaders rewrites header names in canonical form, since viper
// lowercases keys read from files. A configured header map replaces the
// default one, so User-Agent is restored when the map omits it.
func canonicalHeaders(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		out[http.CanonicalHeaderKey(k)] = v
	}
	if _, ok := out["User-Agent"]; !ok {
		out["User-Agent"] = defaultUserAgent
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.base_url", "https://news.ycombinator.com/")
	v.SetDefault("crawler.seed_url", "https://news.ycombinator.com/")
	v.SetDefault("crawler.item_rule", `item\?id=\d+`)
	v.SetDefault("crawler.headers", map[string]string{"User-Agent": defaultUserAgent})
	v.SetDefault("crawler.concurrency", 3)
	v.SetDefault("crawler.poll_interval", "5s")
	v.SetDefault("crawler.request_timeout", "15s")
	v.SetDefault("crawler.rate_per_host", 0)
	v.SetDefault("crawler.comment_parallelism", 1)
	v.SetDefault("crawler.fetch_story", true)
	v.SetDefault("crawler.recheck_each_poll", false)
	v.SetDefault("retry.backoff_base", "0s")
	v.SetDefault("retry.backoff_max", "30s")
	v.SetDefault("scanner.item_id_selector", "table.fatitem tr.athing")
	v.SetDefault("scanner.link_selector", "table.fatitem .titleline > a, table.fatitem a.storylink")
	v.SetDefault("scanner.comment_selector", "div.comment a[rel=nofollow]")
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("storage.local.base_dir", "data/store")
	v.SetDefault("db.table", "items")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.tracing", false)
	v.SetDefault("telemetry.service_name", "ycrawler")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := validateAbsoluteURL("crawler.base_url", c.Crawler.BaseURL); err != nil {
		return err
	}
	if err := validateAbsoluteURL("crawler.seed_url", c.Crawler.SeedURL); err != nil {
		return err
	}
	if c.Crawler.ItemRule == "" {
		return fmt.Errorf("crawler.item_rule must be set")
	}
	if _, err := regexp.Compile(c.Crawler.ItemRule); err != nil {
		return fmt.Errorf("crawler.item_rule: %w", err)
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.PollInterval <= 0 {
		return fmt.Errorf("crawler.poll_interval must be > 0")
	}
	if c.Crawler.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.Crawler.RatePerHost < 0 {
		return fmt.Errorf("crawler.rate_per_host must be >= 0")
	}
	if c.Crawler.CommentParallelism <= 0 {
		return fmt.Errorf("crawler.comment_parallelism must be > 0")
	}
	if c.Retry.BackoffBase < 0 || c.Retry.BackoffMax < 0 {
		return fmt.Errorf("retry backoff durations must be >= 0")
	}
	if c.Retry.BackoffBase > 0 && c.Retry.BackoffMax < c.Retry.BackoffBase {
		return fmt.Errorf("retry.backoff_max must be >= retry.backoff_base")
	}
	if c.Scanner.ItemIDSelector == "" || c.Scanner.CommentSelector == "" {
		return fmt.Errorf("scanner.item_id_selector and scanner.comment_selector must be set")
	}
	switch c.Storage.Backend {
	case BackendLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set for the gcs backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	if c.Server.Port < 0 {
		return fmt.Errorf("server.port must be >= 0")
	}
	return nil
}

// ItemPattern compiles the item-matching rule. Validate has already checked it.
func (c Config) ItemPattern() *regexp.Regexp {
	return regexp.MustCompile(c.Crawler.ItemRule)
}

func validateAbsoluteURL(key, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s must be set", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL", key)
	}
	return nil
}
