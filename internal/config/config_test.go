package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Crawler.SeedURL != "https://news.ycombinator.com/" {
		t.Fatalf("unexpected seed url %q", cfg.Crawler.SeedURL)
	}
	if cfg.Crawler.Concurrency != 3 {
		t.Fatalf("expected default concurrency 3, got %d", cfg.Crawler.Concurrency)
	}
	if cfg.Crawler.PollInterval != 5*time.Second {
		t.Fatalf("expected default poll interval 5s, got %s", cfg.Crawler.PollInterval)
	}
	if got := cfg.Crawler.Headers["User-Agent"]; got != "Google Spider" {
		t.Fatalf("expected default user agent header, got %q", got)
	}
	if !cfg.Crawler.FetchStory {
		t.Fatal("expected story links to be fetched by default")
	}
	if !cfg.ItemPattern().MatchString("item?id=42") {
		t.Fatal("default item rule should match item links")
	}
	if cfg.Storage.Backend != BackendLocal {
		t.Fatalf("expected local backend, got %q", cfg.Storage.Backend)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
crawler:
  base_url: https://example.com/
  seed_url: https://example.com/front
  item_rule: 'post/\d+'
  headers:
    User-Agent: test-agent
    Accept-Language: en
  concurrency: 5
  poll_interval: 1m
  request_timeout: 3s
  comment_parallelism: 2
  fetch_story: true
  recheck_each_poll: true
retry:
  backoff_base: 200ms
  backoff_max: 5s
storage:
  backend: memory
server:
  port: 0
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Crawler.Concurrency != 5 || cfg.Crawler.CommentParallelism != 2 {
		t.Fatalf("unexpected crawler config %+v", cfg.Crawler)
	}
	if cfg.Crawler.PollInterval != time.Minute || cfg.Crawler.RequestTimeout != 3*time.Second {
		t.Fatalf("durations not decoded: %+v", cfg.Crawler)
	}
	if !cfg.Crawler.FetchStory || !cfg.Crawler.RecheckEachPoll {
		t.Fatal("expected boolean overrides to apply")
	}
	if cfg.Crawler.Headers["Accept-Language"] != "en" || cfg.Crawler.Headers["User-Agent"] != "test-agent" {
		t.Fatalf("expected header override, got %v", cfg.Crawler.Headers)
	}
	if cfg.Retry.BackoffBase != 200*time.Millisecond || cfg.Retry.BackoffMax != 5*time.Second {
		t.Fatalf("unexpected retry config %+v", cfg.Retry)
	}
	if cfg.Storage.Backend != BackendMemory || cfg.Server.Port != 0 || cfg.Logging.Development {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("YCRAWLER_CRAWLER_CONCURRENCY", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawler.Concurrency != 7 {
		t.Fatalf("expected env override, got %d", cfg.Crawler.Concurrency)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"relative seed", func(c *Config) { c.Crawler.SeedURL = "/news" }, "crawler.seed_url"},
		{"bad rule", func(c *Config) { c.Crawler.ItemRule = "item(" }, "crawler.item_rule"},
		{"zero concurrency", func(c *Config) { c.Crawler.Concurrency = 0 }, "crawler.concurrency"},
		{"zero interval", func(c *Config) { c.Crawler.PollInterval = 0 }, "crawler.poll_interval"},
		{"backoff inverted", func(c *Config) {
			c.Retry.BackoffBase = time.Second
			c.Retry.BackoffMax = time.Millisecond
		}, "retry.backoff_max"},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = BackendGCS }, "storage.gcs.bucket"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }, "unknown storage.backend"},
		{"half pubsub", func(c *Config) { c.PubSub.Topic = "items" }, "pubsub.project_id"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadSearchesWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ycrawler.yaml"), []byte("crawler:\n  concurrency: 9\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Chdir(dir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawler.Concurrency != 9 {
		t.Fatalf("expected concurrency from discovered file, got %d", cfg.Crawler.Concurrency)
	}
	if !strings.HasSuffix(cfg.Source, "ycrawler.yaml") {
		t.Fatalf("expected Source to name the discovered file, got %q", cfg.Source)
	}
}

func TestLoadKeepsDefaultUserAgent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("crawler:\n  headers:\n    Accept-Language: en\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := map[string]string{"User-Agent": "Google Spider", "Accept-Language": "en"}
	if len(cfg.Crawler.Headers) != len(want) {
		t.Fatalf("unexpected headers %v", cfg.Crawler.Headers)
	}
	for k, v := range want {
		if cfg.Crawler.Headers[k] != v {
			t.Fatalf("header %s = %q, want %q (all: %v)", k, cfg.Crawler.Headers[k], v, cfg.Crawler.Headers)
		}
	}
}
