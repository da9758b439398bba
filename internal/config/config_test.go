package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"price-history-backfill/internal/pricing"
)

func TestLoadDefaults(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.RateLimit.MinDelay != 2*time.Second || cfg.RateLimit.MaxDelay != 5*time.Second {
		t.Fatalf("unexpected delays: %v/%v", cfg.RateLimit.MinDelay, cfg.RateLimit.MaxDelay)
	}
	if cfg.Backfill.Days != MaxBackfillDays || cfg.Backfill.MaxRetries != 3 || cfg.Backfill.BatchSize != 100 {
		t.Fatalf("unexpected backfill defaults: %+v", cfg.Backfill)
	}
	if cfg.Database.PageSize != 500 {
		t.Fatalf("page size 默认应为 500, got %d", cfg.Database.PageSize)
	}
	if got := cfg.RangeKeys(); len(got) != 4 || got[0] != pricing.RangeMonth {
		t.Fatalf("unexpected range keys: %v", got)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
database:
  driver: sqlite
  dsn: ./prices.db
rate_limit:
  min_delay: 100ms
  max_delay: 200ms
backfill:
  days: 30
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PRICEBACKFILL_BACKFILL_MAX_RETRIES", "5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Fatalf("driver = %q", cfg.Database.Driver)
	}
	if cfg.RateLimit.MinDelay != 100*time.Millisecond {
		t.Fatalf("min delay = %v", cfg.RateLimit.MinDelay)
	}
	if cfg.Backfill.Days != 30 {
		t.Fatalf("days = %d", cfg.Backfill.Days)
	}
	if cfg.Backfill.MaxRetries != 5 {
		t.Fatalf("env override not applied: %d", cfg.Backfill.MaxRetries)
	}
}

func TestValidateRejects(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database:  DatabaseConfig{Driver: "postgres", PageSize: 500},
			Source:    SourceConfig{BaseURL: "http://x", Timeout: time.Second, RangeKeys: []string{"month"}},
			RateLimit: RateLimitConfig{MinDelay: time.Second, MaxDelay: 2 * time.Second, BackoffBase: 2},
			Backfill:  BackfillConfig{Days: 10, MaxRetries: 3, BatchSize: 100, CheckpointDir: "cp"},
			Scheduler: SchedulerConfig{Interval: time.Hour},
			Export:    ExportConfig{MaxDataPoints: 10},
		}
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("baseline config invalid: %v", err)
	}

	cases := map[string]func(*Config){
		"driver":     func(c *Config) { c.Database.Driver = "mysql" },
		"days":       func(c *Config) { c.Backfill.Days = MaxBackfillDays + 1 },
		"delays":     func(c *Config) { c.RateLimit.MaxDelay = 0 },
		"base":       func(c *Config) { c.RateLimit.BackoffBase = 1 },
		"range key":  func(c *Config) { c.Source.RangeKeys = []string{"weekly"} },
		"retries":    func(c *Config) { c.Backfill.MaxRetries = 0 },
		"telegram":   func(c *Config) { c.Alerting.Telegram.Enabled = true },
		"checkpoint": func(c *Config) { c.Backfill.CheckpointDir = "" },
	}
	for name, mutate := range cases {
		cfg := valid()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestResolveDaysClamps(t *testing.T) {
	cfg := &Config{Backfill: BackfillConfig{Days: 90}}
	if days, clamped := cfg.ResolveDays(0); days != 90 || clamped {
		t.Fatalf("default days = %d clamped=%v", days, clamped)
	}
	if days, clamped := cfg.ResolveDays(1000); days != MaxBackfillDays || !clamped {
		t.Fatalf("override days = %d clamped=%v", days, clamped)
	}
}
