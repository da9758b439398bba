package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"price-history-backfill/internal/logging"
	"price-history-backfill/internal/pricing"
)

// MaxBackfillDays is the longest window the price source serves.
const MaxBackfillDays = 365

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Source    SourceConfig    `mapstructure:"source"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Backfill  BackfillConfig  `mapstructure:"backfill"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects and sizes the storage backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	PageSize        int           `mapstructure:"page_size"`
}

// SourceConfig describes the external price-history API.
type SourceConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Origin     string        `mapstructure:"origin"`
	Timeout    time.Duration `mapstructure:"timeout"`
	UserAgents []string      `mapstructure:"user_agents"`
	RangeKeys  []string      `mapstructure:"range_keys"`
}

// RateLimitConfig governs request spacing and backoff.
type RateLimitConfig struct {
	MinDelay     time.Duration `mapstructure:"min_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	BackoffBase  float64       `mapstructure:"backoff_base"`
	MaxBackoff   time.Duration `mapstructure:"max_backoff"`
	MaxPerMinute int           `mapstructure:"max_per_minute"`
}

// BackfillConfig controls a single backfill pass.
type BackfillConfig struct {
	Days            int    `mapstructure:"days"`
	MaxRetries      int    `mapstructure:"max_retries"`
	BatchSize       int    `mapstructure:"batch_size"`
	RecycleAfter    int    `mapstructure:"recycle_after"`
	CheckpointDir   string `mapstructure:"checkpoint_dir"`
	AdvisoryLockKey int64  `mapstructure:"advisory_lock_key"`
}

// SchedulerConfig governs the repeat cadence of the run command.
type SchedulerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
}

// AlertingConfig routes run summaries.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 通知参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig exposes the prometheus endpoint; empty addr disables it.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICEBACKFILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pricebackfill")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.page_size", 500)

	v.SetDefault("source.base_url", "https://infinite-api.tcgplayer.com")
	v.SetDefault("source.origin", "https://www.tcgplayer.com")
	v.SetDefault("source.timeout", "20s")
	v.SetDefault("source.range_keys", []string{"month", "quarter", "semi-annual", "annual"})

	v.SetDefault("rate_limit.min_delay", "2s")
	v.SetDefault("rate_limit.max_delay", "5s")
	v.SetDefault("rate_limit.backoff_base", 2.0)
	v.SetDefault("rate_limit.max_backoff", "5m")
	v.SetDefault("rate_limit.max_per_minute", 0)

	v.SetDefault("backfill.days", MaxBackfillDays)
	v.SetDefault("backfill.max_retries", 3)
	v.SetDefault("backfill.batch_size", 100)
	v.SetDefault("backfill.recycle_after", 50)
	v.SetDefault("backfill.checkpoint_dir", "checkpoints")
	v.SetDefault("backfill.advisory_lock_key", int64(0x70726963))

	v.SetDefault("scheduler.interval", "24h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("metrics.listen_addr", "")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.PageSize <= 0 {
		return fmt.Errorf("database.page_size must be greater than zero")
	}
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if c.Source.Timeout <= 0 {
		return fmt.Errorf("source.timeout must be greater than zero")
	}
	if _, err := pricing.ParseRangeKeys(c.Source.RangeKeys); err != nil {
		return fmt.Errorf("source.range_keys: %w", err)
	}
	if c.RateLimit.MinDelay < 0 || c.RateLimit.MaxDelay < c.RateLimit.MinDelay {
		return fmt.Errorf("rate_limit.max_delay must be >= rate_limit.min_delay >= 0")
	}
	if c.RateLimit.BackoffBase <= 1 {
		return fmt.Errorf("rate_limit.backoff_base must be greater than 1")
	}
	if c.RateLimit.MaxPerMinute < 0 {
		return fmt.Errorf("rate_limit.max_per_minute cannot be negative")
	}
	if c.Backfill.Days <= 0 || c.Backfill.Days > MaxBackfillDays {
		return fmt.Errorf("backfill.days must be within 1..%d", MaxBackfillDays)
	}
	if c.Backfill.MaxRetries <= 0 {
		return fmt.Errorf("backfill.max_retries must be greater than zero")
	}
	if c.Backfill.BatchSize <= 0 {
		return fmt.Errorf("backfill.batch_size must be greater than zero")
	}
	if c.Backfill.RecycleAfter < 0 {
		return fmt.Errorf("backfill.recycle_after cannot be negative")
	}
	if c.Backfill.CheckpointDir == "" {
		return fmt.Errorf("backfill.checkpoint_dir is required")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// RangeKeys returns the configured granularities, finest first.
func (c *Config) RangeKeys() []pricing.RangeKey {
	keys, err := pricing.ParseRangeKeys(c.Source.RangeKeys)
	if err != nil || len(keys) == 0 {
		return pricing.DefaultRanges
	}
	return keys
}

// ResolveDays clamps a CLI override to the source maximum. The second return
// reports whether clamping happened.
func (c *Config) ResolveDays(override int) (int, bool) {
	days := c.Backfill.Days
	if override > 0 {
		days = override
	}
	if days > MaxBackfillDays {
		return MaxBackfillDays, true
	}
	return days, false
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
