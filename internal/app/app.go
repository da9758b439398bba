package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"price-history-backfill/internal/alerting"
	"price-history-backfill/internal/backfill"
	"price-history-backfill/internal/config"
	"price-history-backfill/internal/fetcher"
	"price-history-backfill/internal/metrics"
	"price-history-backfill/internal/ratelimit"
	"price-history-backfill/internal/scheduler"
	"price-history-backfill/internal/storage"
	"price-history-backfill/internal/storage/sqlite"
	"price-history-backfill/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Metrics *metrics.Backfill

	now func() time.Time
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config:  cfg,
		Logger:  logger.With().Str("component", "app").Logger(),
		Metrics: metrics.New(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newSource() (*fetcher.History, *fetcher.HTTPSession) {
	session := fetcher.NewHTTPSession(a.Config.Source.Timeout, a.Config.Source.UserAgents, a.Logger)
	history := fetcher.NewHistory(fetcher.HistoryOptions{
		BaseURL: a.Config.Source.BaseURL,
		Origin:  a.Config.Source.Origin,
	}, session, a.Logger)
	return history, session
}

func (a *App) newGate() *ratelimit.Gate {
	rl := a.Config.RateLimit
	return ratelimit.New(ratelimit.Options{
		MinDelay:     rl.MinDelay,
		MaxDelay:     rl.MaxDelay,
		BackoffBase:  rl.BackoffBase,
		MaxBackoff:   rl.MaxBackoff,
		MaxPerMinute: rl.MaxPerMinute,
	}, a.Logger)
}

// openStore opens the configured backend. The locker is nil for backends
// without advisory locks.
func (a *App) openStore(ctx context.Context) (storage.Backend, storage.AdvisoryLocker, error) {
	db := a.Config.Database
	if db.DSN == "" {
		return nil, nil, errors.New("database.dsn not configured")
	}

	switch db.Driver {
	case "sqlite":
		store, err := sqlite.New(db.DSN, db.PageSize)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case "postgres":
		pool, err := storage.NewPool(ctx, db)
		if err != nil {
			return nil, nil, err
		}
		store := storage.NewStore(pool, db.PageSize)
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database.driver %q", db.Driver)
	}
}

func (a *App) startMetrics(ctx context.Context) {
	addr := a.Config.Metrics.ListenAddr
	if addr == "" {
		return
	}
	go func() {
		if err := a.Metrics.Serve(ctx, addr, a.Logger); err != nil {
			a.Logger.Error().Err(err).Msg("metrics listener stopped")
		}
	}()
}

// Run repeats full backfill passes on the scheduler cadence. Every pass starts
// a new checkpoint so items are revisited for newly published days.
func (a *App) Run(ctx context.Context, opts BackfillOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.startMetrics(ctx)

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunAtStart:   true,
	}, a.Logger)

	a.Logger.Info().Str("version", version.String()).Dur("interval", a.Config.Scheduler.Interval).Msg("starting scheduled backfill")
	err := sched.Run(ctx, func(ctx context.Context, slot time.Time) error {
		pass := opts
		pass.ResumePath = ""
		summary, err := a.runPass(ctx, pass)
		if err != nil {
			return err
		}
		a.logSummary(summary)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("scheduler terminated with error")
		return err
	}

	a.Logger.Info().Msg("scheduled backfill stopped")
	return nil
}

// ExportOptions hold parameters for exporting an item's price history.
type ExportOptions struct {
	ItemID    int64
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Path  string
	Limit int
}

// BackfillOptions configure a backfill pass.
type BackfillOptions struct {
	From       *time.Time
	To         *time.Time
	Days       int
	Shard      backfill.Shard
	ResumePath string
	DryRun     bool
}
