package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"price-history-backfill/internal/alerting"
	"price-history-backfill/internal/backfill"
	"price-history-backfill/internal/checkpoint"
	"price-history-backfill/internal/fetcher"
	"price-history-backfill/internal/pricing"
)

// ErrShardBusy reports that another process holds the shard's advisory lock.
var ErrShardBusy = errors.New("shard is already being backfilled by another process")

// Backfill runs one pass over the catalog and always reports where progress
// was recorded, including after an interrupt.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.startMetrics(ctx)

	summary, err := a.runPass(ctx, opts)
	if err != nil {
		return err
	}
	a.logSummary(summary)
	return nil
}

// ResolveWindow turns CLI options into the target window.
func (a *App) ResolveWindow(opts BackfillOptions) (backfill.Window, error) {
	now := a.now()
	if opts.From == nil && opts.To == nil {
		days, clamped := a.Config.ResolveDays(opts.Days)
		if clamped {
			a.Logger.Warn().Int("requested", opts.Days).Int("days", days).Msg("source serves at most 365 days; window shortened")
		}
		return backfill.NewWindow(days, now), nil
	}

	yesterday := backfill.NewWindow(0, now).End
	w := backfill.Window{End: yesterday}
	if opts.To != nil {
		w.End = pricing.Day(*opts.To)
	}
	if opts.From != nil {
		w.Start = pricing.Day(*opts.From)
	} else {
		days, _ := a.Config.ResolveDays(opts.Days)
		w.Start = w.End.AddDate(0, 0, -days)
	}
	if err := w.Validate(); err != nil {
		return backfill.Window{}, err
	}
	return w, nil
}

func (a *App) runPass(ctx context.Context, opts BackfillOptions) (backfill.Summary, error) {
	window, err := a.ResolveWindow(opts)
	if err != nil {
		return backfill.Summary{}, err
	}
	shard := opts.Shard
	if shard == "" {
		shard = backfill.ShardAll
	}

	store, locker, err := a.openStore(ctx)
	if err != nil {
		return backfill.Summary{}, err
	}
	defer store.Close()

	if locker != nil && a.Config.Backfill.AdvisoryLockKey != 0 && !opts.DryRun {
		unlock, acquired, err := locker.TryAdvisoryLock(ctx, a.Config.Backfill.AdvisoryLockKey+shard.Offset())
		if err != nil {
			return backfill.Summary{}, err
		}
		if !acquired {
			return backfill.Summary{}, fmt.Errorf("%w: %s", ErrShardBusy, shard)
		}
		defer unlock()
	}

	items, err := store.ListItems(ctx)
	if err != nil {
		return backfill.Summary{}, fmt.Errorf("load catalog: %w", err)
	}
	items = shard.Select(fetcher.ResolveItems(items))

	runID := checkpoint.NewRunID(a.now())
	path := opts.ResumePath
	if path == "" {
		path = checkpoint.PathFor(a.Config.Backfill.CheckpointDir, runID)
	} else {
		runID = checkpointRunID(path)
	}
	ledger, err := a.openLedger(path, opts.DryRun)
	if err != nil {
		return backfill.Summary{}, err
	}

	source, session := a.newSource()
	orch, err := backfill.New(backfill.Options{
		Ranges:       a.Config.RangeKeys(),
		MaxAttempts:  a.Config.Backfill.MaxRetries,
		BatchSize:    a.Config.Backfill.BatchSize,
		RecycleAfter: a.Config.Backfill.RecycleAfter,
		DryRun:       opts.DryRun,
	}, backfill.Deps{
		Coverage: store,
		Sink:     store,
		Fetcher:  source,
		Session:  session,
		Gate:     a.newGate(),
		Ledger:   ledger,
		Observer: a.Metrics,
	}, a.Logger)
	if err != nil {
		return backfill.Summary{}, err
	}

	a.Logger.Info().
		Str("run_id", runID).
		Str("shard", string(shard)).
		Str("window", window.String()).
		Int("items", len(items)).
		Str("checkpoint", path).
		Msg("backfill pass configured")

	summary, err := orch.Run(ctx, items, window)
	if err != nil {
		return summary, err
	}
	if !summary.Interrupted {
		a.Metrics.RunCompleted(summary.FinishedAt)
	}
	a.notify(runID, shard, summary)
	return summary, nil
}

// openLedger opens the run's checkpoint. A dry run only reads it, so a preview
// neither creates a file nor bumps last_updated on --resume.
func (a *App) openLedger(path string, dryRun bool) (*checkpoint.Checkpoint, error) {
	if dryRun {
		return checkpoint.OpenReadOnly(path, a.Logger)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint storage unavailable: %w", err)
	}
	return checkpoint.Open(path, a.Logger)
}

func (a *App) notify(runID string, shard backfill.Shard, summary backfill.Summary) {
	notifier := a.newNotifier()
	if notifier == nil {
		return
	}
	note := alerting.Notification{
		RunID:          runID,
		Shard:          string(shard),
		WindowStart:    summary.Window.Start,
		WindowEnd:      summary.Window.End,
		Processed:      summary.Processed,
		Skipped:        summary.Skipped,
		Failed:         summary.Failed,
		TotalInserted:  summary.Stats.TotalInserted,
		TotalFailed:    summary.Stats.TotalFailed,
		TotalSkipped:   summary.Stats.TotalSkipped,
		Interrupted:    summary.Interrupted,
		CheckpointPath: summary.CheckpointPath,
		Duration:       summary.FinishedAt.Sub(summary.StartedAt),
		Channels:       a.Config.Alerting.Channels,
	}
	// the pass context may already be cancelled; the summary should still go out
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := notifier.Notify(ctx, note); err != nil {
		a.Logger.Error().Err(err).Msg("failed to send run summary")
	}
}

func (a *App) logSummary(s backfill.Summary) {
	a.Logger.Info().
		Int("items", s.Items).
		Int("already_processed", s.AlreadyDone).
		Int("processed", s.Processed).
		Int("skipped", s.Skipped).
		Int("failed", s.Failed).
		Int("total_inserted", s.Stats.TotalInserted).
		Int("total_failed", s.Stats.TotalFailed).
		Int("total_skipped", s.Stats.TotalSkipped).
		Bool("interrupted", s.Interrupted).
		Str("checkpoint", s.CheckpointPath).
		Msg("backfill summary")
	if s.Interrupted || s.Failed > 0 {
		a.Logger.Info().Msgf("resume with: pricebackfill backfill --resume %s", s.CheckpointPath)
	}
}

func checkpointRunID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(strings.TrimPrefix(base, "checkpoint_"), filepath.Ext(base))
}
