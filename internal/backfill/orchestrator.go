// Package backfill drives the per-item pipeline: fetch every range, merge,
// drop what the store already holds and persist the rest.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"price-history-backfill/internal/checkpoint"
	"price-history-backfill/internal/fetcher"
	"price-history-backfill/internal/pricing"
	"price-history-backfill/internal/storage"
)

// Outcome is the terminal state of one item within a pass.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Gate is the request pacing the orchestrator relies on.
type Gate interface {
	Wait(ctx context.Context) error
	Pause(ctx context.Context, attempt int) error
	RecordError()
	ResetErrors()
	ConsecutiveErrors() int
}

// Ledger records per-item outcomes across runs.
type Ledger interface {
	Path() string
	IsProcessed(id int64) bool
	MarkProcessed(id int64)
	MarkFailed(id int64)
	UpdateStats(inserted, failed, skipped int)
	Stats() checkpoint.Stats
	Flush() bool
}

// Observer receives run telemetry.
type Observer interface {
	ItemDone(outcome string)
	FetchDone(rangeKey, status string, d time.Duration)
	RowsWritten(inserted, failed int)
	SessionRecycled()
	ErrorStreak(n int)
}

// Options tune a pass.
type Options struct {
	Ranges       []pricing.RangeKey
	MaxAttempts  int
	BatchSize    int
	RecycleAfter int
	// DryRun fetches and diffs but neither writes rows nor touches the ledger.
	DryRun bool
}

// Deps are the collaborators of an Orchestrator. Session and Observer are optional.
type Deps struct {
	Coverage storage.CoverageProbe
	Sink     storage.PriceSink
	Fetcher  fetcher.RangeFetcher
	Session  fetcher.Session
	Gate     Gate
	Ledger   Ledger
	Observer Observer
}

// Summary reports a finished (or interrupted) pass.
type Summary struct {
	Window         Window
	Items          int
	AlreadyDone    int
	Processed      int
	Skipped        int
	Failed         int
	NewRows        int
	Stats          checkpoint.Stats
	CheckpointPath string
	Interrupted    bool
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Orchestrator runs the backfill pipeline sequentially over items.
type Orchestrator struct {
	opts   Options
	deps   Deps
	logger zerolog.Logger

	sinceRecycle int
	now          func() time.Time
}

// New validates deps and applies defaults.
func New(opts Options, deps Deps, logger zerolog.Logger) (*Orchestrator, error) {
	if deps.Coverage == nil || deps.Sink == nil || deps.Fetcher == nil || deps.Gate == nil || deps.Ledger == nil {
		return nil, fmt.Errorf("backfill: coverage, sink, fetcher, gate and ledger are required")
	}
	if len(opts.Ranges) == 0 {
		opts.Ranges = pricing.DefaultRanges
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}

	return &Orchestrator{
		opts:   opts,
		deps:   deps,
		logger: logger.With().Str("component", "backfill").Logger(),
		now:    time.Now,
	}, nil
}

// Run processes items in order until done or ctx is cancelled. The ledger is
// flushed and a summary returned in both cases.
func (o *Orchestrator) Run(ctx context.Context, items []pricing.Item, window Window) (Summary, error) {
	summary := Summary{
		Window:         window,
		Items:          len(items),
		CheckpointPath: o.deps.Ledger.Path(),
		StartedAt:      o.now().UTC(),
	}
	if err := window.Validate(); err != nil {
		return summary, err
	}

	pending := make([]pricing.Item, 0, len(items))
	for _, item := range items {
		if o.deps.Ledger.IsProcessed(item.ID) {
			summary.AlreadyDone++
			continue
		}
		pending = append(pending, item)
	}

	o.logger.Info().
		Str("window", window.String()).
		Int("items", len(items)).
		Int("already_processed", summary.AlreadyDone).
		Int("remaining", len(pending)).
		Bool("dry_run", o.opts.DryRun).
		Msg("starting backfill pass")

	for idx, item := range pending {
		if ctx.Err() != nil {
			summary.Interrupted = true
			break
		}

		o.logger.Info().Int64("item_id", item.ID).Msgf("[%d/%d] processing item", idx+1, len(pending))
		outcome, rows, err := o.ProcessItem(ctx, item, window)
		if err != nil {
			summary.Interrupted = true
			break
		}

		summary.NewRows += rows
		switch outcome {
		case OutcomeProcessed:
			summary.Processed++
		case OutcomeSkipped:
			summary.Skipped++
		case OutcomeFailed:
			summary.Failed++
		}
		o.deps.Observer.ItemDone(string(outcome))
	}

	if !o.opts.DryRun {
		o.deps.Ledger.Flush()
	}
	summary.Stats = o.deps.Ledger.Stats()
	summary.FinishedAt = o.now().UTC()

	event := o.logger.Info()
	if summary.Interrupted {
		event = o.logger.Warn()
	}
	event.
		Int("processed", summary.Processed).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Int("total_inserted", summary.Stats.TotalInserted).
		Int("total_failed", summary.Stats.TotalFailed).
		Int("total_skipped", summary.Stats.TotalSkipped).
		Bool("interrupted", summary.Interrupted).
		Str("checkpoint", summary.CheckpointPath).
		Msg("backfill pass finished")

	return summary, nil
}

// ProcessItem runs the pipeline for one item. The returned error is non-nil
// only when ctx was cancelled before the item reached a terminal state; rows
// is the number of new rows found (written, or planned in dry-run mode).
func (o *Orchestrator) ProcessItem(ctx context.Context, item pricing.Item, window Window) (outcome Outcome, rows int, err error) {
	logger := o.logger.With().Int64("item_id", item.ID).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("item pipeline panicked")
			outcome, rows, err = o.fail(item), 0, nil
		}
	}()

	start := pricing.Day(window.Start)
	end := pricing.Day(window.End)
	if item.ReleaseDate != nil {
		release := pricing.Day(*item.ReleaseDate)
		if release.After(end) {
			logger.Info().Time("release_date", release).Msg("released after target window; skipping")
			return o.skip(item), 0, nil
		}
		if release.After(start) {
			logger.Debug().Time("release_date", release).Msg("window starts at release date")
			start = release
		}
	}

	covered, probeErr := o.deps.Coverage.DatesCovered(ctx, item.ID, start, end)
	if probeErr != nil {
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}
		logger.Warn().Err(probeErr).Msg("coverage probe failed; assuming no existing data")
		covered = pricing.NewDateSet()
	}
	expected := pricing.DaysBetween(start, end)
	if pricing.IsComplete(covered, start, end) {
		logger.Info().Int("covered", len(covered)).Int("expected", expected).Msg("already complete; skipping")
		return o.skip(item), 0, nil
	}
	if len(covered) > 0 {
		logger.Info().Int("covered", len(covered)).Int("expected", expected).Msg("partial coverage; filling gaps")
	}

	if item.ExternalRef == "" {
		logger.Error().Str("url", item.URL).Msg("item has no source reference")
		return o.fail(item), 0, nil
	}

	if err := o.maybeRecycle(ctx, logger); err != nil {
		return "", 0, err
	}

	points, err := o.fetchWithRetry(ctx, logger, item)
	if err != nil {
		return "", 0, err
	}
	if len(points) == 0 {
		logger.Error().Int("attempts", o.opts.MaxAttempts).Msg("no price history after all attempts")
		return o.fail(item), 0, nil
	}

	inWindow := pricing.FilterWindow(points, start, end)
	if len(inWindow) == 0 {
		logger.Info().Msg("no data inside target window")
		return o.skip(item), 0, nil
	}
	fresh := pricing.FilterMissing(inWindow, covered)
	if len(fresh) == 0 {
		logger.Info().Int("points", len(inWindow)).Msg("all dates already stored")
		return o.skip(item), 0, nil
	}

	if o.opts.DryRun {
		logger.Info().Int("new", len(fresh)).Int("existing", len(inWindow)-len(fresh)).Msg("dry run: would insert prices")
		return OutcomeProcessed, len(fresh), nil
	}

	entries := make([]storage.PriceEntry, 0, len(fresh))
	for _, p := range fresh {
		entries = append(entries, storage.PriceEntry{ItemID: item.ID, Price: p.Price, RecordedAt: storage.StampDay(p.Date)})
	}

	// an item already being written is finished even if ctx is cancelled meanwhile
	inserted, failed := o.persist(context.WithoutCancel(ctx), logger, entries)
	o.deps.Observer.RowsWritten(inserted, failed)
	o.deps.Ledger.UpdateStats(inserted, failed, 0)
	o.deps.Ledger.MarkProcessed(item.ID)

	event := logger.Info()
	if failed > 0 {
		event = logger.Warn()
	}
	event.Int("inserted", inserted).Int("failed", failed).Int("existing", len(inWindow)-len(fresh)).Msg("prices stored")
	return OutcomeProcessed, inserted, nil
}

// fetchWithRetry returns the merged, unclipped series. Any history at all ends
// the retry loop; whether it touches the target window is decided afterwards.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, logger zerolog.Logger, item pricing.Item) ([]pricing.PricePoint, error) {
	for attempt := 1; attempt <= o.opts.MaxAttempts; attempt++ {
		merger := pricing.NewMerger()
		transportFailure := false

		for _, key := range o.opts.Ranges {
			if err := o.deps.Gate.Wait(ctx); err != nil {
				return nil, err
			}

			began := o.now()
			buckets, err := o.deps.Fetcher.Fetch(ctx, fetcher.RangeRequest{
				ExternalRef: item.ExternalRef,
				Range:       key,
				Variant:     item.VariantTag,
				Language:    item.LanguageHint,
				Referer:     item.URL,
			})
			took := o.now().Sub(began)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				o.deps.Observer.FetchDone(string(key), "error", took)
				logger.Warn().Err(err).Str("range", string(key)).Int("attempt", attempt).Msg("range fetch failed")
				transportFailure = true
				if errors.Is(err, fetcher.ErrThrottled) {
					break
				}
				continue
			}

			points := pricing.Expand(buckets, nil, nil)
			status := "ok"
			if len(points) == 0 {
				status = "empty"
			}
			o.deps.Observer.FetchDone(string(key), status, took)
			logger.Debug().Str("range", string(key)).Int("attempt", attempt).Int("buckets", len(buckets)).Int("points", len(points)).Msg("range fetched")
			merger.Add(key, points)
		}

		if merger.Len() > 0 {
			o.deps.Gate.ResetErrors()
			o.deps.Observer.ErrorStreak(0)
			return merger.Points(), nil
		}

		o.deps.Gate.RecordError()
		o.deps.Observer.ErrorStreak(o.deps.Gate.ConsecutiveErrors())
		logger.Warn().Int("attempt", attempt).Int("max_attempts", o.opts.MaxAttempts).Msg("no data extracted")

		if transportFailure {
			if err := o.recycle(ctx, logger, "transport failure"); err != nil {
				return nil, err
			}
		}
		if attempt < o.opts.MaxAttempts {
			if err := o.deps.Gate.Pause(ctx, attempt); err != nil {
				return nil, err
			}
		}
	}
	return nil, nil
}

// persist writes entries in batches; a failing batch is retried row by row.
func (o *Orchestrator) persist(ctx context.Context, logger zerolog.Logger, entries []storage.PriceEntry) (inserted, failed int) {
	for lo := 0; lo < len(entries); lo += o.opts.BatchSize {
		hi := min(lo+o.opts.BatchSize, len(entries))
		batch := entries[lo:hi]

		err := o.deps.Sink.InsertPrices(ctx, batch)
		if err == nil {
			inserted += len(batch)
			continue
		}

		logger.Warn().Err(err).Int("batch_size", len(batch)).Msg("batch insert failed; falling back to single rows")
		for _, entry := range batch {
			if err := o.deps.Sink.InsertPrices(ctx, []storage.PriceEntry{entry}); err != nil {
				logger.Debug().Err(err).Time("recorded_at", entry.RecordedAt).Msg("row insert failed")
				failed++
				continue
			}
			inserted++
		}
	}
	return inserted, failed
}

func (o *Orchestrator) maybeRecycle(ctx context.Context, logger zerolog.Logger) error {
	if o.opts.RecycleAfter > 0 && o.sinceRecycle >= o.opts.RecycleAfter {
		if err := o.recycle(ctx, logger, "cadence"); err != nil {
			return err
		}
	}
	o.sinceRecycle++
	return nil
}

// recycle replaces the source session. Only cancellation is propagated; other
// recycle errors are logged and the old session kept.
func (o *Orchestrator) recycle(ctx context.Context, logger zerolog.Logger, reason string) error {
	o.sinceRecycle = 0
	if o.deps.Session == nil {
		return nil
	}
	if err := o.deps.Session.Recycle(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Error().Err(err).Str("reason", reason).Msg("session recycle failed")
		return nil
	}
	o.deps.Observer.SessionRecycled()
	logger.Info().Str("reason", reason).Msg("source session recycled")
	return nil
}

func (o *Orchestrator) skip(item pricing.Item) Outcome {
	if !o.opts.DryRun {
		o.deps.Ledger.MarkProcessed(item.ID)
		o.deps.Ledger.UpdateStats(0, 0, 1)
	}
	return OutcomeSkipped
}

func (o *Orchestrator) fail(item pricing.Item) Outcome {
	if !o.opts.DryRun {
		o.deps.Ledger.MarkFailed(item.ID)
		o.deps.Ledger.UpdateStats(0, 1, 0)
	}
	return OutcomeFailed
}

type nopObserver struct{}

func (nopObserver) ItemDone(string)                         {}
func (nopObserver) FetchDone(string, string, time.Duration) {}
func (nopObserver) RowsWritten(int, int)                    {}
func (nopObserver) SessionRecycled()                        {}
func (nopObserver) ErrorStreak(int)                         {}
