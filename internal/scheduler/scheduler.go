package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// PassFunc is invoked once per scheduled slot.
type PassFunc func(ctx context.Context, slot time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	// RunAtStart triggers a pass immediately instead of waiting for the first slot.
	RunAtStart bool
}

// Scheduler repeats backfill passes on a fixed cadence. Passes never overlap:
// a slot missed while a pass is still running is skipped.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks, invoking pass at each slot until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, pass PassFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if s.opts.RunAtStart {
		s.execute(ctx, pass, s.now())
	}

	next := s.nextSlot(s.now())
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		now := s.now()
		if next.Before(now) {
			s.logger.Warn().Time("missed_slot", next).Msg("pass overran its slot; skipping ahead")
			next = s.nextSlot(now)
		}

		s.logger.Debug().Time("next_slot", next).Msg("waiting for next pass")
		if err := sleep(ctx, next.Sub(now)); err != nil {
			return err
		}

		s.execute(ctx, pass, s.slotStart(next))
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) execute(ctx context.Context, pass PassFunc, slot time.Time) {
	s.logger.Info().Time("slot", slot).Msg("starting scheduled pass")
	if err := pass(ctx, slot); err != nil {
		s.logger.Error().Err(err).Time("slot", slot).Msg("scheduled pass failed")
	}
}

func (s *Scheduler) nextSlot(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	slot := now.Truncate(s.opts.Interval)
	if !slot.After(now) {
		slot = slot.Add(s.opts.Interval)
	}
	return slot
}

func (s *Scheduler) slotStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
