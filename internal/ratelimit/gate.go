package ratelimit

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Options tune request spacing.
type Options struct {
	MinDelay     time.Duration
	MaxDelay     time.Duration
	BackoffBase  float64
	MaxBackoff   time.Duration
	MaxPerMinute int
}

// Gate spaces out requests with jitter and inflates the spacing while errors persist.
type Gate struct {
	opts    Options
	logger  zerolog.Logger
	limiter *rate.Limiter

	mu                sync.Mutex
	lastRequest       time.Time
	consecutiveErrors int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
}

// New constructs a Gate.
func New(opts Options, logger zerolog.Logger) *Gate {
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = opts.MinDelay
	}
	if opts.BackoffBase <= 1 {
		opts.BackoffBase = 2
	}

	g := &Gate{
		opts:   opts,
		logger: logger.With().Str("component", "rate_gate").Logger(),
		now:    time.Now,
		sleep:  Sleep,
		rand:   rand.Float64,
	}
	if opts.MaxPerMinute > 0 {
		g.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.MaxPerMinute)), 1)
	}
	return g
}

// Wait blocks until the next request may be issued.
// It only returns an error when ctx is cancelled.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	delay := g.baseDelay()
	errs := g.consecutiveErrors
	if errs > 0 {
		delay += g.backoff(errs)
	}
	elapsed := g.now().Sub(g.lastRequest)
	g.mu.Unlock()

	if remaining := delay - elapsed; remaining > 0 {
		if errs > 0 {
			g.logger.Debug().Dur("delay", remaining).Int("errors", errs).Msg("rate limiting with backoff")
		}
		if err := g.sleep(ctx, remaining); err != nil {
			return err
		}
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	g.mu.Lock()
	g.lastRequest = g.now()
	g.mu.Unlock()
	return nil
}

// Pause sleeps between retry attempts for base^attempt seconds, capped.
func (g *Gate) Pause(ctx context.Context, attempt int) error {
	d := g.backoff(attempt)
	if d <= 0 {
		return nil
	}
	g.logger.Info().Dur("backoff", d).Int("attempt", attempt).Msg("retrying after backoff")
	return g.sleep(ctx, d)
}

// RecordError extends the failure streak.
func (g *Gate) RecordError() {
	g.mu.Lock()
	g.consecutiveErrors++
	g.mu.Unlock()
}

// ResetErrors clears the failure streak after a success.
func (g *Gate) ResetErrors() {
	g.mu.Lock()
	g.consecutiveErrors = 0
	g.mu.Unlock()
}

// ConsecutiveErrors returns the current failure streak.
func (g *Gate) ConsecutiveErrors() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.consecutiveErrors
}

// Backoff returns base^n seconds, bounded by MaxBackoff when configured.
func (g *Gate) Backoff(n int) time.Duration {
	return g.backoff(n)
}

func (g *Gate) baseDelay() time.Duration {
	span := g.opts.MaxDelay - g.opts.MinDelay
	if span <= 0 {
		return g.opts.MinDelay
	}
	return g.opts.MinDelay + time.Duration(g.rand()*float64(span))
}

func (g *Gate) backoff(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	secs := math.Pow(g.opts.BackoffBase, float64(n))
	if math.IsNaN(secs) || math.IsInf(secs, 0) || secs > math.MaxInt64/float64(time.Second) {
		// fall back to the base delay when the exponent overflows
		if g.opts.MaxBackoff > 0 {
			return g.opts.MaxBackoff
		}
		return g.opts.MinDelay
	}
	d := time.Duration(secs * float64(time.Second))
	if g.opts.MaxBackoff > 0 && d > g.opts.MaxBackoff {
		d = g.opts.MaxBackoff
	}
	return d
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
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
