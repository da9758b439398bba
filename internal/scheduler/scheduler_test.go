package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunRepeatsUntilCancelled(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond, RunAtStart: true}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var passes atomic.Int32
	err := s.Run(ctx, func(ctx context.Context, slot time.Time) error {
		if passes.Add(1) == 3 {
			cancel()
		}
		return errors.New("pass errors are logged, not fatal")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := passes.Load(); got != 3 {
		t.Fatalf("expected 3 passes, got %d", got)
	}
}

func TestStartupDelayHonoursCancel(t *testing.T) {
	s := New(Options{Interval: time.Hour, StartupDelay: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	called := false
	err := s.Run(ctx, func(context.Context, time.Time) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("unexpected err: %v", err)
	}
	if called {
		t.Fatal("pass should not run during startup delay")
	}
}

func TestNextSlotAlignment(t *testing.T) {
	s := New(Options{Interval: 24 * time.Hour, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2025, 1, 9, 14, 30, 0, 0, time.UTC)

	next := s.nextSlot(now)
	if want := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("next slot = %s, want %s", next, want)
	}
	if got := s.slotStart(next.Add(3 * time.Second)); !got.Equal(next) {
		t.Fatalf("slot start = %s", got)
	}

	unaligned := New(Options{Interval: time.Hour}, zerolog.Nop())
	if got := unaligned.nextSlot(now); !got.Equal(now.Add(time.Hour)) {
		t.Fatalf("unaligned next = %s", got)
	}
}
