package backfill

import (
	"fmt"
	"strings"
	"time"

	"price-history-backfill/internal/pricing"
)

// Window is the inclusive calendar range a pass tries to fill.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow ends yesterday (UTC) and reaches days back from there.
func NewWindow(days int, now time.Time) Window {
	end := pricing.Day(now).AddDate(0, 0, -1)
	return Window{Start: end.AddDate(0, 0, -days), End: end}
}

// Validate checks ordering.
func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return fmt.Errorf("window bounds are required")
	}
	if w.Start.After(w.End) {
		return fmt.Errorf("window start %s is after end %s", w.Start.Format(pricing.DateLayout), w.End.Format(pricing.DateLayout))
	}
	return nil
}

// Days counts calendar days in the window.
func (w Window) Days() int {
	return pricing.DaysBetween(w.Start, w.End)
}

func (w Window) String() string {
	return w.Start.Format(pricing.DateLayout) + ".." + w.End.Format(pricing.DateLayout)
}

// Shard splits the catalog so two processes can share it.
type Shard string

const (
	ShardAll        Shard = "all"
	ShardFirstHalf  Shard = "first-half"
	ShardSecondHalf Shard = "second-half"
)

// ParseShard accepts the CLI spelling; forward/reverse are aliases.
func ParseShard(raw string) (Shard, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "all":
		return ShardAll, nil
	case "first-half", "forward":
		return ShardFirstHalf, nil
	case "second-half", "reverse":
		return ShardSecondHalf, nil
	default:
		return "", fmt.Errorf("unknown shard %q (want all, first-half or second-half)", raw)
	}
}

// Offset distinguishes shards in lock keys and log fields.
func (s Shard) Offset() int64 {
	switch s {
	case ShardFirstHalf:
		return 1
	case ShardSecondHalf:
		return 2
	default:
		return 0
	}
}

// Select returns the shard's slice of items in processing order.
// The second half is walked backwards so both shards start far apart.
func (s Shard) Select(items []pricing.Item) []pricing.Item {
	mid := len(items) / 2
	switch s {
	case ShardFirstHalf:
		return append([]pricing.Item(nil), items[:mid]...)
	case ShardSecondHalf:
		half := items[mid:]
		out := make([]pricing.Item, 0, len(half))
		for i := len(half) - 1; i >= 0; i-- {
			out = append(out, half[i])
		}
		return out
	default:
		return append([]pricing.Item(nil), items...)
	}
}
