package pricing

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar date format used by the price source and the store.
const DateLayout = "2006-01-02"

// Item is a catalog entry whose price history is backfilled.
type Item struct {
	ID           int64
	ExternalRef  string
	URL          string
	ReleaseDate  *time.Time
	VariantTag   string
	LanguageHint string
}

// PricePoint is the canonical unit of truth: one price per item per day.
type PricePoint struct {
	Date  time.Time
	Price decimal.Decimal
}

// Bucket is a coarse price observation starting at Start.
type Bucket struct {
	Start time.Time
	Price decimal.Decimal
}

// RangeKey names a historical range offered by the source.
type RangeKey string

const (
	RangeMonth      RangeKey = "month"
	RangeQuarter    RangeKey = "quarter"
	RangeSemiAnnual RangeKey = "semi-annual"
	RangeAnnual     RangeKey = "annual"
)

// DefaultRanges lists every range finest first.
var DefaultRanges = []RangeKey{RangeMonth, RangeQuarter, RangeSemiAnnual, RangeAnnual}

// Rank orders ranges by granularity; lower is finer.
func (k RangeKey) Rank() int {
	switch k {
	case RangeMonth:
		return 0
	case RangeQuarter:
		return 1
	case RangeSemiAnnual:
		return 2
	case RangeAnnual:
		return 3
	default:
		return 100
	}
}

// Valid reports whether the key is one the source understands.
func (k RangeKey) Valid() bool {
	return k.Rank() < 100
}

// ParseRangeKeys validates a configured list of range names.
func ParseRangeKeys(names []string) ([]RangeKey, error) {
	keys := make([]RangeKey, 0, len(names))
	seen := make(map[RangeKey]struct{}, len(names))
	for _, name := range names {
		key := RangeKey(strings.ToLower(strings.TrimSpace(name)))
		if !key.Valid() {
			return nil, fmt.Errorf("unknown range key %q", name)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys, nil
}

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD date, also accepting a trailing time part
// ("2025-01-02 12:00:00" or "2025-01-02T12:00:00Z").
func ParseDay(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) > len(DateLayout) {
		raw = raw[:len(DateLayout)]
	}
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// DaysBetween counts calendar days in [start, end], zero when end precedes start.
func DaysBetween(start, end time.Time) int {
	start, end = Day(start), Day(end)
	if end.Before(start) {
		return 0
	}
	return int(end.Sub(start).Hours()/24) + 1
}

// ParsePrice parses a source price string such as "$1,234.50".
// It reports false for unparseable or non-positive values.
func ParsePrice(raw string) (decimal.Decimal, bool) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.ReplaceAll(cleaned, "$", "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if cleaned == "" {
		return decimal.Decimal{}, false
	}
	price, err := decimal.NewFromString(cleaned)
	if err != nil || !price.IsPositive() {
		return decimal.Decimal{}, false
	}
	return price, true
}

// NewBucket validates raw bucket fields at the parse boundary.
func NewBucket(rawStart, rawPrice string) (Bucket, bool) {
	if strings.TrimSpace(rawStart) == "" {
		return Bucket{}, false
	}
	start, err := ParseDay(rawStart)
	if err != nil {
		return Bucket{}, false
	}
	price, ok := ParsePrice(rawPrice)
	if !ok {
		return Bucket{}, false
	}
	return Bucket{Start: start, Price: price}, true
}

// DateSet is a set of calendar dates.
type DateSet map[time.Time]struct{}

// NewDateSet builds a set from the given dates.
func NewDateSet(dates ...time.Time) DateSet {
	set := make(DateSet, len(dates))
	for _, d := range dates {
		set.Add(d)
	}
	return set
}

// Add inserts the calendar date of t.
func (s DateSet) Add(t time.Time) {
	s[Day(t)] = struct{}{}
}

// Has reports whether the calendar date of t is present.
func (s DateSet) Has(t time.Time) bool {
	_, ok := s[Day(t)]
	return ok
}

// IsComplete reports whether covered holds at least one date per day of [start, end].
func IsComplete(covered DateSet, start, end time.Time) bool {
	return len(covered) >= DaysBetween(start, end)
}

// FilterWindow keeps points dated within [start, end].
func FilterWindow(points []PricePoint, start, end time.Time) []PricePoint {
	start, end = Day(start), Day(end)
	out := make([]PricePoint, 0, len(points))
	for _, p := range points {
		if p.Date.Before(start) || p.Date.After(end) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// FilterMissing drops points whose date is already covered.
func FilterMissing(points []PricePoint, covered DateSet) []PricePoint {
	out := make([]PricePoint, 0, len(points))
	for _, p := range points {
		if covered.Has(p.Date) {
			continue
		}
		out = append(out, p)
	}
	return out
}
