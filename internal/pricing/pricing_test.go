package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(t *testing.T, raw string) time.Time {
	t.Helper()
	d, err := ParseDay(raw)
	require.NoError(t, err)
	return d
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestExpandFlatFillsUntilNextBucket(t *testing.T) {
	buckets := []Bucket{
		{Start: day(t, "2025-01-04"), Price: dec("12")},
		{Start: day(t, "2025-01-01"), Price: dec("10")},
	}

	points := Expand(buckets, nil, nil)
	require.Len(t, points, 4)

	for i, want := range []string{"2025-01-01", "2025-01-02", "2025-01-03"} {
		assert.True(t, points[i].Date.Equal(day(t, want)), "point %d date", i)
		assert.True(t, points[i].Price.Equal(dec("10")), "point %d price", i)
	}
	assert.True(t, points[3].Date.Equal(day(t, "2025-01-04")))
	assert.True(t, points[3].Price.Equal(dec("12")))
}

func TestExpandClipsToWindow(t *testing.T) {
	buckets := []Bucket{
		{Start: day(t, "2025-01-01"), Price: dec("10")},
		{Start: day(t, "2025-01-04"), Price: dec("12")},
	}
	from, to := day(t, "2025-01-02"), day(t, "2025-01-03")

	points := Expand(buckets, &from, &to)
	require.Len(t, points, 2)
	assert.True(t, points[0].Date.Equal(from))
	assert.True(t, points[1].Date.Equal(to))
	for _, p := range points {
		assert.True(t, p.Price.Equal(dec("10")))
	}
}

func TestExpandDropsInvalidBuckets(t *testing.T) {
	buckets := []Bucket{
		{Start: day(t, "2025-01-01"), Price: dec("0")},
		{Start: day(t, "2025-01-02"), Price: dec("-3")},
		{Price: dec("5")},
	}
	assert.Empty(t, Expand(buckets, nil, nil))
	assert.Empty(t, Expand(nil, nil, nil))
}

func TestExpandSkipsBucketsOutsideWindow(t *testing.T) {
	buckets := []Bucket{
		{Start: day(t, "2024-12-01"), Price: dec("1")},
		{Start: day(t, "2024-12-08"), Price: dec("2")},
		{Start: day(t, "2025-02-01"), Price: dec("3")},
	}
	from, to := day(t, "2025-01-10"), day(t, "2025-01-12")

	points := Expand(buckets, &from, &to)
	require.Len(t, points, 3)
	for _, p := range points {
		assert.True(t, p.Price.Equal(dec("2")), "only the covering bucket survives")
	}
}

func TestMergeFinerRangeWins(t *testing.T) {
	d1, d2, d3 := day(t, "2025-03-01"), day(t, "2025-03-02"), day(t, "2025-03-03")
	month := RangeSeries{Range: RangeMonth, Points: []PricePoint{{Date: d1, Price: dec("1.00")}, {Date: d2, Price: dec("1.10")}}}
	quarter := RangeSeries{Range: RangeQuarter, Points: []PricePoint{{Date: d2, Price: dec("2.00")}, {Date: d3, Price: dec("2.10")}}}
	annual := RangeSeries{Range: RangeAnnual, Points: []PricePoint{{Date: d1, Price: dec("9")}, {Date: d2, Price: dec("9")}, {Date: d3, Price: dec("9")}}}

	orders := [][]RangeSeries{
		{month, quarter, annual},
		{annual, quarter, month},
		{quarter, annual, month},
	}
	for _, order := range orders {
		merged := Merge(order...)
		require.Len(t, merged, 3)
		assert.True(t, merged[0].Price.Equal(dec("1.00")))
		assert.True(t, merged[1].Price.Equal(dec("1.10")))
		assert.True(t, merged[2].Price.Equal(dec("2.10")))
	}
}

func TestMergerRejectsNonPositive(t *testing.T) {
	m := NewMerger()
	m.Add(RangeMonth, []PricePoint{{Date: day(t, "2025-01-01"), Price: dec("0")}})
	m.Add(RangeAnnual, []PricePoint{{Date: day(t, "2025-01-01"), Price: dec("4")}})
	m.Add(RangeQuarter, nil)

	points := m.Points()
	require.Len(t, points, 1)
	assert.True(t, points[0].Price.Equal(dec("4")))
	assert.Equal(t, 1, m.Len())
}

func TestNewBucketParseBoundary(t *testing.T) {
	b, ok := NewBucket("2025-01-05", "$1,234.50")
	require.True(t, ok)
	assert.True(t, b.Price.Equal(dec("1234.50")))
	assert.True(t, b.Start.Equal(day(t, "2025-01-05")))

	for _, tc := range []struct{ start, price string }{
		{"", "1"},
		{"not-a-date", "1"},
		{"2025-01-05", "abc"},
		{"2025-01-05", "0"},
		{"2025-01-05", "-1"},
		{"2025-01-05", ""},
	} {
		_, ok := NewBucket(tc.start, tc.price)
		assert.False(t, ok, "bucket %+v should be rejected", tc)
	}
}

func TestCoverageHelpers(t *testing.T) {
	start, end := day(t, "2025-01-01"), day(t, "2025-01-10")
	assert.Equal(t, 10, DaysBetween(start, end))
	assert.Equal(t, 0, DaysBetween(end, start))

	covered := NewDateSet()
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		covered.Add(d.Add(12 * time.Hour))
	}
	assert.True(t, IsComplete(covered, start, end))

	delete(covered, day(t, "2025-01-05"))
	assert.False(t, IsComplete(covered, start, end))

	points := []PricePoint{
		{Date: day(t, "2024-12-31"), Price: dec("1")},
		{Date: day(t, "2025-01-05"), Price: dec("1")},
		{Date: day(t, "2025-01-06"), Price: dec("1")},
	}
	inWindow := FilterWindow(points, start, end)
	require.Len(t, inWindow, 2)
	missing := FilterMissing(inWindow, covered)
	require.Len(t, missing, 1)
	assert.True(t, missing[0].Date.Equal(day(t, "2025-01-05")))
}

func TestParseRangeKeys(t *testing.T) {
	keys, err := ParseRangeKeys([]string{"Month", "quarter", "month", " annual "})
	require.NoError(t, err)
	assert.Equal(t, []RangeKey{RangeMonth, RangeQuarter, RangeAnnual}, keys)

	_, err = ParseRangeKeys([]string{"decade"})
	assert.Error(t, err)
}
