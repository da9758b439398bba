package pricing

import (
	"sort"
	"time"
)

// RangeSeries is the expanded daily series produced by one range.
type RangeSeries struct {
	Range  RangeKey
	Points []PricePoint
}

// Merge combines range series into one canonical daily series.
// When several ranges cover a date, the finest range's price survives.
func Merge(results ...RangeSeries) []PricePoint {
	m := NewMerger()
	for _, r := range results {
		m.Add(r.Range, r.Points)
	}
	return m.Points()
}

// Merger accumulates range series across fetches.
type Merger struct {
	series []RangeSeries
}

// NewMerger returns an empty merger.
func NewMerger() *Merger {
	return &Merger{}
}

// Add records the expanded points of one range.
func (m *Merger) Add(key RangeKey, points []PricePoint) {
	if len(points) == 0 {
		return
	}
	m.series = append(m.series, RangeSeries{Range: key, Points: points})
}

// Len returns the number of distinct dates accumulated so far.
func (m *Merger) Len() int {
	return len(m.byDate())
}

// Points returns the merged series ordered by date.
func (m *Merger) Points() []PricePoint {
	byDate := m.byDate()
	out := make([]PricePoint, 0, len(byDate))
	for _, p := range byDate {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

// byDate walks coarsest to finest so finer prices overwrite coarser ones.
func (m *Merger) byDate() map[time.Time]PricePoint {
	ordered := make([]RangeSeries, len(m.series))
	copy(ordered, m.series)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Range.Rank() > ordered[j].Range.Rank()
	})

	byDate := make(map[time.Time]PricePoint)
	for _, s := range ordered {
		for _, p := range s.Points {
			if !p.Price.IsPositive() {
				continue
			}
			day := Day(p.Date)
			byDate[day] = PricePoint{Date: day, Price: p.Price}
		}
	}
	return byDate
}
