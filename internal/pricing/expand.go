package pricing

import (
	"sort"
	"time"
)

// Expand flattens buckets into one point per calendar day.
//
// A bucket spans from its start until the day before the next bucket starts;
// the last bucket spans its start day only. Spans are clipped to the optional
// window and buckets with a zero start or non-positive price are dropped.
func Expand(buckets []Bucket, windowStart, windowEnd *time.Time) []PricePoint {
	valid := make([]Bucket, 0, len(buckets))
	for _, b := range buckets {
		if b.Start.IsZero() || !b.Price.IsPositive() {
			continue
		}
		valid = append(valid, Bucket{Start: Day(b.Start), Price: b.Price})
	}
	if len(valid) == 0 {
		return nil
	}

	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Start.Before(valid[j].Start)
	})

	var lo, hi time.Time
	if windowStart != nil {
		lo = Day(*windowStart)
	}
	if windowEnd != nil {
		hi = Day(*windowEnd)
	}

	points := make([]PricePoint, 0, len(valid))
	for i, b := range valid {
		start := b.Start
		end := start
		if i+1 < len(valid) {
			next := valid[i+1].Start
			if next.After(start) {
				end = next.AddDate(0, 0, -1)
			}
		}

		if !lo.IsZero() && start.Before(lo) {
			start = lo
		}
		if !hi.IsZero() && end.After(hi) {
			end = hi
		}
		if end.Before(start) {
			continue
		}

		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			points = append(points, PricePoint{Date: d, Price: b.Price})
		}
	}
	return points
}
