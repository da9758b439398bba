package backfill

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-history-backfill/internal/pricing"
)

func TestNewWindowEndsYesterday(t *testing.T) {
	now := time.Date(2025, 3, 10, 23, 59, 0, 0, time.FixedZone("UTC-5", -5*3600))
	w := NewWindow(30, now)

	// 23:59 at UTC-5 is already the 11th in UTC
	assert.Equal(t, "2025-03-10", w.End.Format(pricing.DateLayout))
	assert.Equal(t, "2025-02-08", w.Start.Format(pricing.DateLayout))
	assert.Equal(t, 31, w.Days())
	require.NoError(t, w.Validate())
}

func TestWindowValidate(t *testing.T) {
	assert.Error(t, Window{}.Validate())
	assert.Error(t, Window{Start: d("2025-01-02"), End: d("2025-01-01")}.Validate())
	assert.NoError(t, Window{Start: d("2025-01-01"), End: d("2025-01-01")}.Validate())
}

func TestShardSelect(t *testing.T) {
	items := make([]pricing.Item, 5)
	for i := range items {
		items[i].ID = int64(i + 1)
	}
	ids := func(in []pricing.Item) []int64 {
		out := make([]int64, 0, len(in))
		for _, it := range in {
			out = append(out, it.ID)
		}
		return out
	}

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, ids(ShardAll.Select(items)))
	assert.Equal(t, []int64{1, 2}, ids(ShardFirstHalf.Select(items)))
	assert.Equal(t, []int64{5, 4, 3}, ids(ShardSecondHalf.Select(items)))
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, ids(items), "input must not be reordered")
}

func TestParseShard(t *testing.T) {
	for raw, want := range map[string]Shard{
		"":            ShardAll,
		"ALL":         ShardAll,
		"forward":     ShardFirstHalf,
		"first-half":  ShardFirstHalf,
		"reverse":     ShardSecondHalf,
		"second-half": ShardSecondHalf,
	} {
		got, err := ParseShard(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	_, err := ParseShard("middle")
	assert.Error(t, err)
	assert.NotEqual(t, ShardFirstHalf.Offset(), ShardSecondHalf.Offset())
}
