package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-history-backfill/internal/storage"
)

func newTestStore(t *testing.T, pageSize int) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "prices.db"), pageSize)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func day(raw string) time.Time {
	d, _ := time.Parse("2006-01-02", raw)
	return d
}

func TestListItemsPagesAndJoinsRelease(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 2)

	release := day("2024-03-01")
	setID := int64(10)
	require.NoError(t, store.AddSet(ctx, setID, &release))
	require.NoError(t, store.AddProduct(ctx, 1, "https://example.com/product/501/a", "Holofoil", &setID))
	require.NoError(t, store.AddProduct(ctx, 2, "https://example.com/product/502/b", "", nil))
	require.NoError(t, store.AddProduct(ctx, 3, "https://example.com/product/503/c?Language=English", "Normal", &setID))

	items, err := store.ListItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, int64(1), items[0].ID)
	assert.Equal(t, "Holofoil", items[0].VariantTag)
	require.NotNil(t, items[0].ReleaseDate)
	assert.True(t, items[0].ReleaseDate.Equal(release))
	assert.Nil(t, items[1].ReleaseDate)

	count, err := store.CountItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestInsertAndCoverage(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 2)
	require.NoError(t, store.AddProduct(ctx, 1, "u", "", nil))

	entries := []storage.PriceEntry{
		{ItemID: 1, Price: decimal.RequireFromString("1.50"), RecordedAt: storage.StampDay(day("2025-01-01"))},
		{ItemID: 1, Price: decimal.RequireFromString("1.75"), RecordedAt: storage.StampDay(day("2025-01-02"))},
		{ItemID: 1, Price: decimal.RequireFromString("2.00"), RecordedAt: storage.StampDay(day("2025-01-05"))},
	}
	require.NoError(t, store.InsertPrices(ctx, entries))

	covered, err := store.DatesCovered(ctx, 1, day("2025-01-01"), day("2025-01-04"))
	require.NoError(t, err)
	assert.Len(t, covered, 2)
	assert.True(t, covered.Has(day("2025-01-01")))
	assert.True(t, covered.Has(day("2025-01-02")))
	assert.False(t, covered.Has(day("2025-01-05")))

	records, err := store.ListPriceHistory(ctx, 1, day("2025-01-01"), day("2025-01-06"))
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.True(t, records[0].Price.Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, 12, records[0].RecordedAt.Hour())
}

func TestInsertIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 0)
	require.NoError(t, store.AddProduct(ctx, 1, "u", "", nil))

	stamp := storage.StampDay(day("2025-02-01"))
	require.NoError(t, store.InsertPrices(ctx, []storage.PriceEntry{{ItemID: 1, Price: decimal.NewFromInt(3), RecordedAt: stamp}}))

	err := store.InsertPrices(ctx, []storage.PriceEntry{
		{ItemID: 1, Price: decimal.NewFromInt(4), RecordedAt: storage.StampDay(day("2025-02-02"))},
		{ItemID: 1, Price: decimal.NewFromInt(5), RecordedAt: stamp},
	})
	require.Error(t, err, "duplicate (product, recorded_at) must be rejected")

	records, err := store.ListPriceHistory(ctx, 1, day("2025-01-01"), day("2025-03-01"))
	require.NoError(t, err)
	assert.Len(t, records, 1, "the failed batch must not leave partial rows")
}
