package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// RecordedAtHour is the hour of day at which backfilled prices are stamped.
const RecordedAtHour = 12

// PriceEntry is one row destined for the price history table.
type PriceEntry struct {
	ItemID     int64
	Price      decimal.Decimal
	RecordedAt time.Time
}

// PriceRecord is a persisted price history row.
type PriceRecord struct {
	ID         int64
	ItemID     int64
	Price      decimal.Decimal
	RecordedAt time.Time
}

// StampDay converts a calendar date into the recorded_at timestamp (noon UTC).
func StampDay(day time.Time) time.Time {
	y, m, d := day.UTC().Date()
	return time.Date(y, m, d, RecordedAtHour, 0, 0, 0, time.UTC)
}
