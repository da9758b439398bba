package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"price-history-backfill/internal/pricing"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

// DefaultPageSize bounds rows fetched per query page.
const DefaultPageSize = 500

const (
	listItemsSQL = `SELECT
        p.id,
        COALESCE(p.url, ''),
        COALESCE(p.variant, ''),
        s.release_date
    FROM products p
    LEFT JOIN sets s ON s.id = p.set_id
    ORDER BY p.id
    LIMIT $1 OFFSET $2;`

	countItemsSQL = `SELECT COUNT(*) FROM products;`

	coveredDatesSQL = `SELECT recorded_at
    FROM product_price_history
    WHERE product_id = $1
      AND recorded_at >= $2
      AND recorded_at < $3
    ORDER BY recorded_at
    LIMIT $4 OFFSET $5;`

	insertPriceSQL = `INSERT INTO product_price_history (
        product_id,
        usd_price,
        recorded_at
    ) VALUES (
        $1,$2,$3
    );`

	listPriceHistorySQL = `SELECT
        id,
        product_id,
        usd_price::text,
        recorded_at
    FROM product_price_history
    WHERE product_id = $1
      AND recorded_at >= $2
      AND recorded_at < $3
    ORDER BY recorded_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Catalog lists the items to backfill.
type Catalog interface {
	ListItems(ctx context.Context) ([]pricing.Item, error)
	CountItems(ctx context.Context) (int64, error)
}

// CoverageProbe reports which calendar dates already hold a price.
type CoverageProbe interface {
	DatesCovered(ctx context.Context, itemID int64, start, end time.Time) (pricing.DateSet, error)
}

// PriceSink persists price history rows. InsertPrices is all-or-nothing.
type PriceSink interface {
	InsertPrices(ctx context.Context, entries []PriceEntry) error
}

// HistoryReader reads persisted price history.
type HistoryReader interface {
	ListPriceHistory(ctx context.Context, itemID int64, from, to time.Time) ([]PriceRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Backend is everything a backfill run needs from storage.
type Backend interface {
	Catalog
	CoverageProbe
	PriceSink
	HistoryReader
	Close()
}

// Store is the PostgreSQL backend.
type Store struct {
	pool     *pgxpool.Pool
	pageSize int
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool, pageSize int) *Store {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Store{pool: pool, pageSize: pageSize}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the session lock also ends with the connection
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// ListItems pages through the product catalog.
func (s *Store) ListItems(ctx context.Context) ([]pricing.Item, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	items := make([]pricing.Item, 0, s.pageSize)
	for offset := 0; ; offset += s.pageSize {
		rows, queryErr := pool.Query(ctx, listItemsSQL, s.pageSize, offset)
		if queryErr != nil {
			return nil, fmt.Errorf("list items: %w", queryErr)
		}

		page := 0
		for rows.Next() {
			var item pricing.Item
			var release *time.Time
			if scanErr := rows.Scan(&item.ID, &item.URL, &item.VariantTag, &release); scanErr != nil {
				rows.Close()
				return nil, fmt.Errorf("scan item: %w", scanErr)
			}
			if release != nil {
				day := pricing.Day(*release)
				item.ReleaseDate = &day
			}
			items = append(items, item)
			page++
		}
		rows.Close()
		if rows.Err() != nil {
			return nil, rows.Err()
		}
		if page < s.pageSize {
			return items, nil
		}
	}
}

// CountItems counts catalog entries.
func (s *Store) CountItems(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countItemsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count items: %w", scanErr)
	}
	return count, nil
}

// DatesCovered returns the distinct dates in [start, end] that already hold a price.
func (s *Store) DatesCovered(ctx context.Context, itemID int64, start, end time.Time) (pricing.DateSet, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	from := pricing.Day(start)
	until := pricing.Day(end).AddDate(0, 0, 1)
	covered := pricing.NewDateSet()

	for offset := 0; ; offset += s.pageSize {
		rows, queryErr := pool.Query(ctx, coveredDatesSQL, itemID, from, until, s.pageSize, offset)
		if queryErr != nil {
			return nil, fmt.Errorf("query covered dates: %w", queryErr)
		}

		page := 0
		for rows.Next() {
			var recordedAt time.Time
			if scanErr := rows.Scan(&recordedAt); scanErr != nil {
				rows.Close()
				return nil, fmt.Errorf("scan covered date: %w", scanErr)
			}
			covered.Add(recordedAt)
			page++
		}
		rows.Close()
		if rows.Err() != nil {
			return nil, rows.Err()
		}
		if page < s.pageSize {
			return covered, nil
		}
	}
}

// InsertPrices writes entries in a single transaction.
func (s *Store) InsertPrices(ctx context.Context, entries []PriceEntry) error {
	if len(entries) == 0 {
		return nil
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(insertPriceSQL, e.ItemID, e.Price.String(), e.RecordedAt)
	}

	br := tx.SendBatch(ctx, batch)
	for range entries {
		if _, execErr := br.Exec(); execErr != nil {
			_ = br.Close()
			return fmt.Errorf("insert price history: %w", execErr)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close insert batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

// ListPriceHistory lists rows for itemID recorded within [from, to).
func (s *Store) ListPriceHistory(ctx context.Context, itemID int64, from, to time.Time) ([]PriceRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPriceHistorySQL, itemID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list price history: %w", queryErr)
	}
	defer rows.Close()

	records := make([]PriceRecord, 0)
	for rows.Next() {
		var rec PriceRecord
		var priceStr string
		if err := rows.Scan(&rec.ID, &rec.ItemID, &priceStr, &rec.RecordedAt); err != nil {
			return nil, err
		}
		price, convErr := decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse price: %w", convErr)
		}
		rec.Price = price
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

var (
	_ Backend        = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
