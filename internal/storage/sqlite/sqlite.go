// Package sqlite is a single-file storage backend used for local runs and
// dry runs. It mirrors the PostgreSQL schema closely enough for the backfill
// pipeline to run unchanged.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"price-history-backfill/internal/pricing"
	"price-history-backfill/internal/storage"
)

const timestampLayout = "2006-01-02 15:04:05"

const schema = `
CREATE TABLE IF NOT EXISTS sets (
	id INTEGER PRIMARY KEY,
	release_date TEXT
);

CREATE TABLE IF NOT EXISTS products (
	id INTEGER PRIMARY KEY,
	url TEXT NOT NULL DEFAULT '',
	variant TEXT,
	set_id INTEGER REFERENCES sets(id)
);

CREATE TABLE IF NOT EXISTS product_price_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	product_id INTEGER NOT NULL REFERENCES products(id),
	usd_price TEXT NOT NULL,
	recorded_at TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_price_history_product_recorded
	ON product_price_history(product_id, recorded_at);
`

// Store implements the storage interfaces on SQLite.
type Store struct {
	db       *sql.DB
	pageSize int
}

// New opens (and migrates) the database at path.
func New(path string, pageSize int) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite database: %w", err)
	}

	if pageSize <= 0 {
		pageSize = storage.DefaultPageSize
	}
	return &Store{db: db, pageSize: pageSize}, nil
}

// Close closes the database.
func (s *Store) Close() {
	_ = s.db.Close()
}

// AddSet inserts or replaces a set row.
func (s *Store) AddSet(ctx context.Context, id int64, releaseDate *time.Time) error {
	var release any
	if releaseDate != nil {
		release = releaseDate.UTC().Format(pricing.DateLayout)
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO sets (id, release_date) VALUES (?, ?)`, id, release)
	if err != nil {
		return fmt.Errorf("add set: %w", err)
	}
	return nil
}

// AddProduct inserts or replaces a product row.
func (s *Store) AddProduct(ctx context.Context, id int64, url, variant string, setID *int64) error {
	var set any
	if setID != nil {
		set = *setID
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO products (id, url, variant, set_id) VALUES (?, ?, ?, ?)`, id, url, variant, set)
	if err != nil {
		return fmt.Errorf("add product: %w", err)
	}
	return nil
}

// ListItems pages through the catalog.
func (s *Store) ListItems(ctx context.Context) ([]pricing.Item, error) {
	items := make([]pricing.Item, 0, s.pageSize)
	for offset := 0; ; offset += s.pageSize {
		rows, err := s.db.QueryContext(ctx, `SELECT p.id, p.url, COALESCE(p.variant, ''), s.release_date
			FROM products p LEFT JOIN sets s ON s.id = p.set_id
			ORDER BY p.id LIMIT ? OFFSET ?`, s.pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("list items: %w", err)
		}

		page := 0
		for rows.Next() {
			var item pricing.Item
			var release sql.NullString
			if err := rows.Scan(&item.ID, &item.URL, &item.VariantTag, &release); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan item: %w", err)
			}
			if release.Valid {
				if day, err := pricing.ParseDay(release.String); err == nil {
					item.ReleaseDate = &day
				}
			}
			items = append(items, item)
			page++
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		if page < s.pageSize {
			return items, nil
		}
	}
}

// CountItems counts catalog entries.
func (s *Store) CountItems(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return count, nil
}

// DatesCovered returns the dates in [start, end] already holding a price.
func (s *Store) DatesCovered(ctx context.Context, itemID int64, start, end time.Time) (pricing.DateSet, error) {
	from := pricing.Day(start).Format(timestampLayout)
	until := pricing.Day(end).AddDate(0, 0, 1).Format(timestampLayout)
	covered := pricing.NewDateSet()

	for offset := 0; ; offset += s.pageSize {
		rows, err := s.db.QueryContext(ctx, `SELECT recorded_at FROM product_price_history
			WHERE product_id = ? AND recorded_at >= ? AND recorded_at < ?
			ORDER BY recorded_at LIMIT ? OFFSET ?`, itemID, from, until, s.pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("query covered dates: %w", err)
		}

		page := 0
		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan covered date: %w", err)
			}
			if day, err := pricing.ParseDay(raw); err == nil {
				covered.Add(day)
			}
			page++
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		if page < s.pageSize {
			return covered, nil
		}
	}
}

// InsertPrices writes entries in one transaction.
func (s *Store) InsertPrices(ctx context.Context, entries []storage.PriceEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO product_price_history (product_id, usd_price, recorded_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.ItemID, e.Price.String(), e.RecordedAt.UTC().Format(timestampLayout)); err != nil {
			return fmt.Errorf("insert price history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

// ListPriceHistory lists rows for itemID recorded within [from, to).
func (s *Store) ListPriceHistory(ctx context.Context, itemID int64, from, to time.Time) ([]storage.PriceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, product_id, usd_price, recorded_at FROM product_price_history
		WHERE product_id = ? AND recorded_at >= ? AND recorded_at < ?
		ORDER BY recorded_at`, itemID, from.UTC().Format(timestampLayout), to.UTC().Format(timestampLayout))
	if err != nil {
		return nil, fmt.Errorf("list price history: %w", err)
	}
	defer rows.Close()

	records := make([]storage.PriceRecord, 0)
	for rows.Next() {
		var rec storage.PriceRecord
		var priceStr, recordedStr string
		if err := rows.Scan(&rec.ID, &rec.ItemID, &priceStr, &recordedStr); err != nil {
			return nil, err
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		recordedAt, err := time.ParseInLocation(timestampLayout, recordedStr, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse recorded_at: %w", err)
		}
		rec.Price = price
		rec.RecordedAt = recordedAt
		records = append(records, rec)
	}
	return records, rows.Err()
}

var _ storage.Backend = (*Store)(nil)
