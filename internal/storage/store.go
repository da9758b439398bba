package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"price-history-backfill/internal/config"
)

// historySchemaSQL 只保证价格历史表及唯一索引存在；products / sets 由目录服务维护。
const historySchemaSQL = `CREATE TABLE IF NOT EXISTS product_price_history (
        id BIGSERIAL PRIMARY KEY,
        product_id BIGINT NOT NULL,
        usd_price NUMERIC(12,2) NOT NULL,
        recorded_at TIMESTAMPTZ NOT NULL
    );
    CREATE UNIQUE INDEX IF NOT EXISTS idx_price_history_product_recorded
        ON product_price_history (product_id, recorded_at);`

// NewPool opens the backfill pool, tags its sessions with application_name
// and makes sure the price history table can take inserts.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	// 回填是顺序执行的，连接数不需要太多
	poolConfig.MaxConns = 4
	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if _, ok := poolConfig.ConnConfig.RuntimeParams["application_name"]; !ok {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = "pricebackfill"
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create backfill pool: %w", err)
	}

	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// EnsureSchema creates the price history table and its (product_id, recorded_at)
// unique index when missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return ErrNotConfigured
	}
	if _, err := pool.Exec(ctx, historySchemaSQL); err != nil {
		return fmt.Errorf("ensure price history schema: %w", err)
	}
	return nil
}
