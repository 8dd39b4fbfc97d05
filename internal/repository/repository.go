package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SergeiKhy/affiliate-tracker/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStorageUnavailable tags transient persistence failures; callers at the
// boundary may retry idempotent operations before surfacing it.
var ErrStorageUnavailable = errors.New("storage unavailable")

func wrapStorage(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
}

type PostgresDB struct {
	Pool *pgxpool.Pool
}

func NewPostgresDB(cfg config.DBConfig) (*PostgresDB, error) {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Name,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DB config: %w", err)
	}

	// Настройка пула соединений
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Проверка подключения
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{Pool: pool}, nil
}

// Migrate creates the schema if it does not exist yet. Short ids are unique
// across the whole table, soft-deleted rows included: a deactivated link keeps
// its row, so its id can never be reissued.
func (db *PostgresDB) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS affiliate_links (
			id BIGSERIAL PRIMARY KEY,
			short_id VARCHAR(16) UNIQUE NOT NULL,
			original_url TEXT NOT NULL,
			affiliate_url TEXT NOT NULL,
			title VARCHAR(200) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			category VARCHAR(100) NOT NULL DEFAULT '',
			owner_id BIGINT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS clicks (
			id BIGSERIAL PRIMARY KEY,
			link_id BIGINT NOT NULL REFERENCES affiliate_links (id),
			user_id BIGINT,
			ip_address TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			referrer TEXT NOT NULL DEFAULT '',
			is_unique BOOLEAN NOT NULL DEFAULT FALSE,
			clicked_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_clicks_link_day ON clicks (link_id, clicked_at)`,
		`CREATE TABLE IF NOT EXISTS link_performance (
			link_id BIGINT NOT NULL REFERENCES affiliate_links (id),
			day DATE NOT NULL,
			clicks BIGINT NOT NULL DEFAULT 0,
			unique_users BIGINT NOT NULL DEFAULT 0,
			conversions BIGINT NOT NULL DEFAULT 0,
			revenue NUMERIC(12,2) NOT NULL DEFAULT 0,
			PRIMARY KEY (link_id, day)
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}

	return nil
}

func (db *PostgresDB) Close() {
	db.Pool.Close()
}
