package repository

import (
	"context"
	"errors"

	"github.com/SergeiKhy/affiliate-tracker/internal/models"
)

var ErrMetricNotFound = errors.New("no metric row for link and day")

type MetricRepository interface {
	ApplyClick(ctx context.Context, linkID int64, day string, unique bool) error
	ApplyConversion(ctx context.Context, linkID int64, day string, revenueDelta float64) error
	GetRange(ctx context.Context, linkID int64, fromDay, toDay string) ([]models.DailyMetric, error)
	RebuildLink(ctx context.Context, linkID int64) error
}

type metricRepository struct {
	db *PostgresDB
}

func NewMetricRepository(db *PostgresDB) MetricRepository {
	return &metricRepository{db: db}
}

// ApplyClick bumps the counters for one click. The upsert is a single atomic
// increment-or-create, so concurrent ingests for the same (link, day) key
// cannot lose an update regardless of interleaving.
func (r *metricRepository) ApplyClick(ctx context.Context, linkID int64, day string, unique bool) error {
	query := `
		INSERT INTO link_performance (link_id, day, clicks, unique_users)
		VALUES ($1, $2::date, 1, $3)
		ON CONFLICT (link_id, day)
		DO UPDATE SET
			clicks = link_performance.clicks + 1,
			unique_users = link_performance.unique_users + $3
	`

	uniqueInc := 0
	if unique {
		uniqueInc = 1
	}

	if _, err := r.db.Pool.Exec(ctx, query, linkID, day, uniqueInc); err != nil {
		return wrapStorage("failed to apply click", err)
	}

	return nil
}

// ApplyConversion increments conversions and revenue on an existing row.
// A conversion cannot precede any click, so a missing row is an error rather
// than a lazy create.
func (r *metricRepository) ApplyConversion(ctx context.Context, linkID int64, day string, revenueDelta float64) error {
	query := `
		UPDATE link_performance
		SET conversions = conversions + 1,
		    revenue = revenue + $3
		WHERE link_id = $1 AND day = $2::date
	`

	result, err := r.db.Pool.Exec(ctx, query, linkID, day, revenueDelta)
	if err != nil {
		return wrapStorage("failed to apply conversion", err)
	}

	if result.RowsAffected() == 0 {
		return ErrMetricNotFound
	}

	return nil
}

// GetRange returns existing rows in [fromDay, toDay] ascending. Days with no
// row are absent here; the service layer synthesizes the zero-valued rows.
func (r *metricRepository) GetRange(ctx context.Context, linkID int64, fromDay, toDay string) ([]models.DailyMetric, error) {
	query := `
		SELECT link_id, to_char(day, 'YYYY-MM-DD'), clicks, unique_users, conversions, revenue::float8
		FROM link_performance
		WHERE link_id = $1 AND day BETWEEN $2::date AND $3::date
		ORDER BY day ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, linkID, fromDay, toDay)
	if err != nil {
		return nil, wrapStorage("failed to get metric range", err)
	}
	defer rows.Close()

	var metrics []models.DailyMetric
	for rows.Next() {
		var m models.DailyMetric
		if err := rows.Scan(&m.LinkID, &m.Day, &m.Clicks, &m.UniqueUsers, &m.Conversions, &m.Revenue); err != nil {
			return nil, wrapStorage("failed to scan metric", err)
		}
		metrics = append(metrics, m)
	}

	if err := rows.Err(); err != nil {
		return nil, wrapStorage("error iterating metrics", err)
	}

	return metrics, nil
}

// RebuildLink recomputes click and unique counters for a link from the raw
// click log in one statement. Conversions and revenue are not touched: they
// have no raw log and the aggregate row is their system of record.
// Days are bucketed in UTC, same as the incremental ingest path: a date cast
// in the session timezone could land the same click in a different row.
func (r *metricRepository) RebuildLink(ctx context.Context, linkID int64) error {
	query := `
		INSERT INTO link_performance (link_id, day, clicks, unique_users)
		SELECT link_id, (clicked_at AT TIME ZONE 'UTC')::date, COUNT(*), COUNT(*) FILTER (WHERE is_unique)
		FROM clicks
		WHERE link_id = $1
		GROUP BY link_id, (clicked_at AT TIME ZONE 'UTC')::date
		ON CONFLICT (link_id, day)
		DO UPDATE SET
			clicks = EXCLUDED.clicks,
			unique_users = EXCLUDED.unique_users
	`

	if _, err := r.db.Pool.Exec(ctx, query, linkID); err != nil {
		return wrapStorage("failed to rebuild metrics", err)
	}

	return nil
}
