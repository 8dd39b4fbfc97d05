package repository

import (
	"context"
	"errors"

	"github.com/SergeiKhy/affiliate-tracker/internal/models"
	"github.com/jackc/pgx/v5"
)

type ClickRepository interface {
	RecordClick(ctx context.Context, click *models.Click) error
	GetStats(ctx context.Context, shortID string) (*models.ClickStats, error)
	CountByDay(ctx context.Context, linkID int64, day string) (clicks int64, uniques int64, err error)
}

type clickRepository struct {
	db *PostgresDB
}

func NewClickRepository(db *PostgresDB) ClickRepository {
	return &clickRepository{db: db}
}

// RecordClick appends one raw click event. Rows are never updated or deleted
// afterwards; the log is the recovery source of truth for the aggregates.
func (r *clickRepository) RecordClick(ctx context.Context, click *models.Click) error {
	query := `
		INSERT INTO clicks (link_id, user_id, ip_address, user_agent, referrer, is_unique, clicked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	err := r.db.Pool.QueryRow(ctx, query,
		click.LinkID,
		click.UserID,
		click.IPAddress,
		click.UserAgent,
		click.Referrer,
		click.IsUnique,
		click.ClickedAt,
	).Scan(&click.ID)

	if err != nil {
		return wrapStorage("failed to record click", err)
	}

	return nil
}

// GetStats folds lifetime totals for a link from the daily aggregate rows.
func (r *clickRepository) GetStats(ctx context.Context, shortID string) (*models.ClickStats, error) {
	query := `
		SELECT
			COALESCE(SUM(lp.clicks), 0),
			COALESCE(SUM(lp.unique_users), 0),
			COALESCE(SUM(lp.conversions), 0),
			COALESCE(SUM(lp.revenue), 0)::float8,
			COUNT(lp.day)
		FROM affiliate_links al
		LEFT JOIN link_performance lp ON lp.link_id = al.id
		WHERE al.short_id = $1
		GROUP BY al.id
	`

	stats := &models.ClickStats{
		ShortID: shortID,
	}

	err := r.db.Pool.QueryRow(ctx, query, shortID).Scan(
		&stats.TotalClicks,
		&stats.UniqueUsers,
		&stats.Conversions,
		&stats.Revenue,
		&stats.ActiveDays,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, wrapStorage("failed to get click stats", err)
	}

	return stats, nil
}

// CountByDay recounts the raw log for one (link, day) pair. Used to verify
// rebuild equivalence against the incrementally maintained aggregate.
// The day boundary is UTC, matching the ingest path and RebuildLink.
func (r *clickRepository) CountByDay(ctx context.Context, linkID int64, day string) (int64, int64, error) {
	query := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE is_unique)
		FROM clicks
		WHERE link_id = $1 AND (clicked_at AT TIME ZONE 'UTC')::date = $2::date
	`

	var clicks, uniques int64
	if err := r.db.Pool.QueryRow(ctx, query, linkID, day).Scan(&clicks, &uniques); err != nil {
		return 0, 0, wrapStorage("failed to count clicks", err)
	}

	return clicks, uniques, nil
}
