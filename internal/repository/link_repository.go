package repository

import (
	"context"
	"errors"

	"github.com/SergeiKhy/affiliate-tracker/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrLinkNotFound  = errors.New("link not found")
	ErrLinkInactive  = errors.New("link is deactivated")
	ErrShortIDExists = errors.New("short id already exists")
)

type LinkRepository interface {
	Create(ctx context.Context, link *models.AffiliateLink) error
	GetByShortID(ctx context.Context, shortID string) (*models.AffiliateLink, error)
	SetActive(ctx context.Context, shortID string, active bool) error
	ListByOwner(ctx context.Context, ownerID int64) ([]models.LinkSummary, error)
	TopByOwner(ctx context.Context, ownerID int64, limit int) ([]models.LinkSummary, error)
}

type linkRepository struct {
	db *PostgresDB
}

func NewLinkRepository(db *PostgresDB) LinkRepository {
	return &linkRepository{db: db}
}

// Create inserts a new link. The unique index on short_id is the atomic
// insert-if-absent check; a collision surfaces as ErrShortIDExists so the
// service can retry with a fresh candidate.
func (r *linkRepository) Create(ctx context.Context, link *models.AffiliateLink) error {
	query := `
		INSERT INTO affiliate_links (short_id, original_url, affiliate_url, title, description, category, owner_id, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`

	err := r.db.Pool.QueryRow(
		ctx,
		query,
		link.ShortID,
		link.OriginalURL,
		link.AffiliateURL,
		link.Title,
		link.Description,
		link.Category,
		link.OwnerID,
		link.IsActive,
		link.CreatedAt,
	).Scan(&link.ID, &link.CreatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrShortIDExists
		}
		return wrapStorage("failed to create link", err)
	}

	return nil
}

// GetByShortID returns the link row regardless of the active flag; a
// soft-deleted link comes back with ErrLinkInactive so callers can tell it
// apart from a short id that never existed.
func (r *linkRepository) GetByShortID(ctx context.Context, shortID string) (*models.AffiliateLink, error) {
	query := `
		SELECT id, short_id, original_url, affiliate_url, title, description, category, owner_id, is_active, created_at
		FROM affiliate_links
		WHERE short_id = $1
	`

	link := &models.AffiliateLink{}
	err := r.db.Pool.QueryRow(ctx, query, shortID).Scan(
		&link.ID,
		&link.ShortID,
		&link.OriginalURL,
		&link.AffiliateURL,
		&link.Title,
		&link.Description,
		&link.Category,
		&link.OwnerID,
		&link.IsActive,
		&link.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, wrapStorage("failed to get link", err)
	}

	if !link.IsActive {
		return link, ErrLinkInactive
	}

	return link, nil
}

// SetActive flips the active flag with a compare-and-set on its current value,
// so a concurrent deactivate/reactivate pair cannot silently revert each
// other. Flipping to the state the row is already in is a no-op.
func (r *linkRepository) SetActive(ctx context.Context, shortID string, active bool) error {
	query := `UPDATE affiliate_links SET is_active = $2 WHERE short_id = $1 AND is_active = NOT $2`

	result, err := r.db.Pool.Exec(ctx, query, shortID, active)
	if err != nil {
		return wrapStorage("failed to update link state", err)
	}

	if result.RowsAffected() == 0 {
		// Either the row is missing or already in the requested state.
		var exists bool
		err := r.db.Pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM affiliate_links WHERE short_id = $1)`, shortID,
		).Scan(&exists)
		if err != nil {
			return wrapStorage("failed to check link existence", err)
		}
		if !exists {
			return ErrLinkNotFound
		}
	}

	return nil
}

func (r *linkRepository) ListByOwner(ctx context.Context, ownerID int64) ([]models.LinkSummary, error) {
	query := `
		SELECT
			al.short_id,
			al.title,
			al.category,
			(SELECT COUNT(*) FROM clicks WHERE link_id = al.id) AS clicks,
			al.created_at
		FROM affiliate_links al
		WHERE al.owner_id = $1 AND al.is_active = TRUE
		ORDER BY al.created_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, wrapStorage("failed to list links", err)
	}
	defer rows.Close()

	return scanSummaries(rows)
}

func (r *linkRepository) TopByOwner(ctx context.Context, ownerID int64, limit int) ([]models.LinkSummary, error) {
	query := `
		SELECT
			al.short_id,
			al.title,
			al.category,
			COUNT(c.id) AS clicks,
			al.created_at
		FROM affiliate_links al
		LEFT JOIN clicks c ON c.link_id = al.id
		WHERE al.owner_id = $1 AND al.is_active = TRUE
		GROUP BY al.id
		ORDER BY clicks DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, wrapStorage("failed to get top links", err)
	}
	defer rows.Close()

	return scanSummaries(rows)
}

func scanSummaries(rows pgx.Rows) ([]models.LinkSummary, error) {
	var summaries []models.LinkSummary
	for rows.Next() {
		var s models.LinkSummary
		if err := rows.Scan(&s.ShortID, &s.Title, &s.Category, &s.Clicks, &s.CreatedAt); err != nil {
			return nil, wrapStorage("failed to scan link summary", err)
		}
		summaries = append(summaries, s)
	}

	if err := rows.Err(); err != nil {
		return nil, wrapStorage("error iterating link summaries", err)
	}

	return summaries, nil
}

// isUniqueViolation reports whether err is a postgres unique constraint error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
