package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/SergeiKhy/affiliate-tracker/internal/models"
	"github.com/redis/go-redis/v9"
)

var ErrAnalysisNotCached = errors.New("analysis not cached")

type AnalysisRepository interface {
	Get(ctx context.Context, key string) (*models.AnalysisEntry, error)
	Set(ctx context.Context, entry *models.AnalysisEntry) error
}

type analysisRepository struct {
	redis *RedisDB
}

func NewAnalysisRepository(redis *RedisDB) AnalysisRepository {
	return &analysisRepository{redis: redis}
}

// Get returns the cached entry for a normalized query key. Redis expiry is
// the primary eviction; the ExpiresAt check on top keeps an entry that
// outlived its stamp (e.g. after a TTL reconfiguration) from being served.
func (r *analysisRepository) Get(ctx context.Context, key string) (*models.AnalysisEntry, error) {
	data, err := r.redis.Client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrAnalysisNotCached
		}
		return nil, wrapStorage("failed to get analysis entry", err)
	}

	var entry models.AnalysisEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal analysis entry: %w", err)
	}

	if time.Now().After(entry.ExpiresAt) {
		return nil, ErrAnalysisNotCached
	}

	return &entry, nil
}

// Set stores the entry with a TTL matching its expiry stamp. The single SET
// makes the entry materialize atomically: readers see either nothing or the
// complete payload.
func (r *analysisRepository) Set(ctx context.Context, entry *models.AnalysisEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis entry: %w", err)
	}

	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	if err := r.redis.Client.Set(ctx, r.key(entry.Query), data, ttl).Err(); err != nil {
		return wrapStorage("failed to set analysis entry", err)
	}

	return nil
}

func (r *analysisRepository) key(query string) string {
	return "analysis:" + query
}
