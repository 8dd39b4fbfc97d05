package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/SergeiKhy/affiliate-tracker/internal/models"
)

type CacheRepository interface {
	GetLink(ctx context.Context, shortID string) (*models.AffiliateLink, error)
	SetLink(ctx context.Context, shortID string, link *models.AffiliateLink, ttl time.Duration) error
	DeleteLink(ctx context.Context, shortID string) error
	MarkSeen(ctx context.Context, linkID int64, identity string, window time.Duration) (bool, error)
}

type cacheRepository struct {
	redis *RedisDB
}

func NewCacheRepository(redis *RedisDB) CacheRepository {
	return &cacheRepository{redis: redis}
}

func (r *cacheRepository) GetLink(ctx context.Context, shortID string) (*models.AffiliateLink, error) {
	data, err := r.redis.Client.Get(ctx, r.linkKey(shortID)).Bytes()
	if err != nil {
		return nil, err
	}

	var link models.AffiliateLink
	if err := json.Unmarshal(data, &link); err != nil {
		return nil, fmt.Errorf("failed to unmarshal link: %w", err)
	}

	return &link, nil
}

func (r *cacheRepository) SetLink(ctx context.Context, shortID string, link *models.AffiliateLink, ttl time.Duration) error {
	data, err := json.Marshal(link)
	if err != nil {
		return fmt.Errorf("failed to marshal link: %w", err)
	}

	return r.redis.Client.Set(ctx, r.linkKey(shortID), data, ttl).Err()
}

func (r *cacheRepository) DeleteLink(ctx context.Context, shortID string) error {
	return r.redis.Client.Del(ctx, r.linkKey(shortID)).Err()
}

// MarkSeen is the rolling dedup-window membership test. SETNX with the window
// as TTL: the first click from an identity within the window wins the flag,
// repeats see the existing key, and after expiry the same identity counts as
// a fresh unique visit again.
func (r *cacheRepository) MarkSeen(ctx context.Context, linkID int64, identity string, window time.Duration) (bool, error) {
	key := fmt.Sprintf("dedup:%d:%s", linkID, identity)
	return r.redis.Client.SetNX(ctx, key, 1, window).Result()
}

func (r *cacheRepository) linkKey(shortID string) string {
	return "link:" + shortID
}
