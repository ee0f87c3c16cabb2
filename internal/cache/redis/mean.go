// Package redis caches marketplace means in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/stocklot-review/internal/domain"
	apperrors "github.com/utafrali/stocklot-review/pkg/errors"
)

const keyPrefix = "review:marketplace_mean:"

// MeanCache stores one marketplace mean per direction.
type MeanCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewMeanCache creates a Redis-backed mean cache.
func NewMeanCache(client redis.Cmdable, ttl time.Duration) *MeanCache {
	return &MeanCache{client: client, ttl: ttl}
}

// Get returns the cached mean or ErrNotFound on a miss.
func (c *MeanCache) Get(ctx context.Context, direction domain.Direction) (*domain.MarketplaceMean, error) {
	data, err := c.client.Get(ctx, keyPrefix+string(direction)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NotFound("marketplace_mean", string(direction))
		}
		return nil, fmt.Errorf("redis get marketplace mean: %w", err)
	}

	var m domain.MarketplaceMean
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal marketplace mean: %w", err)
	}
	return &m, nil
}

// Set caches m with the configured TTL.
func (c *MeanCache) Set(ctx context.Context, m *domain.MarketplaceMean) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal marketplace mean: %w", err)
	}
	if err := c.client.Set(ctx, keyPrefix+string(m.Direction), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set marketplace mean: %w", err)
	}
	return nil
}
