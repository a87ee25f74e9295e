package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"quizmaster-service/internal/domain"
)

// HistoryCache keeps per-user history views in Redis under
// user_history:{userID}. Every write operation on attempts invalidates the
// key; reads are best-effort and fall back to storage on any error.
type HistoryCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewHistoryCache(client *redis.Client, ttl time.Duration) *HistoryCache {
	return &HistoryCache{client: client, ttl: ttl}
}

func (c *HistoryCache) GetHistory(ctx context.Context, userID int64) ([]domain.AttemptRecord, bool) {
	raw, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if err != nil {
		return nil, false
	}
	var records []domain.AttemptRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, false
	}
	return records, true
}

func (c *HistoryCache) SetHistory(ctx context.Context, userID int64, records []domain.AttemptRecord) {
	raw, err := json.Marshal(records)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.key(userID), raw, c.ttl).Err()
}

func (c *HistoryCache) InvalidateHistory(ctx context.Context, userID int64) {
	_ = c.client.Del(ctx, c.key(userID)).Err()
}

func (c *HistoryCache) key(userID int64) string {
	return fmt.Sprintf("user_history:%d", userID)
}
