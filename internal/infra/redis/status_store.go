package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"quizmaster-service/internal/tasks"
)

// StatusStore persists task statuses in Redis under task:status:{id}. The
// TTL bounds how long finished tasks stay pollable.
type StatusStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStatusStore(client *redis.Client, ttl time.Duration) *StatusStore {
	return &StatusStore{client: client, ttl: ttl}
}

func (s *StatusStore) SetStatus(ctx context.Context, status tasks.Status) error {
	raw, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal task status: %w", err)
	}
	if err := s.client.Set(ctx, s.key(status.TaskID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("store task status: %w", err)
	}
	return nil
}

func (s *StatusStore) GetStatus(ctx context.Context, taskID string) (tasks.Status, error) {
	raw, err := s.client.Get(ctx, s.key(taskID)).Bytes()
	if err == redis.Nil {
		return tasks.Status{}, tasks.ErrTaskNotFound
	}
	if err != nil {
		return tasks.Status{}, fmt.Errorf("load task status: %w", err)
	}
	var status tasks.Status
	if err := json.Unmarshal(raw, &status); err != nil {
		return tasks.Status{}, fmt.Errorf("unmarshal task status: %w", err)
	}
	return status, nil
}

func (s *StatusStore) key(taskID string) string {
	return "task:status:" + taskID
}
