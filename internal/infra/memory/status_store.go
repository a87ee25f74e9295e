package memory

import (
	"context"
	"sync"

	"quizmaster-service/internal/tasks"
)

// StatusStore is an in-memory implementation of tasks.StatusStore.
type StatusStore struct {
	mu       sync.RWMutex
	statuses map[string]tasks.Status
}

func NewStatusStore() *StatusStore {
	return &StatusStore{statuses: make(map[string]tasks.Status)}
}

func (s *StatusStore) SetStatus(_ context.Context, status tasks.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[status.TaskID] = status
	return nil
}

func (s *StatusStore) GetStatus(_ context.Context, taskID string) (tasks.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.statuses[taskID]
	if !ok {
		return tasks.Status{}, tasks.ErrTaskNotFound
	}
	return status, nil
}
