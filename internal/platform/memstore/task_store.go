// Package memstore provides an in-memory implementation of the store
// interfaces for tests and local development.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/dispatch/internal/domain"
	"github.com/phrazzld/dispatch/internal/store"
)

// TaskStore implements store.TaskStore entirely in memory. A single mutex
// guards the map, which makes every conditional update naturally atomic,
// matching the guarantee the PostgreSQL store gets from single-statement
// UPDATEs.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*domain.Task
}

// NewTaskStore creates an empty in-memory task store.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[uuid.UUID]*domain.Task),
	}
}

// CreateTask persists a new task.
func (s *TaskStore) CreateTask(ctx context.Context, t *domain.Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.ID]; exists {
		return fmt.Errorf("%w: task %s", store.ErrDuplicate, t.ID)
	}

	// Clone to prevent external mutation of stored state.
	s.tasks[t.ID] = cloneTask(t)
	return nil
}

// GetTask retrieves a task by ID.
func (s *TaskStore) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.tasks[id]
	if !exists {
		return nil, store.ErrTaskNotFound
	}
	return cloneTask(t), nil
}

// ListTasksByStatus retrieves all tasks with the given status, pending in
// dequeue order and other statuses most recent first.
func (s *TaskStore) ListTasksByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Task
	for _, t := range s.tasks {
		if t.Status == status {
			out = append(out, cloneTask(t))
		}
	}

	if status == domain.TaskStatusPending {
		sort.Slice(out, func(i, j int) bool {
			if out[i].Priority != out[j].Priority {
				return out[i].Priority > out[j].Priority
			}
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		})
	} else {
		sort.Slice(out, func(i, j int) bool {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		})
	}

	return out, nil
}

// ListScheduled retrieves tasks with a scheduled time awaiting promotion.
func (s *TaskStore) ListScheduled(ctx context.Context) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Task
	for _, t := range s.tasks {
		if t.ScheduledAt == nil {
			continue
		}
		if t.Status == domain.TaskStatusRetry || t.Status == domain.TaskStatusPending {
			out = append(out, cloneTask(t))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledAt.Before(*out[j].ScheduledAt)
	})

	return out, nil
}

// ClaimTask atomically moves a pending task to running.
func (s *TaskStore) ClaimTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.tasks[id]
	if !exists || t.Status != domain.TaskStatusPending {
		return nil, store.ErrTaskNotClaimable
	}

	now := time.Now().UTC()
	t.Status = domain.TaskStatusRunning
	t.StartedAt = &now

	return cloneTask(t), nil
}

// CompleteTask moves a running task to completed with its result.
func (s *TaskStore) CompleteTask(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.running(id, "complete")
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	t.Status = domain.TaskStatusCompleted
	t.CompletedAt = &now
	t.Result = append(json.RawMessage(nil), result...)
	return nil
}

// RescheduleTask moves a running task to retry, consuming one retry.
func (s *TaskStore) RescheduleTask(ctx context.Context, id uuid.UUID, errMsg string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.running(id, "reschedule")
	if err != nil {
		return err
	}

	scheduled := at.UTC()
	t.Status = domain.TaskStatusRetry
	t.Error = errMsg
	t.ScheduledAt = &scheduled
	t.RetryCount++
	return nil
}

// FailTask moves a running task to failed.
func (s *TaskStore) FailTask(ctx context.Context, id uuid.UUID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.running(id, "fail")
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	t.Status = domain.TaskStatusFailed
	t.Error = errMsg
	t.CompletedAt = &now
	return nil
}

// PromoteTask resets a delayed task back to pending.
func (s *TaskStore) PromoteTask(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.tasks[id]
	if !exists || t.ScheduledAt == nil {
		return false, nil
	}
	if t.Status != domain.TaskStatusRetry && t.Status != domain.TaskStatusPending {
		return false, nil
	}

	t.Status = domain.TaskStatusPending
	t.ScheduledAt = nil
	return true, nil
}

// ResetTask moves a running task back to pending for startup recovery.
func (s *TaskStore) ResetTask(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.tasks[id]
	if !exists || t.Status != domain.TaskStatusRunning {
		return false, nil
	}

	t.Status = domain.TaskStatusPending
	t.StartedAt = nil
	return true, nil
}

// CancelTask moves a pending task to cancelled.
func (s *TaskStore) CancelTask(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.tasks[id]
	if !exists || t.Status != domain.TaskStatusPending {
		return false, nil
	}

	t.Status = domain.TaskStatusCancelled
	return true, nil
}

// RetryTask resets a failed task that still has retries left back to
// pending.
func (s *TaskStore) RetryTask(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.tasks[id]
	if !exists || t.Status != domain.TaskStatusFailed || t.RetryCount >= t.MaxRetries {
		return false, nil
	}

	t.Status = domain.TaskStatusPending
	t.RetryCount++
	t.Error = ""
	t.Result = nil
	t.StartedAt = nil
	t.CompletedAt = nil
	return true, nil
}

// CountTasksByStatus returns the number of tasks in each status.
func (s *TaskStore) CountTasksByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[domain.TaskStatus]int)
	for _, t := range s.tasks {
		counts[t.Status]++
	}
	return counts, nil
}

// running returns the stored task if it is currently running. Must be
// called with the write lock held.
func (s *TaskStore) running(id uuid.UUID, op string) (*domain.Task, error) {
	t, exists := s.tasks[id]
	if !exists {
		return nil, fmt.Errorf("%w: task %s", store.ErrTaskNotFound, id)
	}
	if t.Status != domain.TaskStatusRunning {
		return nil, fmt.Errorf("%w: task %s not in expected state for %s", store.ErrUpdateFailed, id, op)
	}
	return t, nil
}

func cloneTask(t *domain.Task) *domain.Task {
	clone := *t

	if t.ScheduledAt != nil {
		at := *t.ScheduledAt
		clone.ScheduledAt = &at
	}
	if t.StartedAt != nil {
		at := *t.StartedAt
		clone.StartedAt = &at
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		clone.CompletedAt = &at
	}

	clone.Result = append(json.RawMessage(nil), t.Result...)
	clone.Tags = append([]string(nil), t.Tags...)

	if t.Metadata != nil {
		clone.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			clone.Metadata[k] = v
		}
	}

	clone.Payload.Args = append([]json.RawMessage(nil), t.Payload.Args...)
	if t.Payload.Kwargs != nil {
		clone.Payload.Kwargs = make(map[string]json.RawMessage, len(t.Payload.Kwargs))
		for k, v := range t.Payload.Kwargs {
			clone.Payload.Kwargs[k] = v
		}
	}

	return &clone
}
