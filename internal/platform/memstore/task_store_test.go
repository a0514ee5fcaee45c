package memstore

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/dispatch/internal/domain"
	"github.com/phrazzld/dispatch/internal/store"
)

func newTask(t *testing.T, mutate func(*domain.Task)) *domain.Task {
	t.Helper()

	tk, err := domain.NewTask("test-task", domain.Payload{})
	require.NoError(t, err)
	if mutate != nil {
		mutate(tk)
	}
	return tk
}

func TestTaskStore_CreateAndGet(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	tk := newTask(t, nil)
	require.NoError(t, s.CreateTask(ctx, tk))

	got, err := s.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, tk.ID, got.ID)
	assert.Equal(t, tk.Name, got.Name)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
}

func TestTaskStore_CreateDuplicate(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	tk := newTask(t, nil)
	require.NoError(t, s.CreateTask(ctx, tk))

	err := s.CreateTask(ctx, tk)
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestTaskStore_CreateInvalidTask(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()

	tk := newTask(t, func(tk *domain.Task) { tk.Name = "" })
	err := s.CreateTask(context.Background(), tk)
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
}

func TestTaskStore_GetNotFound(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()

	_, err := s.GetTask(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	assert.True(t, store.IsNotFoundError(err))
}

func TestTaskStore_ClaimTask(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	tk := newTask(t, nil)
	require.NoError(t, s.CreateTask(ctx, tk))

	claimed, err := s.ClaimTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusRunning, claimed.Status)
	assert.NotNil(t, claimed.StartedAt)

	// A second claim fails the pending precondition.
	_, err = s.ClaimTask(ctx, tk.ID)
	assert.ErrorIs(t, err, store.ErrTaskNotClaimable)
}

func TestTaskStore_ClaimTaskConcurrent(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	tk := newTask(t, nil)
	require.NoError(t, s.CreateTask(ctx, tk))

	const claimers = 8
	wins := make(chan struct{}, claimers)

	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ClaimTask(ctx, tk.ID); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one claimer may win")
}

func TestTaskStore_CompleteTask(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	tk := newTask(t, nil)
	require.NoError(t, s.CreateTask(ctx, tk))
	_, err := s.ClaimTask(ctx, tk.ID)
	require.NoError(t, err)

	require.NoError(t, s.CompleteTask(ctx, tk.ID, json.RawMessage(`{"n":7}`)))

	got, err := s.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	assert.JSONEq(t, `{"n":7}`, string(got.Result))
	assert.NotNil(t, got.CompletedAt)
}

func TestTaskStore_CompleteTaskNotRunning(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	tk := newTask(t, nil)
	require.NoError(t, s.CreateTask(ctx, tk))

	err := s.CompleteTask(ctx, tk.ID, nil)
	assert.ErrorIs(t, err, store.ErrUpdateFailed)
}

func TestTaskStore_RescheduleTaskConsumesRetry(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	tk := newTask(t, nil)
	require.NoError(t, s.CreateTask(ctx, tk))
	_, err := s.ClaimTask(ctx, tk.ID)
	require.NoError(t, err)

	at := time.Now().UTC().Add(time.Minute)
	require.NoError(t, s.RescheduleTask(ctx, tk.ID, "boom", at))

	got, err := s.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusRetry, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, "boom", got.Error)
	require.NotNil(t, got.ScheduledAt)
	assert.WithinDuration(t, at, *got.ScheduledAt, time.Second)
}

func TestTaskStore_FailTask(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	tk := newTask(t, nil)
	require.NoError(t, s.CreateTask(ctx, tk))
	_, err := s.ClaimTask(ctx, tk.ID)
	require.NoError(t, err)

	require.NoError(t, s.FailTask(ctx, tk.ID, "boom"))

	got, err := s.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)
	assert.NotNil(t, got.CompletedAt)
}

func TestTaskStore_PromoteTask(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	at := time.Now().UTC().Add(-time.Minute)
	tk := newTask(t, func(tk *domain.Task) { tk.ScheduledAt = &at })
	require.NoError(t, s.CreateTask(ctx, tk))

	promoted, err := s.PromoteTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.True(t, promoted)

	got, err := s.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
	assert.Nil(t, got.ScheduledAt)

	// Promotion is idempotent: the scheduled time is gone.
	promoted, err = s.PromoteTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.False(t, promoted)
}

func TestTaskStore_PromoteCancelledTask(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	at := time.Now().UTC().Add(-time.Minute)
	tk := newTask(t, func(tk *domain.Task) { tk.ScheduledAt = &at })
	require.NoError(t, s.CreateTask(ctx, tk))

	cancelled, err := s.CancelTask(ctx, tk.ID)
	require.NoError(t, err)
	require.True(t, cancelled)

	promoted, err := s.PromoteTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.False(t, promoted)
}

func TestTaskStore_ResetTask(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	tk := newTask(t, nil)
	require.NoError(t, s.CreateTask(ctx, tk))
	_, err := s.ClaimTask(ctx, tk.ID)
	require.NoError(t, err)

	reset, err := s.ResetTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.True(t, reset)

	got, err := s.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
	assert.Nil(t, got.StartedAt)
	assert.Zero(t, got.RetryCount)

	// Only running tasks can be reset.
	reset, err = s.ResetTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.False(t, reset)
}

func TestTaskStore_CancelTask(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	tk := newTask(t, nil)
	require.NoError(t, s.CreateTask(ctx, tk))

	cancelled, err := s.CancelTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	// Terminal; a second cancel reports false without error.
	cancelled, err = s.CancelTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)

	// Unknown IDs are a no-op too.
	cancelled, err = s.CancelTask(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestTaskStore_CancelRunningTask(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	tk := newTask(t, nil)
	require.NoError(t, s.CreateTask(ctx, tk))
	_, err := s.ClaimTask(ctx, tk.ID)
	require.NoError(t, err)

	cancelled, err := s.CancelTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestTaskStore_RetryTask(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	tk := newTask(t, func(tk *domain.Task) { tk.MaxRetries = 2 })
	require.NoError(t, s.CreateTask(ctx, tk))
	_, err := s.ClaimTask(ctx, tk.ID)
	require.NoError(t, err)
	require.NoError(t, s.FailTask(ctx, tk.ID, "boom"))

	reset, err := s.RetryTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.True(t, reset)

	got, err := s.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Empty(t, got.Error)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
}

func TestTaskStore_RetryTaskBudgetExhausted(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	tk := newTask(t, func(tk *domain.Task) {
		tk.MaxRetries = 1
		tk.RetryCount = 1
	})
	require.NoError(t, s.CreateTask(ctx, tk))
	_, err := s.ClaimTask(ctx, tk.ID)
	require.NoError(t, err)
	require.NoError(t, s.FailTask(ctx, tk.ID, "boom"))

	reset, err := s.RetryTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.False(t, reset, "retry_count at max_retries blocks manual retry")
}

func TestTaskStore_RetryTaskNotFailed(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	tk := newTask(t, nil)
	require.NoError(t, s.CreateTask(ctx, tk))

	reset, err := s.RetryTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.False(t, reset)
}

func TestTaskStore_ListTasksByStatus(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	base := time.Now().UTC()

	low := newTask(t, func(tk *domain.Task) {
		tk.Priority = domain.TaskPriorityLow
		tk.CreatedAt = base
	})
	urgent := newTask(t, func(tk *domain.Task) {
		tk.Priority = domain.TaskPriorityUrgent
		tk.CreatedAt = base.Add(time.Second)
	})
	normalOld := newTask(t, func(tk *domain.Task) {
		tk.CreatedAt = base.Add(-time.Second)
	})

	for _, tk := range []*domain.Task{low, urgent, normalOld} {
		require.NoError(t, s.CreateTask(ctx, tk))
	}

	pending, err := s.ListTasksByStatus(ctx, domain.TaskStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, urgent.ID, pending[0].ID)
	assert.Equal(t, normalOld.ID, pending[1].ID)
	assert.Equal(t, low.ID, pending[2].ID)

	empty, err := s.ListTasksByStatus(ctx, domain.TaskStatusFailed)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestTaskStore_ListScheduled(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	later := time.Now().UTC().Add(2 * time.Hour)
	sooner := time.Now().UTC().Add(time.Hour)

	delayedLater := newTask(t, func(tk *domain.Task) { tk.ScheduledAt = &later })
	delayedSooner := newTask(t, func(tk *domain.Task) { tk.ScheduledAt = &sooner })
	immediate := newTask(t, nil)

	for _, tk := range []*domain.Task{delayedLater, delayedSooner, immediate} {
		require.NoError(t, s.CreateTask(ctx, tk))
	}

	scheduled, err := s.ListScheduled(ctx)
	require.NoError(t, err)
	require.Len(t, scheduled, 2)
	assert.Equal(t, delayedSooner.ID, scheduled[0].ID, "soonest first")
	assert.Equal(t, delayedLater.ID, scheduled[1].ID)
}

func TestTaskStore_CountTasksByStatus(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateTask(ctx, newTask(t, nil)))
	}

	done := newTask(t, nil)
	require.NoError(t, s.CreateTask(ctx, done))
	_, err := s.ClaimTask(ctx, done.ID)
	require.NoError(t, err)
	require.NoError(t, s.CompleteTask(ctx, done.ID, nil))

	counts, err := s.CountTasksByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[domain.TaskStatusPending])
	assert.Equal(t, 1, counts[domain.TaskStatusCompleted])
}

func TestTaskStore_ClonesOnReturn(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	tk := newTask(t, func(tk *domain.Task) {
		tk.Tags = []string{"a"}
		tk.Metadata = map[string]string{"k": "v"}
	})
	require.NoError(t, s.CreateTask(ctx, tk))

	got, err := s.GetTask(ctx, tk.ID)
	require.NoError(t, err)

	// Mutating a returned task must not leak into stored state.
	got.Status = domain.TaskStatusFailed
	got.Tags[0] = "mutated"
	got.Metadata["k"] = "mutated"

	fresh, err := s.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, fresh.Status)
	assert.Equal(t, []string{"a"}, fresh.Tags)
	assert.Equal(t, map[string]string{"k": "v"}, fresh.Metadata)
}
