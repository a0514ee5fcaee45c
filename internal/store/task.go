package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/dispatch/internal/domain"
)

// ErrTaskNotClaimable is returned by ClaimTask when the task is no longer
// pending (cancelled, already claimed by another worker, or missing). The
// worker treats it as a signal to discard the queue entry, not a failure.
var ErrTaskNotClaimable = errors.New("task is not claimable")

// TaskStore defines the interface for persisting tasks. Every mutation that
// depends on the task's current status is expressed as a single conditional
// update so that concurrent workers, the scheduler, and external callers can
// never race a check against a separate write.
type TaskStore interface {
	// CreateTask persists a new task. Returns ErrDuplicate if a task with
	// the same ID already exists.
	CreateTask(ctx context.Context, task *domain.Task) error

	// GetTask retrieves a task by ID. Returns ErrTaskNotFound if it does
	// not exist.
	GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// ListTasksByStatus retrieves all tasks with the given status. Pending
	// tasks are ordered by priority descending then creation time ascending;
	// all other statuses by creation time descending.
	ListTasksByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error)

	// ListScheduled retrieves tasks that carry a scheduled time and are
	// waiting to be promoted: status retry, or pending tasks deliberately
	// delayed at creation.
	ListScheduled(ctx context.Context) ([]*domain.Task, error)

	// ClaimTask atomically moves a pending task to running and stamps
	// started_at, returning the claimed row. Returns ErrTaskNotClaimable
	// if the task is not currently pending.
	ClaimTask(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// CompleteTask moves a running task to completed, stamping completed_at
	// and recording the handler result.
	CompleteTask(ctx context.Context, id uuid.UUID, result json.RawMessage) error

	// RescheduleTask moves a running task to retry: it records the failure
	// message, increments retry_count, and sets scheduled_at to the time the
	// task becomes eligible again. The scheduler is the only component that
	// later promotes it.
	RescheduleTask(ctx context.Context, id uuid.UUID, errMsg string, at time.Time) error

	// FailTask moves a running task to failed, recording the failure message
	// and stamping completed_at. Failed tasks stay put until RetryTask.
	FailTask(ctx context.Context, id uuid.UUID, errMsg string) error

	// PromoteTask atomically resets a delayed task (status retry, or pending
	// with a scheduled time) back to pending and clears scheduled_at.
	// Reports whether the precondition held.
	PromoteTask(ctx context.Context, id uuid.UUID) (bool, error)

	// ResetTask moves a running task back to pending, clearing started_at
	// and leaving the retry accounting untouched. Used at startup to recover
	// tasks a dead process left mid-execution. Reports whether the
	// precondition held.
	ResetTask(ctx context.Context, id uuid.UUID) (bool, error)

	// CancelTask atomically moves a pending task to cancelled. Reports
	// whether the task was pending at the time of the update; any other
	// state, including a missing task, is a no-op.
	CancelTask(ctx context.Context, id uuid.UUID) (bool, error)

	// RetryTask resets a failed task back to pending if it still has retries
	// left: increments retry_count and clears error, result, started_at and
	// completed_at. Reports whether the precondition held.
	RetryTask(ctx context.Context, id uuid.UUID) (bool, error)

	// CountTasksByStatus returns the number of tasks in each status.
	// Statuses with no tasks are absent from the map.
	CountTasksByStatus(ctx context.Context) (map[domain.TaskStatus]int, error)
}
