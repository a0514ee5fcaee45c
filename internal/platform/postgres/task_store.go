// Package postgres provides PostgreSQL implementations of the store
// interfaces.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/dispatch/internal/domain"
	"github.com/phrazzld/dispatch/internal/platform/logger"
	"github.com/phrazzld/dispatch/internal/store"
)

// TaskStore implements the store.TaskStore interface using PostgreSQL.
// Every status-dependent mutation is a single conditional UPDATE, so the
// database is the arbiter of all state-machine transitions.
type TaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewTaskStore creates a new PostgreSQL-backed task store.
func NewTaskStore(db store.DBTX, l *slog.Logger) *TaskStore {
	return &TaskStore{
		db:     db,
		logger: l,
	}
}

// taskColumns is the select list shared by every read; scanTask must stay
// in step with it.
const taskColumns = `id, name, args, kwargs, priority, status, created_at,
	scheduled_at, started_at, completed_at, result, error,
	retry_count, max_retries, retry_delay_seconds, tags, metadata`

// CreateTask persists a new task.
func (s *TaskStore) CreateTask(ctx context.Context, t *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	args, kwargs, tags, metadata, err := marshalAnnotations(t)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tasks (
			id, name, args, kwargs, priority, status, created_at,
			scheduled_at, retry_count, max_retries, retry_delay_seconds,
			tags, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = s.db.ExecContext(ctx, query,
		t.ID,
		t.Name,
		args,
		kwargs,
		int(t.Priority),
		string(t.Status),
		t.CreatedAt,
		t.ScheduledAt,
		t.RetryCount,
		t.MaxRetries,
		int(t.RetryDelay/time.Second),
		tags,
		metadata,
	)
	if err != nil {
		log.Error("failed to save task",
			"task_id", t.ID,
			"task_name", t.Name,
			"error", err)
		return mapError(err)
	}

	return nil
}

// GetTask retrieves a task by ID.
func (s *TaskStore) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	t, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err)
	}
	return t, nil
}

// ListTasksByStatus retrieves all tasks with the given status. Pending tasks
// come back in dequeue order; other statuses most recent first.
func (s *TaskStore) ListTasksByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error) {
	order := `created_at DESC`
	if status == domain.TaskStatusPending {
		order = `priority DESC, created_at ASC`
	}

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE status = $1 ORDER BY ` + order

	return s.queryTasks(ctx, query, string(status))
}

// ListScheduled retrieves tasks carrying a scheduled time that the
// scheduler may need to promote.
func (s *TaskStore) ListScheduled(ctx context.Context) ([]*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE scheduled_at IS NOT NULL AND status IN ($1, $2)
		ORDER BY scheduled_at ASC
	`

	return s.queryTasks(ctx, query,
		string(domain.TaskStatusPending),
		string(domain.TaskStatusRetry))
}

// ClaimTask atomically moves a pending task to running, returning the
// claimed row in one round trip.
func (s *TaskStore) ClaimTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `
		UPDATE tasks
		SET status = $1, started_at = $2
		WHERE id = $3 AND status = $4
		RETURNING ` + taskColumns

	t, err := scanTask(s.db.QueryRowContext(ctx, query,
		string(domain.TaskStatusRunning),
		time.Now().UTC(),
		id,
		string(domain.TaskStatusPending),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotClaimable
		}
		return nil, mapError(err)
	}
	return t, nil
}

// CompleteTask moves a running task to completed with its result.
func (s *TaskStore) CompleteTask(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	query := `
		UPDATE tasks
		SET status = $1, completed_at = $2, result = $3
		WHERE id = $4 AND status = $5
	`

	return s.execTransition(ctx, "complete", id, query,
		string(domain.TaskStatusCompleted),
		time.Now().UTC(),
		nullableJSON(result),
		id,
		string(domain.TaskStatusRunning))
}

// RescheduleTask moves a running task to retry, consuming one retry and
// recording when the task becomes eligible again.
func (s *TaskStore) RescheduleTask(ctx context.Context, id uuid.UUID, errMsg string, at time.Time) error {
	query := `
		UPDATE tasks
		SET status = $1, error = $2, scheduled_at = $3,
		    retry_count = retry_count + 1
		WHERE id = $4 AND status = $5
	`

	return s.execTransition(ctx, "reschedule", id, query,
		string(domain.TaskStatusRetry),
		errMsg,
		at.UTC(),
		id,
		string(domain.TaskStatusRunning))
}

// FailTask moves a running task to failed.
func (s *TaskStore) FailTask(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `
		UPDATE tasks
		SET status = $1, error = $2, completed_at = $3
		WHERE id = $4 AND status = $5
	`

	return s.execTransition(ctx, "fail", id, query,
		string(domain.TaskStatusFailed),
		errMsg,
		time.Now().UTC(),
		id,
		string(domain.TaskStatusRunning))
}

// PromoteTask resets a delayed task back to pending and clears its
// scheduled time.
func (s *TaskStore) PromoteTask(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE tasks
		SET status = $1, scheduled_at = NULL
		WHERE id = $2 AND scheduled_at IS NOT NULL AND status IN ($3, $4)
	`

	return s.execConditional(ctx, query,
		string(domain.TaskStatusPending),
		id,
		string(domain.TaskStatusPending),
		string(domain.TaskStatusRetry))
}

// ResetTask moves a running task back to pending for startup recovery.
func (s *TaskStore) ResetTask(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE tasks
		SET status = $1, started_at = NULL
		WHERE id = $2 AND status = $3
	`

	return s.execConditional(ctx, query,
		string(domain.TaskStatusPending),
		id,
		string(domain.TaskStatusRunning))
}

// CancelTask moves a pending task to cancelled.
func (s *TaskStore) CancelTask(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE tasks
		SET status = $1
		WHERE id = $2 AND status = $3
	`

	return s.execConditional(ctx, query,
		string(domain.TaskStatusCancelled),
		id,
		string(domain.TaskStatusPending))
}

// RetryTask resets a failed task that still has retries left back to
// pending, clearing its execution fields.
func (s *TaskStore) RetryTask(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE tasks
		SET status = $1, retry_count = retry_count + 1,
		    error = NULL, result = NULL, started_at = NULL, completed_at = NULL
		WHERE id = $2 AND status = $3 AND retry_count < max_retries
	`

	return s.execConditional(ctx, query,
		string(domain.TaskStatusPending),
		id,
		string(domain.TaskStatusFailed))
}

// CountTasksByStatus returns the number of tasks in each status.
func (s *TaskStore) CountTasksByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM tasks GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	counts := make(map[domain.TaskStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[domain.TaskStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}

	return counts, nil
}

// execTransition runs a conditional update that is expected to succeed; a
// missed precondition is reported as ErrUpdateFailed since the caller
// believed it held the task in the source state.
func (s *TaskStore) execTransition(ctx context.Context, op string, id uuid.UUID, query string, args ...any) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to update task status",
			"task_id", id,
			"operation", op,
			"error", err)
		return mapError(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		log.Warn("task transition precondition not met",
			"task_id", id,
			"operation", op)
		return fmt.Errorf("%w: task %s not in expected state for %s", store.ErrUpdateFailed, id, op)
	}

	return nil
}

// execConditional runs a conditional update whose precondition may
// legitimately not hold, reporting whether it did.
func (s *TaskStore) execConditional(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, mapError(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *TaskStore) queryTasks(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query tasks", "error", err)
		return nil, mapError(err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}

	return tasks, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t           domain.Task
		priority    int
		status      string
		scheduledAt sql.NullTime
		startedAt   sql.NullTime
		completedAt sql.NullTime
		args        []byte
		kwargs      []byte
		result      []byte
		errMsg      sql.NullString
		retryDelay  int
		tags        []byte
		metadata    []byte
	)

	err := row.Scan(
		&t.ID,
		&t.Name,
		&args,
		&kwargs,
		&priority,
		&status,
		&t.CreatedAt,
		&scheduledAt,
		&startedAt,
		&completedAt,
		&result,
		&errMsg,
		&t.RetryCount,
		&t.MaxRetries,
		&retryDelay,
		&tags,
		&metadata,
	)
	if err != nil {
		return nil, err
	}

	t.Priority = domain.TaskPriority(priority)
	t.Status = domain.TaskStatus(status)
	t.RetryDelay = time.Duration(retryDelay) * time.Second
	t.Error = errMsg.String

	if scheduledAt.Valid {
		at := scheduledAt.Time
		t.ScheduledAt = &at
	}
	if startedAt.Valid {
		at := startedAt.Time
		t.StartedAt = &at
	}
	if completedAt.Valid {
		at := completedAt.Time
		t.CompletedAt = &at
	}
	if len(result) > 0 {
		t.Result = json.RawMessage(result)
	}

	if len(args) > 0 {
		if err := json.Unmarshal(args, &t.Payload.Args); err != nil {
			return nil, fmt.Errorf("failed to decode task args: %w", err)
		}
	}
	if len(kwargs) > 0 {
		if err := json.Unmarshal(kwargs, &t.Payload.Kwargs); err != nil {
			return nil, fmt.Errorf("failed to decode task kwargs: %w", err)
		}
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &t.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode task tags: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode task metadata: %w", err)
		}
	}

	return &t, nil
}

// marshalAnnotations serializes the JSONB columns of a task.
func marshalAnnotations(t *domain.Task) (args, kwargs, tags, metadata []byte, err error) {
	if args, err = json.Marshal(t.Payload.Args); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to encode task args: %w", err)
	}
	if kwargs, err = json.Marshal(t.Payload.Kwargs); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to encode task kwargs: %w", err)
	}
	if tags, err = json.Marshal(t.Tags); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to encode task tags: %w", err)
	}
	if metadata, err = json.Marshal(t.Metadata); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to encode task metadata: %w", err)
	}
	return args, kwargs, tags, metadata, nil
}

// nullableJSON converts an empty raw message to NULL.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
