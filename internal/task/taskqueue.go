package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/dispatch/internal/domain"
	"github.com/phrazzld/dispatch/internal/store"
)

// Queue lifecycle errors
var (
	// ErrQueueAlreadyStarted is returned by Start when the queue is running.
	ErrQueueAlreadyStarted = errors.New("task queue already started")

	// ErrQueueNotStarted is returned by Stop when the queue never started.
	ErrQueueNotStarted = errors.New("task queue not started")

	// ErrWaitTimeout is returned by WaitForCompletion when tasks are still
	// outstanding at the deadline.
	ErrWaitTimeout = errors.New("timed out waiting for task completion")
)

// QueueConfig holds the tuning knobs for a Queue.
type QueueConfig struct {
	// WorkerCount is the number of concurrent workers executing tasks.
	WorkerCount int

	// DequeueTimeout bounds each worker's blocking wait on the queue.
	DequeueTimeout time.Duration

	// SchedulerInterval is how often delayed/retry tasks are checked for
	// promotion.
	SchedulerInterval time.Duration

	// WaitPollInterval is how often WaitForCompletion re-reads the stats.
	// If zero, defaults to one second.
	WaitPollInterval time.Duration
}

// DefaultQueueConfig returns a QueueConfig with reasonable defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		WorkerCount:       4,
		DequeueTimeout:    time.Second,
		SchedulerInterval: 10 * time.Second,
		WaitPollInterval:  time.Second,
	}
}

// Stats is an aggregate snapshot of the queue for operational inspection.
type Stats struct {
	TotalTasks    int                       `json:"total_tasks"`
	ByStatus      map[domain.TaskStatus]int `json:"by_status"`
	QueueDepth    int                       `json:"queue_depth"`
	ActiveWorkers int                       `json:"active_workers"`
}

// Queue is the public facade over the durable store, the handler registry,
// the in-memory priority queue, the worker pool, and the scheduler.
// Construct one with NewQueue and share it; it holds no hidden global state.
type Queue struct {
	store     store.TaskStore
	registry  *Registry
	queue     *PriorityQueue
	workers   *WorkerPool
	scheduler *Scheduler
	config    QueueConfig
	logger    *slog.Logger
	started   bool
}

// NewQueue assembles a task queue from its dependencies.
func NewQueue(taskStore store.TaskStore, registry *Registry, config QueueConfig, logger *slog.Logger) *Queue {
	if config.WaitPollInterval <= 0 {
		config.WaitPollInterval = time.Second
	}

	pq := NewPriorityQueue()

	return &Queue{
		store:    taskStore,
		registry: registry,
		queue:    pq,
		workers: NewWorkerPool(pq, taskStore, registry, WorkerPoolConfig{
			WorkerCount:    config.WorkerCount,
			DequeueTimeout: config.DequeueTimeout,
		}, logger),
		scheduler: NewScheduler(pq, taskStore, config.SchedulerInterval, logger),
		config:    config,
		logger:    logger,
	}
}

// Register associates a task name with a handler. Handlers must be
// registered before any task with that name is enqueued or executed.
func (q *Queue) Register(name string, handler HandlerFunc) error {
	return q.registry.Register(name, handler)
}

// Enqueue validates, persists, and (when due) queues a new task.
// Returns the new task's ID. Fails synchronously if the name has no
// registered handler; nothing is persisted in that case.
func (q *Queue) Enqueue(ctx context.Context, name string, payload domain.Payload, opts ...EnqueueOption) (uuid.UUID, error) {
	if !q.registry.Registered(name) {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrHandlerNotRegistered, name)
	}

	options := defaultEnqueueOptions()
	for _, opt := range opts {
		opt(&options)
	}

	t, err := domain.NewTask(name, payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid task: %w", err)
	}

	t.Priority = options.priority
	t.MaxRetries = options.maxRetries
	t.RetryDelay = options.retryDelay
	t.Tags = options.tags
	t.Metadata = options.metadata

	now := time.Now().UTC()
	if options.scheduledAt != nil && options.scheduledAt.After(now) {
		at := options.scheduledAt.UTC()
		t.ScheduledAt = &at
	}

	if err := q.store.CreateTask(ctx, t); err != nil {
		return uuid.Nil, fmt.Errorf("failed to save task: %w", err)
	}

	// Only tasks due now enter the in-memory queue; delayed tasks are the
	// scheduler's responsibility from here on.
	if t.ScheduledAt == nil {
		q.queue.Enqueue(TaskRef{ID: t.ID, Priority: t.Priority, CreatedAt: t.CreatedAt})
	}

	q.logger.Info("task enqueued",
		"task_id", t.ID,
		"task_name", name,
		"priority", t.Priority.String(),
		"delayed", t.ScheduledAt != nil)

	return t.ID, nil
}

// CancelTask cancels a pending task. Reports true only if the task was
// pending at the moment of the conditional update; a running, terminal, or
// missing task is an idempotent no-op reporting false.
func (q *Queue) CancelTask(ctx context.Context, id uuid.UUID) (bool, error) {
	cancelled, err := q.store.CancelTask(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to cancel task: %w", err)
	}
	if cancelled {
		q.logger.Info("task cancelled", "task_id", id)
	}
	return cancelled, nil
}

// RetryTask manually re-queues a failed task that still has retries left.
// Reports true only when the precondition held; the task's retry count is
// incremented and its execution fields are cleared.
func (q *Queue) RetryTask(ctx context.Context, id uuid.UUID) (bool, error) {
	reset, err := q.store.RetryTask(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to retry task: %w", err)
	}
	if !reset {
		return false, nil
	}

	t, err := q.store.GetTask(ctx, id)
	if err != nil {
		return true, fmt.Errorf("task reset but could not be re-queued: %w", err)
	}

	q.queue.Enqueue(TaskRef{ID: t.ID, Priority: t.Priority, CreatedAt: t.CreatedAt})
	q.logger.Info("task re-queued for manual retry", "task_id", id, "retry_count", t.RetryCount)
	return true, nil
}

// GetTask retrieves a task by ID. Returns nil (and no error) when the task
// does not exist.
func (q *Queue) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	t, err := q.store.GetTask(ctx, id)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// GetPendingTasks lists pending tasks ordered by priority descending then
// creation time ascending.
func (q *Queue) GetPendingTasks(ctx context.Context) ([]*domain.Task, error) {
	return q.store.ListTasksByStatus(ctx, domain.TaskStatusPending)
}

// GetFailedTasks lists permanently failed tasks, most recent first.
func (q *Queue) GetFailedTasks(ctx context.Context) ([]*domain.Task, error) {
	return q.store.ListTasksByStatus(ctx, domain.TaskStatusFailed)
}

// GetTaskStats returns aggregate counts by status plus the in-memory queue
// depth and the number of workers currently executing a handler.
func (q *Queue) GetTaskStats(ctx context.Context) (Stats, error) {
	counts, err := q.store.CountTasksByStatus(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count tasks: %w", err)
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	return Stats{
		TotalTasks:    total,
		ByStatus:      counts,
		QueueDepth:    q.queue.Len(),
		ActiveWorkers: q.workers.ActiveWorkers(),
	}, nil
}

// Start reconciles durable state into the in-memory queue, then launches
// the worker pool and the scheduler.
func (q *Queue) Start(ctx context.Context) error {
	if q.started {
		return ErrQueueAlreadyStarted
	}

	if err := q.recover(ctx); err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}

	q.workers.Start()
	q.scheduler.Start()
	q.started = true

	q.logger.Info("task queue started",
		"worker_count", q.config.WorkerCount,
		"scheduler_interval", q.config.SchedulerInterval)
	return nil
}

// Stop shuts down the scheduler and the worker pool. Workers exit after
// their current timeout-bounded wait; a handler already executing runs to
// completion.
func (q *Queue) Stop() error {
	if !q.started {
		return ErrQueueNotStarted
	}

	q.scheduler.Stop()
	q.workers.Stop()
	q.started = false

	q.logger.Info("task queue stopped")
	return nil
}

// WaitForCompletion polls the aggregate stats until no tasks are pending,
// running, or awaiting retry, the context is cancelled, or the timeout
// elapses. A zero timeout means wait indefinitely (bounded by ctx).
func (q *Queue) WaitForCompletion(ctx context.Context, timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(q.config.WaitPollInterval)
	defer ticker.Stop()

	for {
		counts, err := q.store.CountTasksByStatus(ctx)
		if err != nil {
			return fmt.Errorf("failed to poll task stats: %w", err)
		}

		outstanding := counts[domain.TaskStatusPending] +
			counts[domain.TaskStatusRunning] +
			counts[domain.TaskStatusRetry]
		if outstanding == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return ErrWaitTimeout
		case <-ticker.C:
		}
	}
}

// recover reloads durable state into the live queue after a restart: due
// pending tasks are re-queued, and tasks stranded in running (a previous
// process died mid-execution) are reset to pending and re-queued. Retry and
// delayed tasks are left for the scheduler, which re-tracks them from the
// store on its first poll.
func (q *Queue) recover(ctx context.Context) error {
	pending, err := q.store.ListTasksByStatus(ctx, domain.TaskStatusPending)
	if err != nil {
		return fmt.Errorf("failed to list pending tasks: %w", err)
	}

	running, err := q.store.ListTasksByStatus(ctx, domain.TaskStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to list running tasks: %w", err)
	}

	q.logger.Info("recovering unfinished tasks",
		"pending_count", len(pending),
		"running_count", len(running))

	now := time.Now().UTC()
	for _, t := range pending {
		if !t.Due(now) {
			// Deliberately delayed; the scheduler will promote it.
			continue
		}
		q.queue.Enqueue(TaskRef{ID: t.ID, Priority: t.Priority, CreatedAt: t.CreatedAt})
	}

	// Tasks stuck in running belong to a dead process: no worker in this
	// process has claimed them. Reset each one to pending, retry
	// accounting untouched, and re-queue it.
	for _, t := range running {
		reset, err := q.store.ResetTask(ctx, t.ID)
		if err != nil {
			q.logger.Error("failed to reset interrupted task",
				"task_id", t.ID,
				"error", err)
			continue
		}
		if reset {
			q.queue.Enqueue(TaskRef{ID: t.ID, Priority: t.Priority, CreatedAt: t.CreatedAt})
		}
	}

	return nil
}
