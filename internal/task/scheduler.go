package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/dispatch/internal/domain"
)

// Scheduler is the single authority for delayed re-injection: it promotes
// retry tasks and deliberately delayed tasks back into the priority queue
// once their scheduled time arrives. Workers only ever write scheduled_at
// to the store; they never push delayed work into the queue themselves.
type Scheduler struct {
	queue    *PriorityQueue
	store    schedulerStore
	interval time.Duration
	logger   *slog.Logger

	// due tracks the scheduled time of every task the scheduler has seen,
	// keyed by task ID, so each poll only has to compare against the clock.
	due map[uuid.UUID]scheduledEntry

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// scheduledEntry is what the scheduler remembers per delayed task.
type scheduledEntry struct {
	at  time.Time
	ref TaskRef
}

// schedulerStore is the slice of the task store the scheduler needs.
type schedulerStore interface {
	ListScheduled(ctx context.Context) ([]*domain.Task, error)
	PromoteTask(ctx context.Context, id uuid.UUID) (bool, error)
}

// NewScheduler creates a scheduler polling at the given interval.
// If interval is zero, it defaults to ten seconds.
func NewScheduler(queue *PriorityQueue, taskStore schedulerStore, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		queue:    queue,
		store:    taskStore,
		interval: interval,
		logger:   logger,
		due:      make(map[uuid.UUID]scheduledEntry),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the scheduler loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop signals the loop to exit and waits for it.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// An immediate first pass picks up retry tasks persisted before a
	// restart without waiting a full interval.
	s.poll()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

// poll refreshes the due-time map from the store and promotes every tracked
// task whose scheduled time has arrived.
func (s *Scheduler) poll() {
	ctx := context.Background()

	rows, err := s.store.ListScheduled(ctx)
	if err != nil {
		s.logger.Error("failed to load scheduled tasks", "error", err)
		return
	}

	for _, row := range rows {
		if row.ScheduledAt == nil {
			continue
		}
		if _, tracked := s.due[row.ID]; tracked {
			continue
		}
		s.due[row.ID] = scheduledEntry{
			at: *row.ScheduledAt,
			ref: TaskRef{
				ID:        row.ID,
				Priority:  row.Priority,
				CreatedAt: row.CreatedAt,
			},
		}
	}

	now := time.Now().UTC()
	for id, entry := range s.due {
		if entry.at.After(now) {
			continue
		}
		delete(s.due, id)

		promoted, err := s.store.PromoteTask(ctx, id)
		if err != nil {
			s.logger.Error("failed to promote scheduled task",
				"task_id", id,
				"error", err)
			continue
		}
		if !promoted {
			// Cancelled or already promoted elsewhere; nothing to queue.
			s.logger.Debug("scheduled task no longer promotable", "task_id", id)
			continue
		}

		s.queue.Enqueue(entry.ref)
		s.logger.Info("promoted scheduled task", "task_id", id)
	}
}
