package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/dispatch/internal/domain"
	"github.com/phrazzld/dispatch/internal/store"
)

// WorkerPoolConfig holds configuration options for the worker pool.
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start.
	// If zero or negative, defaults to 1.
	WorkerCount int

	// DequeueTimeout bounds each blocking wait on the priority queue so
	// workers notice shutdown promptly. If zero, defaults to one second.
	DequeueTimeout time.Duration
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount:    4,
		DequeueTimeout: time.Second,
	}
}

// WorkerPool manages a pool of worker goroutines that dequeue eligible task
// references, execute the registered handler, and write the outcome back to
// the store. It handles graceful shutdown and worker lifecycle.
type WorkerPool struct {
	queue    *PriorityQueue
	store    store.TaskStore
	registry *Registry
	config   WorkerPoolConfig
	logger   *slog.Logger

	// wg tracks active worker goroutines for clean shutdown.
	wg sync.WaitGroup

	// ctx/cancel coordinate shutdown signaling.
	ctx    context.Context
	cancel context.CancelFunc

	// active counts workers currently executing a handler.
	activeMu sync.Mutex
	active   int

	// errorHandler is called when a task exhausts its retries.
	// If nil, failures are only logged and persisted.
	errorHandler func(ref TaskRef, err error)
}

// NewWorkerPool creates a new worker pool with the specified configuration.
func NewWorkerPool(
	queue *PriorityQueue,
	taskStore store.TaskStore,
	registry *Registry,
	config WorkerPoolConfig,
	logger *slog.Logger,
) *WorkerPool {
	if config.WorkerCount <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
		config.WorkerCount = 1
	}
	if config.DequeueTimeout <= 0 {
		config.DequeueTimeout = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		queue:    queue,
		store:    taskStore,
		registry: registry,
		config:   config,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetErrorHandler allows setting a custom handler invoked when a task is
// marked permanently failed.
func (p *WorkerPool) SetErrorHandler(handler func(ref TaskRef, err error)) {
	p.errorHandler = handler
}

// Start launches the worker goroutines.
func (p *WorkerPool) Start() {
	for i := 0; i < p.config.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop signals all workers to exit after their current timeout-bounded wait
// and blocks until they have done so.
func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()
}

// ActiveWorkers returns the number of workers currently executing a handler.
func (p *WorkerPool) ActiveWorkers() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return p.active
}

// worker dequeues and processes task references until shutdown.
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	logger := p.logger.With("worker_id", id)
	logger.Debug("starting worker")

	for {
		select {
		case <-p.ctx.Done():
			logger.Debug("stopping worker")
			return
		default:
		}

		ref, ok := p.queue.Dequeue(p.config.DequeueTimeout)
		if !ok {
			continue
		}

		p.processTask(ref, logger)
	}
}

// processTask handles execution of a single task reference. Any error in
// the loop itself is logged and swallowed so one bad task can never take a
// worker down with it.
func (p *WorkerPool) processTask(ref TaskRef, logger *slog.Logger) {
	ctx := context.Background()
	logger = logger.With("task_id", ref.ID)

	// Claim is a single conditional update: pending -> running. A ref whose
	// task was cancelled (or somehow already claimed) fails the precondition
	// and is discarded here.
	claimed, err := p.store.ClaimTask(ctx, ref.ID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotClaimable) {
			logger.Debug("discarding stale task reference")
		} else {
			logger.Error("failed to claim task", "error", err)
		}
		return
	}

	logger = logger.With("task_name", claimed.Name)
	logger.Info("processing task", "retry_count", claimed.RetryCount)

	p.activeMu.Lock()
	p.active++
	p.activeMu.Unlock()
	defer func() {
		p.activeMu.Lock()
		p.active--
		p.activeMu.Unlock()
	}()

	result, execErr := p.execute(ctx, claimed.Name, claimed.Payload)

	if execErr == nil {
		if err := p.store.CompleteTask(ctx, ref.ID, result); err != nil {
			logger.Error("failed to mark task completed", "error", err)
		} else {
			logger.Info("task completed")
		}
		return
	}

	logger.Error("task execution failed", "error", execErr)

	if claimed.RetriesRemaining() {
		// Exponential backoff: base delay doubled per retry already used.
		// The scheduler alone promotes the task once the delay elapses.
		delay := claimed.NextRetryDelay()
		dueAt := time.Now().UTC().Add(delay)

		if err := p.store.RescheduleTask(ctx, ref.ID, execErr.Error(), dueAt); err != nil {
			logger.Error("failed to reschedule task for retry", "error", err)
			return
		}
		logger.Info("task scheduled for retry",
			"retry_count", claimed.RetryCount+1,
			"max_retries", claimed.MaxRetries,
			"delay", delay)
		return
	}

	if err := p.store.FailTask(ctx, ref.ID, execErr.Error()); err != nil {
		logger.Error("failed to mark task failed", "error", err)
		return
	}
	logger.Warn("task failed permanently", "retry_count", claimed.RetryCount)

	if p.errorHandler != nil {
		p.errorHandler(ref, execErr)
	}
}

// execute resolves and invokes the handler, converting panics into plain
// execution errors so they flow through the normal retry policy.
func (p *WorkerPool) execute(
	ctx context.Context,
	name string,
	payload domain.Payload,
) (result json.RawMessage, err error) {
	handler, err := p.registry.Resolve(name)
	if err != nil {
		// Enqueue validates names against the registry, so this only
		// happens when a restart dropped a registration.
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	return handler(ctx, payload)
}
