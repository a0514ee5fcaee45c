// Package main implements the entry point for the dispatch server: a
// durable, priority-ordered background task queue with an HTTP surface for
// submitting and inspecting tasks.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phrazzld/dispatch/internal/config"
	"github.com/phrazzld/dispatch/internal/jobs"
	"github.com/phrazzld/dispatch/internal/platform/logger"
	"github.com/phrazzld/dispatch/internal/platform/postgres"
	"github.com/phrazzld/dispatch/internal/task"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Failed to run dispatch server: %v", err)
	}
}

// run wires the application together: configuration, logging, database,
// migrations, the task queue, and the HTTP server.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	slog.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"worker_count", cfg.Queue.WorkerCount)

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			appLogger.Error("error closing database connection", "error", err)
		}
	}()

	if err := runMigrations(db, appLogger); err != nil {
		return err
	}

	// Assemble the queue with explicit dependencies.
	registry := task.NewRegistry()
	if err := jobs.RegisterBuiltins(registry, appLogger); err != nil {
		return fmt.Errorf("failed to register builtin handlers: %w", err)
	}

	taskStore := postgres.NewTaskStore(db, appLogger)
	queue := task.NewQueue(taskStore, registry, task.QueueConfig{
		WorkerCount:       cfg.Queue.WorkerCount,
		DequeueTimeout:    cfg.Queue.DequeueTimeout,
		SchedulerInterval: cfg.Queue.SchedulerInterval,
	}, appLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task queue: %w", err)
	}

	server := newServer(cfg.Server, queue, appLogger)

	serverErr := make(chan error, 1)
	go func() {
		appLogger.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		stopQueue(queue, appLogger)
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
		appLogger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP server shutdown failed", "error", err)
	}

	stopQueue(queue, appLogger)
	appLogger.Info("dispatch server stopped")
	return nil
}

func stopQueue(queue *task.Queue, appLogger *slog.Logger) {
	if err := queue.Stop(); err != nil {
		appLogger.Error("failed to stop task queue", "error", err)
	}
}
