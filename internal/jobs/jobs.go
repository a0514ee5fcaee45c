// Package jobs provides the builtin maintenance handlers registered with
// the task queue at startup: repository sync, stale-data cleanup, report
// generation, and database backup. Each handler is an opaque function from
// the queue's perspective; its payload contract is private to this package.
package jobs

import (
	"fmt"
	"log/slog"

	"github.com/phrazzld/dispatch/internal/task"
)

// Task names for the builtin handlers.
const (
	TaskSyncRepository = "sync_repository"
	TaskCleanupOldData = "cleanup_old_data"
	TaskGenerateReport = "generate_report"
	TaskBackupDatabase = "backup_database"
)

// Registrar is the slice of the queue facade that jobs need.
type Registrar interface {
	Register(name string, handler task.HandlerFunc) error
}

// RegisterBuiltins registers every builtin handler on the given registrar.
func RegisterBuiltins(r Registrar, logger *slog.Logger) error {
	handlers := map[string]task.HandlerFunc{
		TaskSyncRepository: SyncRepositoryHandler(logger),
		TaskCleanupOldData: CleanupOldDataHandler(logger),
		TaskGenerateReport: GenerateReportHandler(logger),
		TaskBackupDatabase: BackupDatabaseHandler(logger),
	}

	for name, handler := range handlers {
		if err := r.Register(name, handler); err != nil {
			return fmt.Errorf("failed to register %q: %w", name, err)
		}
	}
	return nil
}
