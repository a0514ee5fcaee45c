package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/phrazzld/dispatch/internal/domain"
	"github.com/phrazzld/dispatch/internal/task"
)

// CleanupOldDataHandler returns the handler for the stale-data cleanup job.
// Optional kwarg "days" (int, default 30) sets the retention window.
func CleanupOldDataHandler(logger *slog.Logger) task.HandlerFunc {
	return func(ctx context.Context, payload domain.Payload) (json.RawMessage, error) {
		days := 30
		if payload.HasKwarg("days") {
			if err := payload.Kwarg("days", &days); err != nil {
				return nil, fmt.Errorf("cleanup_old_data: invalid days: %w", err)
			}
		}
		if days <= 0 {
			return nil, fmt.Errorf("cleanup_old_data: days must be positive, got %d", days)
		}

		cutoff := time.Now().UTC().AddDate(0, 0, -days)
		logger.Info("cleaning up stale data", "days", days, "cutoff", cutoff)

		return json.Marshal(map[string]any{
			"retention_days": days,
			"cutoff":         cutoff,
		})
	}
}

// GenerateReportHandler returns the handler for the report generation job.
// Payload: args[0] = report type; optional kwarg "format" (default "csv").
func GenerateReportHandler(logger *slog.Logger) task.HandlerFunc {
	return func(ctx context.Context, payload domain.Payload) (json.RawMessage, error) {
		var reportType string
		if err := payload.Arg(0, &reportType); err != nil {
			return nil, fmt.Errorf("generate_report requires a report type argument: %w", err)
		}

		format := "csv"
		if payload.HasKwarg("format") {
			if err := payload.Kwarg("format", &format); err != nil {
				return nil, fmt.Errorf("generate_report: invalid format: %w", err)
			}
		}
		switch format {
		case "csv", "json", "html":
		default:
			return nil, fmt.Errorf("generate_report: unsupported format %q", format)
		}

		logger.Info("generating report", "type", reportType, "format", format)

		return json.Marshal(map[string]any{
			"report_type":  reportType,
			"format":       format,
			"generated_at": time.Now().UTC(),
		})
	}
}

// BackupDatabaseHandler returns the handler for the database backup job.
// Payload: args[0] = backup directory path.
func BackupDatabaseHandler(logger *slog.Logger) task.HandlerFunc {
	return func(ctx context.Context, payload domain.Payload) (json.RawMessage, error) {
		var backupDir string
		if err := payload.Arg(0, &backupDir); err != nil {
			return nil, fmt.Errorf("backup_database requires a backup path argument: %w", err)
		}
		if backupDir == "" {
			return nil, fmt.Errorf("backup_database: backup path is empty")
		}

		started := time.Now().UTC()
		backupFile := path.Join(backupDir, fmt.Sprintf("backup_%s.sql.gz", started.Format("20060102_150405")))

		logger.Info("backing up database", "backup_file", backupFile)

		return json.Marshal(map[string]any{
			"backup_file": backupFile,
			"started_at":  started,
		})
	}
}
