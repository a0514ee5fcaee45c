package jobs

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/dispatch/internal/domain"
	"github.com/phrazzld/dispatch/internal/task"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustPayload(t *testing.T, args []any, kwargs map[string]any) domain.Payload {
	t.Helper()

	payload, err := domain.NewPayload(args, kwargs)
	require.NoError(t, err)
	return payload
}

func TestRegisterBuiltins(t *testing.T) {
	t.Parallel()

	registry := task.NewRegistry()
	require.NoError(t, RegisterBuiltins(registry, newTestLogger()))

	for _, name := range []string{
		TaskSyncRepository,
		TaskCleanupOldData,
		TaskGenerateReport,
		TaskBackupDatabase,
	} {
		assert.True(t, registry.Registered(name), "missing builtin %q", name)
	}

	// Double registration must surface the underlying registry error.
	err := RegisterBuiltins(registry, newTestLogger())
	assert.ErrorIs(t, err, task.ErrHandlerAlreadyRegistered)
}

func TestSyncRepositoryHandler(t *testing.T) {
	t.Parallel()

	handler := SyncRepositoryHandler(newTestLogger())

	result, err := handler(context.Background(), mustPayload(t,
		[]any{"phrazzld/dispatch"},
		map[string]any{"force": true}))
	require.NoError(t, err)

	var decoded struct {
		Repository string `json:"repository"`
		Forced     bool   `json:"forced"`
	}
	require.NoError(t, json.Unmarshal(result, &decoded))
	assert.Equal(t, "phrazzld/dispatch", decoded.Repository)
	assert.True(t, decoded.Forced)
}

func TestSyncRepositoryHandler_MissingRepository(t *testing.T) {
	t.Parallel()

	handler := SyncRepositoryHandler(newTestLogger())

	_, err := handler(context.Background(), domain.Payload{})
	assert.Error(t, err)

	_, err = handler(context.Background(), mustPayload(t, []any{""}, nil))
	assert.Error(t, err)
}

func TestCleanupOldDataHandler(t *testing.T) {
	t.Parallel()

	handler := CleanupOldDataHandler(newTestLogger())

	result, err := handler(context.Background(), mustPayload(t, nil, map[string]any{"days": 7}))
	require.NoError(t, err)

	var decoded struct {
		RetentionDays int `json:"retention_days"`
	}
	require.NoError(t, json.Unmarshal(result, &decoded))
	assert.Equal(t, 7, decoded.RetentionDays)
}

func TestCleanupOldDataHandler_DefaultRetention(t *testing.T) {
	t.Parallel()

	handler := CleanupOldDataHandler(newTestLogger())

	result, err := handler(context.Background(), domain.Payload{})
	require.NoError(t, err)

	var decoded struct {
		RetentionDays int `json:"retention_days"`
	}
	require.NoError(t, json.Unmarshal(result, &decoded))
	assert.Equal(t, 30, decoded.RetentionDays)
}

func TestCleanupOldDataHandler_InvalidDays(t *testing.T) {
	t.Parallel()

	handler := CleanupOldDataHandler(newTestLogger())

	_, err := handler(context.Background(), mustPayload(t, nil, map[string]any{"days": 0}))
	assert.Error(t, err)

	_, err = handler(context.Background(), mustPayload(t, nil, map[string]any{"days": -5}))
	assert.Error(t, err)
}

func TestGenerateReportHandler(t *testing.T) {
	t.Parallel()

	handler := GenerateReportHandler(newTestLogger())

	result, err := handler(context.Background(), mustPayload(t,
		[]any{"monthly"},
		map[string]any{"format": "json"}))
	require.NoError(t, err)

	var decoded struct {
		ReportType string `json:"report_type"`
		Format     string `json:"format"`
	}
	require.NoError(t, json.Unmarshal(result, &decoded))
	assert.Equal(t, "monthly", decoded.ReportType)
	assert.Equal(t, "json", decoded.Format)
}

func TestGenerateReportHandler_UnsupportedFormat(t *testing.T) {
	t.Parallel()

	handler := GenerateReportHandler(newTestLogger())

	_, err := handler(context.Background(), mustPayload(t,
		[]any{"monthly"},
		map[string]any{"format": "xlsx"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}

func TestBackupDatabaseHandler(t *testing.T) {
	t.Parallel()

	handler := BackupDatabaseHandler(newTestLogger())

	result, err := handler(context.Background(), mustPayload(t, []any{"/var/backups"}, nil))
	require.NoError(t, err)

	var decoded struct {
		BackupFile string `json:"backup_file"`
	}
	require.NoError(t, json.Unmarshal(result, &decoded))
	assert.True(t, strings.HasPrefix(decoded.BackupFile, "/var/backups/backup_"))
	assert.True(t, strings.HasSuffix(decoded.BackupFile, ".sql.gz"))
}

func TestBackupDatabaseHandler_MissingPath(t *testing.T) {
	t.Parallel()

	handler := BackupDatabaseHandler(newTestLogger())

	_, err := handler(context.Background(), domain.Payload{})
	assert.Error(t, err)
}
