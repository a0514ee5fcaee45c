package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/dispatch/internal/domain"
	"github.com/phrazzld/dispatch/internal/task"
)

// syncResult is the serialized return value of a repository sync run.
type syncResult struct {
	Repository string    `json:"repository"`
	Forced     bool      `json:"forced"`
	StartedAt  time.Time `json:"started_at"`
}

// SyncRepositoryHandler returns the handler for the repository sync job.
// Payload: args[0] = repository name; optional kwarg "force" (bool) retries
// repositories that previously failed validation.
func SyncRepositoryHandler(logger *slog.Logger) task.HandlerFunc {
	return func(ctx context.Context, payload domain.Payload) (json.RawMessage, error) {
		var repository string
		if err := payload.Arg(0, &repository); err != nil {
			return nil, fmt.Errorf("sync_repository requires a repository argument: %w", err)
		}
		if repository == "" {
			return nil, fmt.Errorf("sync_repository: repository name is empty")
		}

		force := false
		if payload.HasKwarg("force") {
			if err := payload.Kwarg("force", &force); err != nil {
				return nil, fmt.Errorf("sync_repository: invalid force flag: %w", err)
			}
		}

		logger.Info("syncing repository", "repository", repository, "force", force)

		result := syncResult{
			Repository: repository,
			Forced:     force,
			StartedAt:  time.Now().UTC(),
		}
		return json.Marshal(result)
	}
}
