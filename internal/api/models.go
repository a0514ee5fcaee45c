package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/dispatch/internal/domain"
)

// Common request/response structures

// EnqueueRequest defines the payload for the task submission endpoint.
// Args and Kwargs are passed through to the handler untouched.
type EnqueueRequest struct {
	Name        string            `json:"name"                   validate:"required"`
	Args        []json.RawMessage `json:"args,omitempty"`
	Kwargs      map[string]json.RawMessage `json:"kwargs,omitempty"`
	Priority    string            `json:"priority,omitempty"     validate:"omitempty,oneof=low normal high urgent"`
	ScheduledAt *time.Time        `json:"scheduled_at,omitempty"`
	MaxRetries  *int              `json:"max_retries,omitempty"  validate:"omitempty,gte=0"`
	RetryDelay  *int              `json:"retry_delay,omitempty"  validate:"omitempty,gt=0"` // seconds
	Tags        []string          `json:"tags,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// EnqueueResponse defines the successful response for task submission.
type EnqueueResponse struct {
	TaskID uuid.UUID `json:"task_id"`
}

// TaskResponse is the external representation of a task.
type TaskResponse struct {
	ID          uuid.UUID         `json:"id"`
	Name        string            `json:"name"`
	Priority    string            `json:"priority"`
	Status      domain.TaskStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	ScheduledAt *time.Time        `json:"scheduled_at,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Result      json.RawMessage   `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
	RetryCount  int               `json:"retry_count"`
	MaxRetries  int               `json:"max_retries"`
	Tags        []string          `json:"tags,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewTaskResponse converts a domain task to its external representation.
func NewTaskResponse(t *domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		Name:        t.Name,
		Priority:    t.Priority.String(),
		Status:      t.Status,
		CreatedAt:   t.CreatedAt,
		ScheduledAt: t.ScheduledAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
		Result:      t.Result,
		Error:       t.Error,
		RetryCount:  t.RetryCount,
		MaxRetries:  t.MaxRetries,
		Tags:        t.Tags,
		Metadata:    t.Metadata,
	}
}

// TaskListResponse wraps a list of tasks.
type TaskListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
	Count int            `json:"count"`
}

// ActionResponse reports the outcome of a cancel or retry request.
type ActionResponse struct {
	TaskID  uuid.UUID `json:"task_id"`
	Applied bool      `json:"applied"`
}
