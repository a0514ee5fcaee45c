package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task-specific validation errors
var (
	// ErrTaskIDEmpty is returned when a task ID is empty or nil.
	ErrTaskIDEmpty = errors.New("task ID cannot be empty")

	// ErrTaskNameEmpty is returned when a task name is empty.
	ErrTaskNameEmpty = errors.New("task name cannot be empty")

	// ErrTaskPriorityInvalid is returned when a task priority is outside the
	// known set.
	ErrTaskPriorityInvalid = errors.New("task priority is invalid")

	// ErrTaskStatusInvalid is returned when a task status is outside the
	// known set.
	ErrTaskStatusInvalid = errors.New("task status is invalid")

	// ErrTaskRetriesNegative is returned when max retries or retry delay is
	// negative.
	ErrTaskRetriesNegative = errors.New("task retry settings cannot be negative")
)

// TaskStatus represents the current state of a task.
type TaskStatus string

// Possible task status values.
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
	TaskStatusRetry     TaskStatus = "retry"
)

// Valid reports whether the status is one of the known values.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusCancelled, TaskStatusRetry:
		return true
	}
	return false
}

// Terminal reports whether a task in this status will never move again
// without external intervention.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// TaskPriority is a scheduling weight. Higher values dequeue first.
type TaskPriority int

// Possible task priority values.
const (
	TaskPriorityLow    TaskPriority = 1
	TaskPriorityNormal TaskPriority = 2
	TaskPriorityHigh   TaskPriority = 3
	TaskPriorityUrgent TaskPriority = 4
)

// Valid reports whether the priority is one of the known values.
func (p TaskPriority) Valid() bool {
	return p >= TaskPriorityLow && p <= TaskPriorityUrgent
}

// String returns a human-readable priority name.
func (p TaskPriority) String() string {
	switch p {
	case TaskPriorityLow:
		return "low"
	case TaskPriorityNormal:
		return "normal"
	case TaskPriorityHigh:
		return "high"
	case TaskPriorityUrgent:
		return "urgent"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParseTaskPriority converts a priority name to its TaskPriority value.
func ParseTaskPriority(name string) (TaskPriority, error) {
	switch name {
	case "low":
		return TaskPriorityLow, nil
	case "normal":
		return TaskPriorityNormal, nil
	case "high":
		return TaskPriorityHigh, nil
	case "urgent":
		return TaskPriorityUrgent, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrTaskPriorityInvalid, name)
	}
}

// Task represents a named unit of background work together with its
// execution metadata. The durable store is the single source of truth for
// every field; in-memory queue entries only reference tasks by ID.
type Task struct {
	ID          uuid.UUID         `json:"id"`
	Name        string            `json:"name"`
	Payload     Payload           `json:"payload"`
	Priority    TaskPriority      `json:"priority"`
	Status      TaskStatus        `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	ScheduledAt *time.Time        `json:"scheduled_at,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Result      json.RawMessage   `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
	RetryCount  int               `json:"retry_count"`
	MaxRetries  int               `json:"max_retries"`
	RetryDelay  time.Duration     `json:"retry_delay"`
	Tags        []string          `json:"tags,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewTask creates a new pending Task with the given name and payload.
// It generates a new UUID for the task ID and sets the creation timestamp.
// Returns an error if validation fails.
func NewTask(name string, payload Payload) (*Task, error) {
	task := &Task{
		ID:         uuid.New(),
		Name:       name,
		Payload:    payload,
		Priority:   TaskPriorityNormal,
		Status:     TaskStatusPending,
		CreatedAt:  time.Now().UTC(),
		MaxRetries: 3,
		RetryDelay: 60 * time.Second,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
// Returns an error if any field fails validation.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrTaskIDEmpty
	}

	if t.Name == "" {
		return ErrTaskNameEmpty
	}

	if !t.Priority.Valid() {
		return ErrTaskPriorityInvalid
	}

	if !t.Status.Valid() {
		return ErrTaskStatusInvalid
	}

	if t.MaxRetries < 0 || t.RetryDelay < 0 {
		return ErrTaskRetriesNegative
	}

	return nil
}

// Due reports whether the task is eligible for execution at the given time.
// A task with no scheduled time is due immediately.
func (t *Task) Due(now time.Time) bool {
	return t.ScheduledAt == nil || !t.ScheduledAt.After(now)
}

// NextRetryDelay returns the backoff delay that applies to the task's next
// automatic retry: RetryDelay doubled once per retry already consumed.
func (t *Task) NextRetryDelay() time.Duration {
	return t.RetryDelay * (1 << uint(t.RetryCount))
}

// RetriesRemaining reports whether the task may still be retried
// automatically.
func (t *Task) RetriesRemaining() bool {
	return t.RetryCount < t.MaxRetries
}
