package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/dispatch/internal/api/shared"
	"github.com/phrazzld/dispatch/internal/domain"
	"github.com/phrazzld/dispatch/internal/task"
)

// TaskHandler exposes the queue's producer and operational query contracts
// over HTTP.
type TaskHandler struct {
	queue  *task.Queue
	logger *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(queue *task.Queue, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		queue:  queue,
		logger: logger,
	}
}

// Routes registers the task endpoints on the given router.
func (h *TaskHandler) Routes(r chi.Router) {
	r.Post("/tasks", h.EnqueueTask)
	r.Get("/tasks", h.ListTasks)
	r.Get("/tasks/stats", h.GetStats)
	r.Get("/tasks/{id}", h.GetTask)
	r.Post("/tasks/{id}/cancel", h.CancelTask)
	r.Post("/tasks/{id}/retry", h.RetryTask)
}

// EnqueueTask handles POST /tasks.
func (h *TaskHandler) EnqueueTask(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request", err)
		return
	}

	opts := []task.EnqueueOption{}

	if req.Priority != "" {
		priority, err := domain.ParseTaskPriority(req.Priority)
		if err != nil {
			shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
			return
		}
		opts = append(opts, task.WithPriority(priority))
	}
	if req.ScheduledAt != nil {
		opts = append(opts, task.WithScheduledAt(*req.ScheduledAt))
	}
	if req.MaxRetries != nil {
		opts = append(opts, task.WithMaxRetries(*req.MaxRetries))
	}
	if req.RetryDelay != nil {
		opts = append(opts, task.WithRetryDelay(time.Duration(*req.RetryDelay)*time.Second))
	}
	if len(req.Tags) > 0 {
		opts = append(opts, task.WithTags(req.Tags...))
	}
	if len(req.Metadata) > 0 {
		opts = append(opts, task.WithMetadata(req.Metadata))
	}

	payload := domain.Payload{Args: req.Args, Kwargs: req.Kwargs}

	id, err := h.queue.Enqueue(r.Context(), req.Name, payload, opts...)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, EnqueueResponse{TaskID: id})
}

// GetTask handles GET /tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	t, err := h.queue.GetTask(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	if t == nil {
		shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, NewTaskResponse(t))
}

// ListTasks handles GET /tasks?status=pending|failed.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	var (
		tasks []*domain.Task
		err   error
	)

	switch status := r.URL.Query().Get("status"); status {
	case "", "pending":
		tasks, err = h.queue.GetPendingTasks(r.Context())
	case "failed":
		tasks, err = h.queue.GetFailedTasks(r.Context())
	default:
		shared.RespondWithError(w, r, http.StatusBadRequest, "status must be pending or failed")
		return
	}
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	resp := TaskListResponse{Tasks: make([]TaskResponse, 0, len(tasks)), Count: len(tasks)}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, NewTaskResponse(t))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// CancelTask handles POST /tasks/{id}/cancel. Cancellation is idempotent:
// a task that is not pending reports applied=false rather than an error.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	cancelled, err := h.queue.CancelTask(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, ActionResponse{TaskID: id, Applied: cancelled})
}

// RetryTask handles POST /tasks/{id}/retry.
func (h *TaskHandler) RetryTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	retried, err := h.queue.RetryTask(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, ActionResponse{TaskID: id, Applied: retried})
}

// GetStats handles GET /tasks/stats.
func (h *TaskHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.GetTaskStats(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, stats)
}

// taskID parses the {id} URL parameter, writing a 400 response on failure.
func (h *TaskHandler) taskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return uuid.Nil, false
	}
	return id, true
}
