package api

import (
	"errors"
	"net/http"

	"github.com/phrazzld/dispatch/internal/domain"
	"github.com/phrazzld/dispatch/internal/store"
	"github.com/phrazzld/dispatch/internal/task"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, task.ErrHandlerNotRegistered),
		errors.Is(err, domain.ErrPayloadValueInvalid),
		errors.Is(err, domain.ErrTaskPriorityInvalid),
		errors.Is(err, domain.ErrTaskNameEmpty):
		return http.StatusBadRequest

	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		return "Task not found"

	case errors.Is(err, task.ErrHandlerNotRegistered):
		return "No handler is registered for that task name"

	case errors.Is(err, domain.ErrPayloadValueInvalid):
		return "Task arguments must be JSON-serializable"

	case errors.Is(err, domain.ErrTaskPriorityInvalid):
		return "Unknown task priority"

	case errors.Is(err, domain.ErrTaskNameEmpty):
		return "Task name is required"

	case errors.Is(err, store.ErrDuplicate):
		return "Task already exists"

	default:
		return "An unexpected error occurred"
	}
}
