package api

import (
	"errors"
	"net/http"

	"github.com/clefnote/clefnote-api/internal/store"
	"github.com/clefnote/clefnote-api/internal/task"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, task.ErrTaskUnknown),
		errors.Is(err, store.ErrTaskNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	// Bad request errors
	case errors.Is(err, task.ErrCancelDepthExceeded):
		return http.StatusBadRequest

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetUserFriendlyMessage returns a message safe to show to API clients for
// the given error. Internal details stay in the logs.
func GetUserFriendlyMessage(err error, fallback string) string {
	switch {
	case errors.Is(err, task.ErrTaskUnknown),
		errors.Is(err, store.ErrTaskNotFound),
		errors.Is(err, store.ErrNotFound):
		return "Task not found"
	case errors.Is(err, task.ErrCancelDepthExceeded):
		return "Task tree too deep to cancel"
	default:
		if fallback != "" {
			return fallback
		}
		return "An internal error occurred"
	}
}
