package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clefnote/clefnote-api/internal/api/shared"
	"github.com/clefnote/clefnote-api/internal/platform/logger"
	"github.com/clefnote/clefnote-api/internal/store"
	"github.com/clefnote/clefnote-api/internal/task"
)

// TaskHandler serves the task status and cancellation endpoints. Reads go
// through the reconciler so clients always see the merged engine/store view;
// cancellations go through the canceler so the whole subtree is revoked.
type TaskHandler struct {
	store      task.Store
	reconciler *task.Reconciler
	canceler   *task.Canceler
	logger     *slog.Logger
	timeNow    func() time.Time
}

// NewTaskHandler creates a new TaskHandler with the given dependencies.
func NewTaskHandler(
	taskStore task.Store,
	reconciler *task.Reconciler,
	canceler *task.Canceler,
	log *slog.Logger,
) *TaskHandler {
	if log == nil {
		log = slog.Default()
	}
	return &TaskHandler{
		store:      taskStore,
		reconciler: reconciler,
		canceler:   canceler,
		logger:     log.With(slog.String("component", "task_handler")),
		timeNow:    time.Now,
	}
}

// RegisterRoutes mounts the task endpoints on the given router.
func (h *TaskHandler) RegisterRoutes(r chi.Router) {
	r.Get("/status/{taskID}", h.GetTaskStatus)
	r.Post("/cancel/{taskID}", h.CancelTask)
	r.Post("/cancel_all/{taskType}", h.CancelAllTasks)
	r.Get("/last_task", h.GetLastTask)
	r.Get("/active_tasks", h.GetActiveTasks)
}

// GetTaskStatus handles GET /api/status/{taskID}.
// It returns the reconciled view of a single task, merging the live queue
// state with the durable record.
func (h *TaskHandler) GetTaskStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContextOrDefault(ctx, h.logger)

	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Task ID is required")
		return
	}

	view, err := h.reconciler.Status(ctx, taskID)
	if err != nil {
		if errors.Is(err, task.ErrTaskUnknown) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
			return
		}
		log.Error("failed to reconcile task status",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()))
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err),
			GetUserFriendlyMessage(err, "Failed to retrieve task status"),
			err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, view)
}

// CancelTask handles POST /api/cancel/{taskID}.
// Cancellation is rejected for unknown tasks and for tasks already in a
// terminal state; otherwise the task and its descendants are revoked and the
// number of affected jobs is reported.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContextOrDefault(ctx, h.logger)

	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Task ID is required")
		return
	}

	rec, err := h.store.Get(ctx, taskID)
	if err != nil {
		if store.IsNotFoundError(err) {
			shared.RespondWithJSON(w, r, http.StatusNotFound, CancelTaskResponse{
				Message: fmt.Sprintf("Task %s not found in database.", taskID),
				TaskID:  taskID,
			})
			return
		}
		log.Error("failed to load task for cancellation",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()))
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to cancel task", err)
		return
	}

	if rec.Status.IsTerminal() {
		shared.RespondWithJSON(w, r, http.StatusBadRequest, CancelTaskResponse{
			Message: fmt.Sprintf(
				"Task %s is already in a terminal state (%s) and cannot be cancelled.",
				taskID, rec.Status),
			TaskID: taskID,
		})
		return
	}

	reason := fmt.Sprintf("Cancellation requested for task %s via API.", taskID)
	count, err := h.canceler.Cancel(ctx, taskID, reason)
	if err != nil {
		log.Error("cancellation failed",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()))
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err),
			GetUserFriendlyMessage(err, "Failed to cancel task"),
			err)
		return
	}

	if count > 0 {
		shared.RespondWithJSON(w, r, http.StatusOK, CancelTaskResponse{
			Message: fmt.Sprintf(
				"Task %s and its children cancellation initiated. %d total jobs affected.",
				taskID, count),
			TaskID:             taskID,
			CancelledJobsCount: count,
		})
		return
	}

	shared.RespondWithJSON(w, r, http.StatusBadRequest, CancelTaskResponse{
		Message: "Task could not be cancelled (e.g., already completed or not found in active state).",
		TaskID:  taskID,
	})
}

// CancelAllTasks handles POST /api/cancel_all/{taskType}.
// Every non-terminal root task of the given type is cancelled along with its
// descendants.
func (h *TaskHandler) CancelAllTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContextOrDefault(ctx, h.logger)

	taskType := chi.URLParam(r, "taskType")
	if taskType == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Task type is required")
		return
	}

	cancelledIDs, total, err := h.canceler.CancelByType(ctx, taskType)
	if err != nil {
		log.Error("bulk cancellation failed",
			slog.String("task_type", taskType),
			slog.String("error", err.Error()))
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err),
			GetUserFriendlyMessage(err, "Failed to cancel tasks"),
			err)
		return
	}

	if total > 0 {
		shared.RespondWithJSON(w, r, http.StatusOK, CancelAllResponse{
			Message: fmt.Sprintf(
				"Cancellation initiated for %d main tasks of type '%s' and their children. Total jobs affected: %d.",
				len(cancelledIDs), taskType, total),
			CancelledMainTasks: cancelledIDs,
		})
		return
	}

	shared.RespondWithJSON(w, r, http.StatusNotFound, CancelAllResponse{
		Message: fmt.Sprintf("No active tasks of type '%s' found to cancel.", taskType),
	})
}

// GetLastTask handles GET /api/last_task.
// It reports the most recent root task regardless of status, or a
// NO_PREVIOUS_MAIN_TASK placeholder when the store is empty.
func (h *TaskHandler) GetLastTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContextOrDefault(ctx, h.logger)

	rec, err := h.store.MostRecentRoot(ctx)
	if err != nil {
		if store.IsNotFoundError(err) {
			placeholder := RootTaskResponse{
				Status: StatusNoPreviousMainTask,
				Details: &task.Details{
					Log: []string{"No previous main task found."},
				},
			}
			shared.RespondWithJSON(w, r, http.StatusOK, placeholder)
			return
		}
		log.Error("failed to load last task", slog.String("error", err.Error()))
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to retrieve last task", err)
		return
	}

	resp := h.rootResponse(rec)
	if resp.Details != nil {
		resp.Details.Log = task.CollapseLog(resp.Details.Log)
	}

	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// GetActiveTasks handles GET /api/active_tasks.
// It reports the currently running root task with internal bookkeeping keys
// pruned from its details, or an empty object when nothing is active.
func (h *TaskHandler) GetActiveTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContextOrDefault(ctx, h.logger)

	rec, err := h.store.ActiveRoot(ctx)
	if err != nil {
		if store.IsNotFoundError(err) {
			shared.RespondWithJSON(w, r, http.StatusOK, struct{}{})
			return
		}
		log.Error("failed to load active task", slog.String("error", err.Error()))
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to retrieve active tasks", err)
		return
	}

	resp := h.rootResponse(rec)
	resp.ParentTaskID = rec.ParentTaskID
	resp.SubTypeIdentifier = rec.SubTypeIdentifier
	if resp.Details != nil {
		task.RedactInternalKeys(resp.Details)
		pruneInitialCentroids(resp.Details)
	}

	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// rootResponse converts a stored record into the wire shape shared by the
// last-task and active-tasks endpoints. Details are cloned so redaction
// never mutates the caller's record.
func (h *TaskHandler) rootResponse(rec *task.Record) RootTaskResponse {
	running := rec.RunningTimeSeconds(h.timeNow())
	progress := rec.Progress
	return RootTaskResponse{
		TaskID:             &rec.TaskID,
		TaskType:           &rec.TaskType,
		Status:             string(rec.Status),
		Progress:           &progress,
		Details:            rec.Details.Clone(),
		RunningTimeSeconds: &running,
	}
}

// pruneInitialCentroids drops the initial_centroids blob nested under the
// best clustering parameters. The blob can run to megabytes and is never
// useful to UI clients.
func pruneInitialCentroids(d *task.Details) {
	bestParams, ok := d.Extra["best_params"].(map[string]any)
	if !ok {
		return
	}
	methodConfig, ok := bestParams["clustering_method_config"].(map[string]any)
	if !ok {
		return
	}
	params, ok := methodConfig["params"].(map[string]any)
	if !ok {
		return
	}
	delete(params, "initial_centroids")
}
