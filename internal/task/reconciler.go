package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/clefnote/clefnote-api/internal/queue"
	"github.com/clefnote/clefnote-api/internal/store"
)

// ErrTaskUnknown is returned by Reconciler.Status when neither the queue
// engine nor the durable store has any record of the task id.
var ErrTaskUnknown = errors.New("task not found in queue engine or store")

// View states that do not come from the durable store's status set.
const (
	StateCanceled = "CANCELED"
	StateUnknown  = "UNKNOWN"
)

// Internal-only detail keys redacted before a view leaves the system.
var redactedDetailKeys = []string{"checked_album_ids", "clustering_run_job_ids"}

// View is the externally consumed merged status of a task: the queue
// engine's live view reconciled with the durable store's persisted view.
type View struct {
	TaskID             string   `json:"task_id"`
	State              string   `json:"state"`
	StatusMessage      string   `json:"status_message"`
	Progress           int      `json:"progress"`
	Details            *Details `json:"details"`
	TaskTypeFromDB     *string  `json:"task_type_from_db"`
	RunningTimeSeconds float64  `json:"running_time_seconds"`
}

// Reconciler merges the two non-transactional sources of truth into one
// consistent status object. It is read-only: no engine or store mutation.
type Reconciler struct {
	store  Store
	engine queue.Engine
	logger *slog.Logger
}

// NewReconciler creates a Reconciler over the given store and engine.
func NewReconciler(store Store, engine queue.Engine, logger *slog.Logger) *Reconciler {
	return &Reconciler{store: store, engine: engine, logger: logger}
}

// Status produces the merged status view for a task id.
//
// Precedence order: the engine's live state seeds the view; terminal engine
// states map to SUCCESS/FAILURE/CANCELED with progress forced to 100; when
// the engine no longer knows the job the store alone answers; the store's
// status wins over a non-terminal engine state and its progress always wins;
// details merge store-then-engine with live keys winning; a REVOKED store
// row overrides everything, because cancellation may race execution and the
// engine cannot be trusted to reflect it promptly.
func (r *Reconciler) Status(ctx context.Context, taskID string) (*View, error) {
	view := &View{
		TaskID:        taskID,
		State:         StateUnknown,
		StatusMessage: "Task ID not found in queue engine or DB.",
	}

	var (
		engineDetails  *Details
		engineTerminal bool
		engineFound    bool
	)

	job, err := r.engine.Fetch(ctx, taskID)
	switch {
	case err == nil:
		engineFound = true
		view.State = string(job.State)
		view.StatusMessage = job.Meta.StatusMessage
		if view.StatusMessage == "" {
			view.StatusMessage = string(job.State)
		}
		view.Progress = job.Meta.Progress
		engineDetails = ParseDetails(job.Meta.DetailsJSON)

		switch job.State {
		case queue.JobStateFinished:
			view.State = string(StatusSuccess)
			view.StatusMessage = string(StatusSuccess)
			view.Progress = 100
			engineTerminal = true
		case queue.JobStateFailed:
			view.State = string(StatusFailure)
			view.StatusMessage = "FAILED"
			view.Progress = 100
			engineTerminal = true
		case queue.JobStateCanceled:
			view.State = StateCanceled
			view.StatusMessage = StateCanceled
			view.Progress = 100
			engineTerminal = true
		}
	case errors.Is(err, queue.ErrJobNotFound):
		// Expected once the engine purges old jobs; the store answers alone.
	default:
		// A degraded engine must not take the status path down with it.
		r.logger.Warn("queue engine lookup failed during status reconciliation",
			"task_id", taskID,
			"error", err)
	}

	rec, err := r.store.Get(ctx, taskID)
	switch {
	case err == nil:
		view.TaskTypeFromDB = &rec.TaskType
		view.RunningTimeSeconds = rec.RunningTimeSeconds(time.Now())

		// The store may have information the engine already discarded.
		if !engineTerminal {
			view.State = string(rec.Status)
			if !engineFound {
				if rec.Details != nil && rec.Details.StatusMessage != "" {
					view.StatusMessage = rec.Details.StatusMessage
				} else {
					view.StatusMessage = string(rec.Status)
				}
			}
		}
		view.Progress = rec.Progress

		view.Details = MergeDetails(rec.Details, engineDetails)

		if rec.Status == StatusRevoked {
			view.State = string(StatusRevoked)
			view.StatusMessage = "Task revoked."
			view.Progress = 100
		}
	case errors.Is(err, store.ErrTaskNotFound):
		if !engineFound {
			return nil, ErrTaskUnknown
		}
		view.Details = engineDetails
	default:
		return nil, fmt.Errorf("failed to load task %s from store: %w", taskID, err)
	}

	redactView(view)
	return view, nil
}

// redactView strips internal-only detail keys and collapses oversized logs
// before the view is handed to the transport layer.
func redactView(v *View) {
	if v.Details == nil {
		return
	}
	if v.TaskTypeFromDB != nil && strings.Contains(*v.TaskTypeFromDB, "analysis") {
		delete(v.Details.Extra, "checked_album_ids")
	}
	v.Details.Log = CollapseLog(v.Details.Log)
}

// RedactInternalKeys removes every internal bookkeeping key from a details
// envelope. Used by read paths that expose whole records rather than views.
func RedactInternalKeys(d *Details) {
	if d == nil {
		return
	}
	for _, k := range redactedDetailKeys {
		delete(d.Extra, k)
	}
}
