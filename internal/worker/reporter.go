package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clefnote/clefnote-api/internal/queue"
	"github.com/clefnote/clefnote-api/internal/task"
)

// Reporter is what executing handlers use to publish progress: one call
// writes both the durable store row and the live engine-side metadata the
// status reconciler merges for in-flight tasks.
type Reporter struct {
	store task.Store
	meta  *queue.MetaStore
}

// NewReporter creates a Reporter.
func NewReporter(store task.Store, meta *queue.MetaStore) *Reporter {
	return &Reporter{store: store, meta: meta}
}

// Progress records an in-flight update for the task. The durable write is
// authoritative and its failure is surfaced; the live metadata write is
// best-effort freshness on top.
func (r *Reporter) Progress(
	ctx context.Context,
	rec *task.Record,
	message string,
	progress int,
	details *task.Details,
) error {
	if details == nil {
		details = task.NewDetails()
	}
	details.StatusMessage = message

	err := r.store.Upsert(ctx, task.UpsertParams{
		TaskID:            rec.TaskID,
		TaskType:          rec.TaskType,
		Status:            task.StatusProgress,
		ParentTaskID:      rec.ParentTaskID,
		SubTypeIdentifier: rec.SubTypeIdentifier,
		Progress:          progress,
		Details:           details,
	})
	if err != nil {
		return fmt.Errorf("failed to persist progress for %s: %w", rec.TaskID, err)
	}

	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to encode live details for %s: %w", rec.TaskID, err)
	}
	return r.meta.Write(ctx, rec.TaskID, queue.Meta{
		StatusMessage: message,
		Progress:      progress,
		DetailsJSON:   string(detailsJSON),
	})
}

// Succeed records the terminal SUCCESS state with the handler's final
// summary.
func (r *Reporter) Succeed(ctx context.Context, rec *task.Record, summary string, details *task.Details) error {
	if details == nil {
		details = task.NewDetails()
	}
	details.StatusMessage = summary

	err := r.store.Upsert(ctx, task.UpsertParams{
		TaskID:            rec.TaskID,
		TaskType:          rec.TaskType,
		Status:            task.StatusSuccess,
		ParentTaskID:      rec.ParentTaskID,
		SubTypeIdentifier: rec.SubTypeIdentifier,
		Progress:          100,
		Details:           details,
	})
	if err != nil {
		return fmt.Errorf("failed to persist success for %s: %w", rec.TaskID, err)
	}

	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to encode live details for %s: %w", rec.TaskID, err)
	}
	return r.meta.Write(ctx, rec.TaskID, queue.Meta{
		StatusMessage: summary,
		Progress:      100,
		DetailsJSON:   string(detailsJSON),
	})
}
