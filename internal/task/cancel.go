package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/clefnote/clefnote-api/internal/queue"
	"github.com/clefnote/clefnote-api/internal/store"
)

// ChildCancelReason is the reason recorded on descendants revoked because an
// ancestor was cancelled.
const ChildCancelReason = "Cancelled due to parent task revocation."

// maxCancelDepth bounds the recursive tree walk. Real trees are a handful of
// levels deep (root, sub-task, batch item); anything deeper indicates
// corrupted parent links and is cut off rather than walked forever.
const maxCancelDepth = 32

// ErrCancelDepthExceeded is returned when the task tree is deeper than
// maxCancelDepth.
var ErrCancelDepthExceeded = errors.New("task tree exceeds maximum cancellation depth")

// Canceler revokes a task and its descendants: the durable store is marked
// REVOKED first, then the queue engine is asked to interrupt the job, then
// the walk descends into non-terminal children.
type Canceler struct {
	store  Store
	engine queue.Engine
	logger *slog.Logger
}

// NewCanceler creates a Canceler over the given store and engine.
func NewCanceler(store Store, engine queue.Engine, logger *slog.Logger) *Canceler {
	return &Canceler{store: store, engine: engine, logger: logger}
}

// Cancel revokes the task subtree rooted at taskID and returns the number of
// jobs for which an engine stop/cancel command was actually issued.
//
// Callers are responsible for rejecting cancellation of tasks whose stored
// status is already terminal; this routine re-applies its idempotent writes
// unconditionally.
func (c *Canceler) Cancel(ctx context.Context, taskID, reason string) (int, error) {
	return c.cancel(ctx, taskID, reason, 0)
}

// CancelByType revokes every non-terminal task of the given type together
// with its descendants. Returns the ids of the tasks cancelled directly and
// the total affected-job count.
func (c *Canceler) CancelByType(ctx context.Context, taskType string) ([]string, int, error) {
	records, err := c.store.ByTypeNonTerminal(ctx, taskType)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list non-terminal tasks of type %s: %w", taskType, err)
	}

	var cancelled []string
	total := 0
	for _, rec := range records {
		reason := fmt.Sprintf("Bulk cancellation for task type '%s' via API.", taskType)
		count, err := c.Cancel(ctx, rec.TaskID, reason)
		if err != nil {
			return cancelled, total, err
		}
		if count > 0 {
			cancelled = append(cancelled, rec.TaskID)
			total += count
		}
	}
	return cancelled, total, nil
}

func (c *Canceler) cancel(ctx context.Context, taskID, reason string, depth int) (int, error) {
	if depth > maxCancelDepth {
		return 0, fmt.Errorf("%w: %s at depth %d", ErrCancelDepthExceeded, taskID, depth)
	}

	log := c.logger.With("task_id", taskID)

	rec, err := c.store.Get(ctx, taskID)
	if err != nil {
		if !errors.Is(err, store.ErrTaskNotFound) {
			return 0, fmt.Errorf("failed to resolve task %s for cancellation: %w", taskID, err)
		}
		// Without a known task type the hierarchical bookkeeping cannot
		// proceed safely; degrade to a best-effort engine-only stop.
		log.Warn("task type unresolvable, degrading to engine-only stop")
		return c.bestEffortEngineStop(ctx, taskID), nil
	}

	// The REVOKED write is the primary outcome of cancellation and must not
	// depend on engine reachability.
	details := NewDetails()
	details.Extra["message"] = reason
	err = c.store.Upsert(ctx, UpsertParams{
		TaskID:            taskID,
		TaskType:          rec.TaskType,
		Status:            StatusRevoked,
		ParentTaskID:      rec.ParentTaskID,
		SubTypeIdentifier: rec.SubTypeIdentifier,
		Progress:          100,
		Details:           details,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to mark task %s revoked: %w", taskID, err)
	}

	count := 0
	if c.interruptEngineJob(ctx, taskID) {
		count++
	}

	children, err := c.store.Children(ctx, taskID)
	if err != nil {
		return count, fmt.Errorf("failed to list children of %s: %w", taskID, err)
	}
	for _, child := range children {
		if child.Status.IsTerminal() {
			continue
		}
		log.Info("recursively cancelling child task", "child_task_id", child.TaskID)
		childCount, err := c.cancel(ctx, child.TaskID, ChildCancelReason, depth+1)
		if err != nil {
			return count, err
		}
		count += childCount
	}

	return count, nil
}

// interruptEngineJob attempts to stop or cancel the engine's copy of the
// job. Returns true only when a command was actually issued. A job the
// engine no longer knows is a normal, silent outcome.
func (c *Canceler) interruptEngineJob(ctx context.Context, taskID string) bool {
	log := c.logger.With("task_id", taskID)

	job, err := c.engine.Fetch(ctx, taskID)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			log.Debug("job not found in queue engine, revoked in store only")
		} else {
			log.Error("error interacting with queue engine", "error", err)
		}
		return false
	}

	if job.State.IsTerminal() {
		log.Debug("job already in terminal engine state", "engine_state", job.State)
		return false
	}

	if job.State == queue.JobStateStarted {
		err = c.engine.Stop(ctx, taskID)
	} else {
		err = c.engine.Cancel(ctx, taskID)
	}
	if err != nil {
		log.Error("failed to send stop/cancel command", "error", err)
		return false
	}

	log.Info("sent stop/cancel command to queue engine", "engine_state", job.State)
	return true
}

// bestEffortEngineStop handles cancellation of a task with no store record:
// if the engine still has the job, a stop command is issued and counted.
func (c *Canceler) bestEffortEngineStop(ctx context.Context, taskID string) int {
	log := c.logger.With("task_id", taskID)

	if _, err := c.engine.Fetch(ctx, taskID); err != nil {
		if !errors.Is(err, queue.ErrJobNotFound) {
			log.Error("error fetching job from queue engine", "error", err)
		}
		return 0
	}
	if err := c.engine.Stop(ctx, taskID); err != nil {
		log.Error("failed to send stop command", "error", err)
		return 0
	}
	log.Info("stop command sent for job with unknown task type")
	return 1
}
