package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/clefnote/clefnote-api/internal/queue"
	"github.com/clefnote/clefnote-api/internal/store"
	"github.com/clefnote/clefnote-api/internal/task"
)

// ProcessorConfig holds configuration for the background processor.
type ProcessorConfig struct {
	// Concurrency determines how many jobs execute in parallel.
	Concurrency int

	// Queues maps queue names to their relative priorities.
	Queues map[string]int
}

// DefaultProcessorConfig returns a ProcessorConfig with reasonable defaults:
// root tasks on the high-priority queue preempt batch sub-tasks.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		Concurrency: 4,
		Queues: map[string]int{
			queue.QueueHigh:    3,
			queue.QueueDefault: 1,
		},
	}
}

// Processor runs the asynq server and keeps the durable task store in step
// with job execution through its lifecycle middleware.
type Processor struct {
	server *asynq.Server
	store  task.Store
	logger *slog.Logger
}

// NewProcessor creates a Processor on the given Redis connection.
func NewProcessor(
	redisOpt asynq.RedisConnOpt,
	taskStore task.Store,
	cfg ProcessorConfig,
	logger *slog.Logger,
) *Processor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultProcessorConfig().Concurrency
	}
	if cfg.Queues == nil {
		cfg.Queues = DefaultProcessorConfig().Queues
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      cfg.Queues,
	})
	return &Processor{server: server, store: taskStore, logger: logger}
}

// lifecycleMiddleware brackets every handler invocation with durable store
// writes: STARTED on entry, FAILURE on error. Success writes are left to the
// handlers themselves, which know their final summary. A task already
// REVOKED in the store is skipped without executing: cancellation may have
// landed while the job sat queued.
func (p *Processor) lifecycleMiddleware(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		taskID, ok := asynq.GetTaskID(ctx)
		if !ok {
			return next.ProcessTask(ctx, t)
		}
		log := p.logger.With("task_id", taskID, "task_type", t.Type())

		rec, err := p.store.Get(ctx, taskID)
		if err != nil && !errors.Is(err, store.ErrTaskNotFound) {
			return fmt.Errorf("failed to load task record for %s: %w", taskID, err)
		}
		if rec != nil && rec.Status == task.StatusRevoked {
			log.Info("skipping execution of revoked task")
			return nil
		}

		params := task.UpsertParams{
			TaskID:   taskID,
			TaskType: t.Type(),
			Status:   task.StatusStarted,
			Progress: 0,
		}
		if rec != nil {
			params.ParentTaskID = rec.ParentTaskID
			params.SubTypeIdentifier = rec.SubTypeIdentifier
		}
		if err := p.store.Upsert(ctx, params); err != nil {
			log.Error("failed to mark task started", "error", err)
		}

		err = next.ProcessTask(ctx, t)
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) {
			// A cooperative stop: the canceller already wrote REVOKED,
			// overwriting it with FAILURE would corrupt the audit trail.
			log.Info("task execution interrupted by stop signal")
			return err
		}

		failDetails := task.NewDetails()
		failDetails.StatusMessage = err.Error()
		failParams := params
		failParams.Status = task.StatusFailure
		failParams.Details = failDetails
		if updateErr := p.store.Upsert(ctx, failParams); updateErr != nil {
			log.Error("failed to mark task failed", "error", updateErr)
		}
		return err
	})
}

// Start runs the server with the provided handler registrations, wrapped in
// the lifecycle middleware. Blocks until Shutdown.
func (p *Processor) Start(mux *asynq.ServeMux) error {
	if mux == nil {
		mux = asynq.NewServeMux()
	}
	return p.server.Run(p.lifecycleMiddleware(mux))
}

// Shutdown gracefully stops the server.
func (p *Processor) Shutdown() {
	p.server.Shutdown()
}
