package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

// ErrJobNotFound is returned when the engine has no record of a job.
// Engine-side garbage collection removes finished jobs independently of the
// durable task store, so this is an expected, non-error condition whenever
// the store still has the corresponding record.
var ErrJobNotFound = errors.New("job not found in queue engine")

// JobState is the engine's own view of a job's lifecycle.
type JobState string

// Engine job states.
const (
	JobStateQueued   JobState = "queued"
	JobStateStarted  JobState = "started"
	JobStateFinished JobState = "finished"
	JobStateFailed   JobState = "failed"
	JobStateCanceled JobState = "canceled"
)

// IsTerminal reports whether the engine considers the state final.
func (s JobState) IsTerminal() bool {
	return s == JobStateFinished || s == JobStateFailed || s == JobStateCanceled
}

// Job is the ephemeral engine-side view of a unit of work, keyed by the same
// id as the durable task record.
type Job struct {
	ID    string
	State JobState
	Meta  Meta
}

// Engine is the narrow contract this system consumes from the job-execution
// engine. Implementations must be safe for concurrent use.
type Engine interface {
	// Fetch returns the engine's live view of a job.
	// Returns ErrJobNotFound when the engine no longer knows the id.
	Fetch(ctx context.Context, jobID string) (*Job, error)

	// Stop signals a running job to halt. The stop is cooperative: the
	// executing worker observes its context being canceled and exits.
	Stop(ctx context.Context, jobID string) error

	// Cancel removes a queued-but-not-started job from the engine.
	Cancel(ctx context.Context, jobID string) error
}

// AsynqEngine implements Engine on top of an asynq.Inspector plus a MetaStore
// for the live metadata workers publish while executing.
type AsynqEngine struct {
	inspector *asynq.Inspector
	meta      *MetaStore
	queues    []string
	logger    *slog.Logger
}

// NewAsynqEngine creates an AsynqEngine that looks for jobs across the given
// queues (in order). An empty queue list defaults to the two queues work is
// enqueued on.
func NewAsynqEngine(
	inspector *asynq.Inspector,
	meta *MetaStore,
	queues []string,
	logger *slog.Logger,
) *AsynqEngine {
	if len(queues) == 0 {
		queues = []string{QueueHigh, QueueDefault}
	}
	return &AsynqEngine{
		inspector: inspector,
		meta:      meta,
		queues:    queues,
		logger:    logger,
	}
}

// Fetch looks the job up in each configured queue and maps the asynq task
// state onto the engine contract's states. A job deleted through Cancel is
// reported as canceled for as long as its tombstone lives.
func (e *AsynqEngine) Fetch(ctx context.Context, jobID string) (*Job, error) {
	for _, q := range e.queues {
		info, err := e.inspector.GetTaskInfo(q, jobID)
		if err != nil {
			if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to fetch job %s from queue %s: %w", jobID, q, err)
		}

		job := &Job{ID: jobID, State: mapTaskState(info.State)}
		if e.meta != nil {
			meta, metaErr := e.meta.Read(ctx, jobID)
			if metaErr != nil {
				e.logger.Warn("failed to read live job metadata",
					"job_id", jobID,
					"error", metaErr)
			} else if meta != nil {
				job.Meta = *meta
			}
		}
		return job, nil
	}

	if e.meta != nil {
		canceled, err := e.meta.WasCanceled(ctx, jobID)
		if err != nil {
			e.logger.Warn("failed to check cancellation tombstone",
				"job_id", jobID,
				"error", err)
		} else if canceled {
			return &Job{ID: jobID, State: JobStateCanceled}, nil
		}
	}

	return nil, ErrJobNotFound
}

// Stop asks asynq to cancel the processing context of an active job.
// The worker is responsible for observing the cancellation and exiting.
func (e *AsynqEngine) Stop(ctx context.Context, jobID string) error {
	if err := e.inspector.CancelProcessing(jobID); err != nil {
		return fmt.Errorf("failed to send stop command for job %s: %w", jobID, err)
	}
	return nil
}

// Cancel deletes a queued job from whichever queue holds it and leaves a
// tombstone so later Fetch calls report the job as canceled rather than gone.
func (e *AsynqEngine) Cancel(ctx context.Context, jobID string) error {
	var lastErr error
	for _, q := range e.queues {
		err := e.inspector.DeleteTask(q, jobID)
		if err == nil {
			if e.meta != nil {
				if tombErr := e.meta.MarkCanceled(ctx, jobID); tombErr != nil {
					e.logger.Warn("failed to record cancellation tombstone",
						"job_id", jobID,
						"error", tombErr)
				}
			}
			return nil
		}
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			continue
		}
		lastErr = err
	}
	if lastErr != nil {
		return fmt.Errorf("failed to cancel job %s: %w", jobID, lastErr)
	}
	return ErrJobNotFound
}

// mapTaskState maps asynq's task states onto the engine contract's states.
func mapTaskState(s asynq.TaskState) JobState {
	switch s {
	case asynq.TaskStateActive:
		return JobStateStarted
	case asynq.TaskStateCompleted:
		return JobStateFinished
	case asynq.TaskStateArchived:
		return JobStateFailed
	default:
		// pending, scheduled, retry, aggregating: queued but not executing
		return JobStateQueued
	}
}
