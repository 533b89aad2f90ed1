// Package worker wires units of work into the queue engine: an enqueue
// client that records the durable task row before handing the job to asynq,
// and a processor whose lifecycle middleware keeps the row in step with
// execution.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/clefnote/clefnote-api/internal/queue"
	"github.com/clefnote/clefnote-api/internal/task"
)

// Client enqueues tasks, creating the durable PENDING record first so the
// store never lags behind the engine at creation time.
type Client struct {
	client *asynq.Client
	store  task.Store
	logger *slog.Logger
}

// NewClient creates a Client on the given Redis connection.
func NewClient(redisOpt asynq.RedisConnOpt, store task.Store, logger *slog.Logger) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		store:  store,
		logger: logger,
	}
}

// EnqueueRoot starts a new top-level run: prior root tasks are archived
// first (stale runs from a dead process included), then the PENDING record
// is written and the job enqueued on the high-priority queue.
// Returns the new task id.
func (c *Client) EnqueueRoot(ctx context.Context, taskType string, payload any) (string, error) {
	archived, err := c.store.ArchiveStaleRoots(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to archive previous root tasks: %w", err)
	}
	if archived > 0 {
		c.logger.Info("archived previous root tasks", "count", archived)
	}

	return c.enqueue(ctx, taskType, payload, nil, nil, queue.QueueHigh)
}

// EnqueueChild enqueues a sub-task of an existing task on the default queue.
// subTypeIdentifier distinguishes siblings (e.g. which batch); it may be
// empty.
func (c *Client) EnqueueChild(
	ctx context.Context,
	parentTaskID, taskType, subTypeIdentifier string,
	payload any,
) (string, error) {
	var subType *string
	if subTypeIdentifier != "" {
		subType = &subTypeIdentifier
	}
	return c.enqueue(ctx, taskType, payload, &parentTaskID, subType, queue.QueueDefault)
}

func (c *Client) enqueue(
	ctx context.Context,
	taskType string,
	payload any,
	parentTaskID, subTypeIdentifier *string,
	queueName string,
) (string, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload for %s: %w", taskType, err)
	}

	taskID := uuid.NewString()

	details := task.NewDetails()
	details.StatusMessage = "Task queued."
	err = c.store.Upsert(ctx, task.UpsertParams{
		TaskID:            taskID,
		TaskType:          taskType,
		Status:            task.StatusPending,
		ParentTaskID:      parentTaskID,
		SubTypeIdentifier: subTypeIdentifier,
		Progress:          0,
		Details:           details,
	})
	if err != nil {
		return "", fmt.Errorf("failed to record pending task: %w", err)
	}

	// The engine job shares the durable record's id; that id is the only
	// join key between the two systems.
	t := asynq.NewTask(taskType, payloadBytes)
	_, err = c.client.EnqueueContext(ctx, t,
		asynq.TaskID(taskID),
		asynq.Queue(queueName),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue task %s: %w", taskID, err)
	}

	c.logger.Info("task enqueued",
		"task_id", taskID,
		"task_type", taskType,
		"queue", queueName)
	return taskID, nil
}

// Close releases the underlying asynq client.
func (c *Client) Close() error {
	return c.client.Close()
}
