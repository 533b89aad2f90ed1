package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue names. Root tasks go to the high-priority queue so a long backlog of
// batch sub-tasks cannot starve a newly requested run.
const (
	QueueHigh    = "high"
	QueueDefault = "default"
)

const (
	metaKeyPrefix        = "task:meta:"
	canceledKeyPrefix    = "task:canceled:"
	metaFieldMessage     = "status_message"
	metaFieldProgress    = "progress"
	metaFieldDetails     = "details"
	metaTTL              = 7 * 24 * time.Hour
	canceledTombstoneTTL = 24 * time.Hour
)

// Meta is the free-form live metadata an executing worker publishes for a
// job: a human-readable status message, a progress percentage, and a JSON
// details document. It lives in Redis next to the engine's own job state and
// vanishes with it.
type Meta struct {
	StatusMessage string
	Progress      int
	DetailsJSON   string
}

// MetaStore reads and writes live job metadata in Redis.
type MetaStore struct {
	rdb redis.UniversalClient
}

// NewMetaStore creates a MetaStore on the given Redis client.
func NewMetaStore(rdb redis.UniversalClient) *MetaStore {
	return &MetaStore{rdb: rdb}
}

// Write publishes the worker's current metadata for a job. Entries expire on
// their own so metadata cannot outlive the engine's interest in the job by
// much.
func (m *MetaStore) Write(ctx context.Context, jobID string, meta Meta) error {
	key := metaKeyPrefix + jobID
	fields := map[string]any{
		metaFieldMessage:  meta.StatusMessage,
		metaFieldProgress: meta.Progress,
	}
	if meta.DetailsJSON != "" {
		fields[metaFieldDetails] = meta.DetailsJSON
	}
	if err := m.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("failed to write job metadata for %s: %w", jobID, err)
	}
	if err := m.rdb.Expire(ctx, key, metaTTL).Err(); err != nil {
		return fmt.Errorf("failed to set metadata TTL for %s: %w", jobID, err)
	}
	return nil
}

// Read returns the live metadata for a job, or nil when none was published.
func (m *MetaStore) Read(ctx context.Context, jobID string) (*Meta, error) {
	values, err := m.rdb.HGetAll(ctx, metaKeyPrefix+jobID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read job metadata for %s: %w", jobID, err)
	}
	if len(values) == 0 {
		return nil, nil
	}
	meta := &Meta{
		StatusMessage: values[metaFieldMessage],
		DetailsJSON:   values[metaFieldDetails],
	}
	if raw, ok := values[metaFieldProgress]; ok {
		if p, convErr := strconv.Atoi(raw); convErr == nil {
			meta.Progress = p
		}
	}
	return meta, nil
}

// MarkCanceled leaves a short-lived tombstone for a job deleted from the
// engine, so status queries can distinguish "canceled" from "never existed".
func (m *MetaStore) MarkCanceled(ctx context.Context, jobID string) error {
	err := m.rdb.Set(ctx, canceledKeyPrefix+jobID, "1", canceledTombstoneTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to mark job %s canceled: %w", jobID, err)
	}
	return nil
}

// WasCanceled reports whether a cancellation tombstone exists for the job.
func (m *MetaStore) WasCanceled(ctx context.Context, jobID string) (bool, error) {
	n, err := m.rdb.Exists(ctx, canceledKeyPrefix+jobID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check cancellation for job %s: %w", jobID, err)
	}
	return n > 0, nil
}
