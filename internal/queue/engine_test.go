package queue

import (
	"context"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineHarness struct {
	engine *AsynqEngine
	client *asynq.Client
	meta   *MetaStore
}

func newEngineHarness(t *testing.T) *engineHarness {
	t.Helper()
	mr := miniredis.RunT(t)

	connOpt := asynq.RedisClientOpt{Addr: mr.Addr()}
	client := asynq.NewClient(connOpt)
	t.Cleanup(func() { _ = client.Close() })

	inspector := asynq.NewInspector(connOpt)
	t.Cleanup(func() { _ = inspector.Close() })

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	meta := NewMetaStore(rdb)

	return &engineHarness{
		engine: NewAsynqEngine(inspector, meta, nil, slog.Default()),
		client: client,
		meta:   meta,
	}
}

func (h *engineHarness) enqueue(t *testing.T, id, queueName string) {
	t.Helper()
	_, err := h.client.Enqueue(
		asynq.NewTask("test:job", nil),
		asynq.TaskID(id),
		asynq.Queue(queueName),
	)
	require.NoError(t, err)
}

func TestFetchQueuedJob(t *testing.T) {
	h := newEngineHarness(t)
	h.enqueue(t, "job-1", QueueDefault)

	job, err := h.engine.Fetch(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, JobStateQueued, job.State)
}

func TestFetchSearchesAllQueues(t *testing.T) {
	h := newEngineHarness(t)
	h.enqueue(t, "root-job", QueueHigh)
	h.enqueue(t, "child-job", QueueDefault)

	root, err := h.engine.Fetch(context.Background(), "root-job")
	require.NoError(t, err)
	assert.Equal(t, JobStateQueued, root.State)

	child, err := h.engine.Fetch(context.Background(), "child-job")
	require.NoError(t, err)
	assert.Equal(t, JobStateQueued, child.State)
}

func TestFetchAttachesLiveMeta(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	h.enqueue(t, "job-1", QueueDefault)

	require.NoError(t, h.meta.Write(ctx, "job-1", Meta{
		StatusMessage: "Working on it",
		Progress:      33,
	}))

	job, err := h.engine.Fetch(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "Working on it", job.Meta.StatusMessage)
	assert.Equal(t, 33, job.Meta.Progress)
}

func TestFetchUnknownJob(t *testing.T) {
	h := newEngineHarness(t)

	_, err := h.engine.Fetch(context.Background(), "no-such-job")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestCancelDeletesJobAndLeavesTombstone(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	h.enqueue(t, "job-1", QueueDefault)

	require.NoError(t, h.engine.Cancel(ctx, "job-1"))

	// The engine record is gone, but the tombstone keeps answering.
	job, err := h.engine.Fetch(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobStateCanceled, job.State)
}

func TestCancelUnknownJob(t *testing.T) {
	h := newEngineHarness(t)

	err := h.engine.Cancel(context.Background(), "no-such-job")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobStateTerminal(t *testing.T) {
	assert.False(t, JobStateQueued.IsTerminal())
	assert.False(t, JobStateStarted.IsTerminal())
	assert.True(t, JobStateFinished.IsTerminal())
	assert.True(t, JobStateFailed.IsTerminal())
	assert.True(t, JobStateCanceled.IsTerminal())
}
