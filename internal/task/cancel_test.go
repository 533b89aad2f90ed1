package task

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clefnote/clefnote-api/internal/queue"
)

func TestCancelRunningTaskStopsEngineJob(t *testing.T) {
	fs := newFakeStore(&Record{TaskID: "root", TaskType: TypeMainAnalysis, Status: StatusStarted})
	engine := newFakeEngine(&queue.Job{ID: "root", State: queue.JobStateStarted})
	c := NewCanceler(fs, engine, testLogger())

	count, err := c.Cancel(context.Background(), "root", "user requested")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{"root"}, engine.stopped)
	assert.Empty(t, engine.cancelled)
	assert.Equal(t, StatusRevoked, fs.statusOf("root"))

	require.Len(t, fs.upserts, 1)
	up := fs.upserts[0]
	assert.Equal(t, StatusRevoked, up.Status)
	assert.Equal(t, 100, up.Progress)
	require.NotNil(t, up.Details)
	assert.Equal(t, "user requested", up.Details.Extra["message"])
}

func TestCancelQueuedTaskRemovesEngineJob(t *testing.T) {
	fs := newFakeStore(&Record{TaskID: "root", TaskType: TypeMainAnalysis, Status: StatusPending})
	engine := newFakeEngine(&queue.Job{ID: "root", State: queue.JobStateQueued})
	c := NewCanceler(fs, engine, testLogger())

	count, err := c.Cancel(context.Background(), "root", "user requested")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{"root"}, engine.cancelled)
	assert.Empty(t, engine.stopped)
}

func TestCancelTreeCountsOnlyEngineCommands(t *testing.T) {
	root := "root"
	childRunning := "child-running"
	fs := newFakeStore(
		&Record{TaskID: root, TaskType: TypeMainAnalysis, Status: StatusStarted},
		&Record{TaskID: childRunning, ParentTaskID: &root, TaskType: TypeAlbumAnalysis, Status: StatusStarted},
		&Record{TaskID: "child-queued", ParentTaskID: &root, TaskType: TypeAlbumAnalysis, Status: StatusPending},
		&Record{TaskID: "child-done", ParentTaskID: &root, TaskType: TypeAlbumAnalysis, Status: StatusSuccess},
		&Record{TaskID: "grandchild", ParentTaskID: &childRunning, TaskType: TypeClusteringBatch, Status: StatusProgress},
	)
	engine := newFakeEngine(
		&queue.Job{ID: root, State: queue.JobStateStarted},
		&queue.Job{ID: childRunning, State: queue.JobStateStarted},
		&queue.Job{ID: "child-queued", State: queue.JobStateQueued},
		// grandchild already evicted from the engine
	)
	c := NewCanceler(fs, engine, testLogger())

	count, err := c.Cancel(context.Background(), root, "user requested")
	require.NoError(t, err)
	assert.Equal(t, 3, count, "only issued engine commands are counted")

	assert.ElementsMatch(t, []string{root, childRunning}, engine.stopped)
	assert.ElementsMatch(t, []string{"child-queued"}, engine.cancelled)

	for _, id := range []string{root, childRunning, "child-queued", "grandchild"} {
		assert.Equal(t, StatusRevoked, fs.statusOf(id), "task %s should be revoked", id)
	}
	assert.Equal(t, StatusSuccess, fs.statusOf("child-done"), "terminal children are left alone")

	// Descendants carry the parent-revocation reason, not the caller's.
	for _, up := range fs.upserts {
		if up.TaskID == root {
			assert.Equal(t, "user requested", up.Details.Extra["message"])
		} else {
			assert.Equal(t, ChildCancelReason, up.Details.Extra["message"])
		}
	}
}

func TestCancelWithoutStoreRecordDegradesToEngineStop(t *testing.T) {
	fs := newFakeStore()
	engine := newFakeEngine(&queue.Job{ID: "ghost", State: queue.JobStateStarted})
	c := NewCanceler(fs, engine, testLogger())

	count, err := c.Cancel(context.Background(), "ghost", "user requested")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{"ghost"}, engine.stopped)
	assert.Empty(t, fs.upserts, "no store writes without a known task type")
}

func TestCancelUnknownEverywhere(t *testing.T) {
	c := NewCanceler(newFakeStore(), newFakeEngine(), testLogger())

	count, err := c.Cancel(context.Background(), "nowhere", "user requested")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestCancelEngineTerminalJobNotCounted(t *testing.T) {
	fs := newFakeStore(&Record{TaskID: "root", TaskType: TypeMainAnalysis, Status: StatusStarted})
	engine := newFakeEngine(&queue.Job{ID: "root", State: queue.JobStateFinished})
	c := NewCanceler(fs, engine, testLogger())

	count, err := c.Cancel(context.Background(), "root", "user requested")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Empty(t, engine.stopped)
	assert.Equal(t, StatusRevoked, fs.statusOf("root"),
		"the durable record is revoked even when the engine is already done")
}

func TestCancelByType(t *testing.T) {
	fs := newFakeStore(
		&Record{TaskID: "run-a", TaskType: TypeMainAnalysis, Status: StatusStarted},
		&Record{TaskID: "run-b", TaskType: TypeMainAnalysis, Status: StatusPending},
		&Record{TaskID: "run-done", TaskType: TypeMainAnalysis, Status: StatusSuccess},
		&Record{TaskID: "other", TaskType: TypeMainClustering, Status: StatusStarted},
	)
	engine := newFakeEngine(
		&queue.Job{ID: "run-a", State: queue.JobStateStarted},
		// run-b already gone from the engine
		&queue.Job{ID: "other", State: queue.JobStateStarted},
	)
	c := NewCanceler(fs, engine, testLogger())

	cancelled, total, err := c.CancelByType(context.Background(), TypeMainAnalysis)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, []string{"run-a"}, cancelled,
		"only tasks with at least one issued engine command are reported")

	assert.Equal(t, StatusRevoked, fs.statusOf("run-a"))
	assert.Equal(t, StatusRevoked, fs.statusOf("run-b"))
	assert.Equal(t, StatusSuccess, fs.statusOf("run-done"))
	assert.Equal(t, StatusStarted, fs.statusOf("other"), "other task types are untouched")
}

func TestCancelDepthBound(t *testing.T) {
	var records []*Record
	prev := ""
	for i := 0; i < maxCancelDepth+5; i++ {
		id := fmt.Sprintf("node-%d", i)
		rec := &Record{TaskID: id, TaskType: TypeAlbumAnalysis, Status: StatusStarted}
		if prev != "" {
			parent := prev
			rec.ParentTaskID = &parent
		}
		records = append(records, rec)
		prev = id
	}
	fs := newFakeStore(records...)
	c := NewCanceler(fs, newFakeEngine(), testLogger())

	_, err := c.Cancel(context.Background(), "node-0", "user requested")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelDepthExceeded)
}
