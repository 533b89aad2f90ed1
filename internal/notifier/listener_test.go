package notifier

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestListenerReloadsOnSignal(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	var calls atomic.Int32
	l := NewListener(rdb, func(ctx context.Context, force bool) error {
		assert.True(t, force, "listener reloads always force a rebuild")
		calls.Add(1)
		return nil
	}, slog.Default())

	require.NoError(t, l.Start(ctx))
	defer func() { require.NoError(t, l.Close()) }()

	require.NoError(t, Publish(ctx, rdb))

	waitFor(t, func() bool { return calls.Load() == 1 },
		"reload was not invoked after a publish")
}

func TestListenerIgnoresUnknownPayload(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	var calls atomic.Int32
	l := NewListener(rdb, func(ctx context.Context, force bool) error {
		calls.Add(1)
		return nil
	}, slog.Default())

	require.NoError(t, l.Start(ctx))
	defer func() { require.NoError(t, l.Close()) }()

	require.NoError(t, rdb.Publish(ctx, Channel, "unexpected").Err())
	require.NoError(t, Publish(ctx, rdb))

	// The recognized signal still lands; the garbage one never does.
	waitFor(t, func() bool { return calls.Load() == 1 },
		"recognized signal after a garbage payload was not processed")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestListenerSurvivesReloadError(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	var calls atomic.Int32
	l := NewListener(rdb, func(ctx context.Context, force bool) error {
		if calls.Add(1) == 1 {
			return errors.New("index build failed")
		}
		return nil
	}, slog.Default())

	require.NoError(t, l.Start(ctx))
	defer func() { require.NoError(t, l.Close()) }()

	require.NoError(t, Publish(ctx, rdb))
	waitFor(t, func() bool { return calls.Load() == 1 }, "first reload did not run")

	require.NoError(t, Publish(ctx, rdb))
	waitFor(t, func() bool { return calls.Load() == 2 },
		"listener stopped consuming after a reload error")
}

func TestCloseBeforeStart(t *testing.T) {
	rdb := newTestRedis(t)
	l := NewListener(rdb, func(ctx context.Context, force bool) error { return nil }, slog.Default())
	require.NoError(t, l.Close())
}

func TestHandleSnapshotAndReload(t *testing.T) {
	type index struct{ generation int }

	gen := 0
	h := NewHandle(func(ctx context.Context, force bool) (*index, error) {
		gen++
		return &index{generation: gen}, nil
	})

	assert.Nil(t, h.Snapshot(), "handle starts empty")

	require.NoError(t, h.Reload(context.Background(), true))
	first := h.Snapshot()
	require.NotNil(t, first)
	assert.Equal(t, 1, first.generation)

	require.NoError(t, h.Reload(context.Background(), true))
	second := h.Snapshot()
	require.NotNil(t, second)
	assert.Equal(t, 2, second.generation)
	assert.Equal(t, 1, first.generation, "old snapshots stay valid after a swap")
}

func TestHandleReloadErrorKeepsCurrent(t *testing.T) {
	type index struct{ generation int }

	fail := false
	h := NewHandle(func(ctx context.Context, force bool) (*index, error) {
		if fail {
			return nil, errors.New("loader broke")
		}
		return &index{generation: 1}, nil
	})

	require.NoError(t, h.Reload(context.Background(), true))
	fail = true
	require.Error(t, h.Reload(context.Background(), true))

	snap := h.Snapshot()
	require.NotNil(t, snap, "a failed reload must not clear the live snapshot")
	assert.Equal(t, 1, snap.generation)
}
