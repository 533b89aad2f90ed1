// Package notifier carries cross-process index-reload signaling: any process
// that rebuilds the shared similarity index publishes one signal on a fixed
// pub/sub channel, and every process holding a queryable in-memory copy
// reloads independently and asynchronously.
package notifier

import (
	"context"
	"sync"
	"sync/atomic"
)

// Handle holds a process's queryable copy of a reloadable resource behind an
// atomically swapped pointer. Readers take a snapshot reference and never
// block on a reload; a reload builds the replacement off to the side and
// swaps it in on completion. Rapid reloads race benignly: the last reload to
// complete wins in memory.
type Handle[T any] struct {
	current atomic.Pointer[T]
	load    func(ctx context.Context, force bool) (*T, error)

	// mu serializes reloads so two concurrent signals cannot interleave
	// their load work.
	mu sync.Mutex
}

// NewHandle creates a Handle with the given loader. The handle starts empty;
// call Reload to populate it.
func NewHandle[T any](load func(ctx context.Context, force bool) (*T, error)) *Handle[T] {
	return &Handle[T]{load: load}
}

// Snapshot returns the current value, or nil when nothing has been loaded
// yet. The returned value is immutable from the handle's point of view and
// stays valid even while a reload swaps in a newer one.
func (h *Handle[T]) Snapshot() *T {
	return h.current.Load()
}

// Reload runs the loader and swaps the result in. Safe to call concurrently
// with in-flight Snapshot readers and idempotent when invoked twice in quick
// succession.
func (h *Handle[T]) Reload(ctx context.Context, force bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	next, err := h.load(ctx, force)
	if err != nil {
		return err
	}
	h.current.Store(next)
	return nil
}
