package notifier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Channel is the fixed pub/sub channel index-reload signals travel on.
const Channel = "index-updates"

// ReloadSignal is the only recognized payload. Anything else is logged and
// ignored.
const ReloadSignal = "reload"

// ReloadFunc is the external reload-index hook the listener invokes on
// receipt of a signal. It must be safe to call concurrently with in-flight
// index queries and idempotent when invoked twice in quick succession.
type ReloadFunc func(ctx context.Context, force bool) error

// Listener is a single long-lived subscriber, started once at process
// startup. It blocks in a receive loop on its own goroutine and wakes only
// on inbound pub/sub messages; delivery is at-most-once per subscriber with
// no ordering guarantee across rapid reloads.
type Listener struct {
	rdb    redis.UniversalClient
	reload ReloadFunc
	logger *slog.Logger

	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

// NewListener creates a Listener. Call Start to begin consuming.
func NewListener(rdb redis.UniversalClient, reload ReloadFunc, logger *slog.Logger) *Listener {
	return &Listener{
		rdb:    rdb,
		reload: reload,
		logger: logger,
	}
}

// Start subscribes to the reload channel and launches the receive loop.
// It returns once the subscription is confirmed, so a signal published after
// Start returns will be observed.
func (l *Listener) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())

	pubsub := l.rdb.Subscribe(runCtx, Channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", Channel, err)
	}

	l.pubsub = pubsub
	l.cancel = cancel
	l.done = make(chan struct{})

	l.logger.Info("listening for index reload signals", "channel", Channel)

	go l.run(runCtx)
	return nil
}

func (l *Listener) run(ctx context.Context) {
	defer close(l.done)

	ch := l.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			l.handle(ctx, msg.Payload)
		}
	}
}

func (l *Listener) handle(ctx context.Context, payload string) {
	l.logger.Info("received message on index update channel", "payload", payload)

	if payload != ReloadSignal {
		l.logger.Warn("ignoring unrecognized index update payload", "payload", payload)
		return
	}

	if err := l.reload(ctx, true); err != nil {
		l.logger.Error("failed to reload index from background listener", "error", err)
		return
	}
	l.logger.Info("in-memory index reloaded by background listener")
}

// Close tears down the subscription and waits for the receive loop to exit.
func (l *Listener) Close() error {
	if l.cancel == nil {
		return nil
	}
	l.cancel()
	err := l.pubsub.Close()
	<-l.done
	return err
}

// Publish announces an index rebuild to every subscribed process. There is
// no acknowledgment; subscribers reload on their own schedule.
func Publish(ctx context.Context, rdb redis.UniversalClient) error {
	if err := rdb.Publish(ctx, Channel, ReloadSignal).Err(); err != nil {
		return fmt.Errorf("failed to publish index reload signal: %w", err)
	}
	return nil
}
