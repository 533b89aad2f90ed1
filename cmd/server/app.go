package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/clefnote/clefnote-api/internal/config"
	"github.com/clefnote/clefnote-api/internal/notifier"
	"github.com/clefnote/clefnote-api/internal/platform/postgres"
	"github.com/clefnote/clefnote-api/internal/queue"
	"github.com/clefnote/clefnote-api/internal/store"
	"github.com/clefnote/clefnote-api/internal/task"
	"github.com/clefnote/clefnote-api/internal/worker"
)

// indexSnapshot is the reload notifier's unit of work: a point-in-time view
// of the most recent completed analysis run. Worker processes publish on the
// index-updates channel after rebuilding the similarity index; the server
// swaps in a fresh snapshot without restarting.
type indexSnapshot struct {
	LoadedAt      time.Time
	LastCompleted *task.Record
}

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	db  *sql.DB
	rdb redis.UniversalClient

	taskStore  task.Store
	engine     queue.Engine
	reconciler *task.Reconciler
	canceler   *task.Canceler

	enqueueClient *worker.Client
	processor     *worker.Processor

	index    *notifier.Handle[indexSnapshot]
	listener *notifier.Listener
}

// newApplication wires every component together: database, queue engine,
// reconciler, canceler, worker pool and the reload notifier.
func newApplication(cfg *config.Config, logger *slog.Logger) (*application, error) {
	db, err := setupDatabase(cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := runMigrations(db, logger); err != nil {
		closeQuietly(db, logger)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		closeQuietly(db, logger)
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	rdb := redis.NewClient(redisOpts)

	connOpt, err := asynq.ParseRedisURI(cfg.Redis.URL)
	if err != nil {
		closeQuietly(db, logger)
		return nil, fmt.Errorf("failed to parse redis URI for queue engine: %w", err)
	}

	inspector := asynq.NewInspector(connOpt)
	meta := queue.NewMetaStore(rdb)
	engine := queue.NewAsynqEngine(inspector, meta, nil, logger)

	taskStore := postgres.NewTaskStore(db)

	app := &application{
		config:        cfg,
		logger:        logger,
		db:            db,
		rdb:           rdb,
		taskStore:     taskStore,
		engine:        engine,
		reconciler:    task.NewReconciler(taskStore, engine, logger),
		canceler:      task.NewCanceler(taskStore, engine, logger),
		enqueueClient: worker.NewClient(connOpt, taskStore, logger),
		processor: worker.NewProcessor(connOpt, taskStore, worker.ProcessorConfig{
			Concurrency: cfg.Queue.Concurrency,
		}, logger),
	}

	app.index = notifier.NewHandle(app.loadIndexSnapshot)
	app.listener = notifier.NewListener(rdb, app.index.Reload, logger)

	return app, nil
}

// loadIndexSnapshot builds a fresh snapshot from the durable store. The most
// recent root task doubles as the marker for which index generation is live.
func (app *application) loadIndexSnapshot(ctx context.Context, force bool) (*indexSnapshot, error) {
	snap := &indexSnapshot{LoadedAt: time.Now().UTC()}

	rec, err := app.taskStore.MostRecentRoot(ctx)
	if err != nil {
		if store.IsNotFoundError(err) {
			return snap, nil
		}
		return nil, fmt.Errorf("failed to load most recent root task: %w", err)
	}
	if rec.Status == task.StatusSuccess {
		snap.LastCompleted = rec
	}
	return snap, nil
}

// cleanup releases every resource the application holds. Safe to call after
// a partial failure.
func (app *application) cleanup() {
	if app.listener != nil {
		if err := app.listener.Close(); err != nil {
			app.logger.Error("Failed to close reload listener", "error", err)
		}
	}
	if app.processor != nil {
		app.processor.Shutdown()
	}
	if app.enqueueClient != nil {
		if err := app.enqueueClient.Close(); err != nil {
			app.logger.Error("Failed to close enqueue client", "error", err)
		}
	}
	if app.rdb != nil {
		if err := app.rdb.Close(); err != nil {
			app.logger.Error("Failed to close redis client", "error", err)
		}
	}
	closeQuietly(app.db, app.logger)
}

func closeQuietly(db *sql.DB, logger *slog.Logger) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		logger.Error("Failed to close database connection", "error", err)
	}
}
