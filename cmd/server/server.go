package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
)

// run starts every long-lived component and blocks until shutdown: the
// reload notifier, the worker pool and the HTTP server.
func (app *application) run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Seed the index snapshot so /health has something to report even if no
	// reload notification ever arrives.
	if err := app.index.Reload(ctx, true); err != nil {
		app.logger.Warn("Initial index snapshot load failed", "error", err)
	}

	if err := app.listener.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reload listener: %w", err)
	}

	processorErr := make(chan error, 1)
	go func() {
		processorErr <- app.processor.Start(asynq.NewServeMux())
	}()

	return app.startHTTPServer(ctx, app.setupRouter(), processorErr)
}

// startHTTPServer starts the HTTP server with graceful shutdown support.
// It returns when a shutdown signal arrives, the context is cancelled or the
// worker pool dies.
func (app *application) startHTTPServer(
	ctx context.Context,
	router http.Handler,
	processorErr <-chan error,
) error {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", app.config.Server.Port),
		Handler: router,
	}

	serverCtx, cancelServer := context.WithCancel(ctx)
	defer cancelServer()

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		app.logger.Info("Starting server", "port", app.config.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.logger.Error("Server failed", "error", err)
			cancelServer()
		}
	}()

	select {
	case <-shutdownCh:
		app.logger.Info("Shutting down server...")
	case err := <-processorErr:
		if err != nil {
			app.logger.Error("Worker pool failed", "error", err)
		}
		app.logger.Info("Worker pool stopped, shutting down...")
	case <-serverCtx.Done():
		app.logger.Info("Server context canceled, shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("Server shutdown failed", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	app.logger.Info("Server shutdown completed")
	return nil
}
