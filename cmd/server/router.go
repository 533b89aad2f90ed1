package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clefnote/clefnote-api/internal/api"
	apiMiddleware "github.com/clefnote/clefnote-api/internal/api/middleware"
	"github.com/clefnote/clefnote-api/internal/api/shared"
)

// setupRouter creates and configures the application router with all routes
// and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	// Apply standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	taskHandler := api.NewTaskHandler(
		app.taskStore,
		app.reconciler,
		app.canceler,
		app.logger,
	)

	enqueueHandler := api.NewEnqueueHandler(app.enqueueClient, app.logger)

	r.Route("/api", func(r chi.Router) {
		taskHandler.RegisterRoutes(r)
		enqueueHandler.RegisterRoutes(r)
	})

	// Health check endpoint. Reports when the index snapshot was last
	// reloaded so operators can confirm the notifier is alive.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"status": "ok"}
		if snap := app.index.Snapshot(); snap != nil {
			resp["index_loaded_at"] = snap.LoadedAt
		}
		shared.RespondWithJSON(w, r, http.StatusOK, resp)
	})

	return r
}
