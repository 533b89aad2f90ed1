package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clefnote/clefnote-api/internal/api/shared"
	"github.com/clefnote/clefnote-api/internal/platform/logger"
	"github.com/clefnote/clefnote-api/internal/task"
)

// Enqueuer starts a new root task run. Implemented by the worker enqueue
// client.
type Enqueuer interface {
	EnqueueRoot(ctx context.Context, taskType string, payload any) (string, error)
}

// EnqueueResponse is returned when a new run has been accepted.
type EnqueueResponse struct {
	TaskID   string `json:"task_id"`
	TaskType string `json:"task_type"`
	Status   string `json:"status"`
}

// EnqueueHandler serves the endpoints that kick off analysis and clustering
// runs.
type EnqueueHandler struct {
	enqueuer Enqueuer
	logger   *slog.Logger
}

// NewEnqueueHandler creates a new EnqueueHandler.
func NewEnqueueHandler(enqueuer Enqueuer, log *slog.Logger) *EnqueueHandler {
	if log == nil {
		log = slog.Default()
	}
	return &EnqueueHandler{
		enqueuer: enqueuer,
		logger:   log.With(slog.String("component", "enqueue_handler")),
	}
}

// RegisterRoutes mounts the run-start endpoints on the given router.
func (h *EnqueueHandler) RegisterRoutes(r chi.Router) {
	r.Post("/analysis/start", h.StartAnalysis)
	r.Post("/clustering/start", h.StartClustering)
}

// StartAnalysis handles POST /api/analysis/start.
func (h *EnqueueHandler) StartAnalysis(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, task.TypeMainAnalysis)
}

// StartClustering handles POST /api/clustering/start.
func (h *EnqueueHandler) StartClustering(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, task.TypeMainClustering)
}

// start decodes the optional JSON body as the job payload and enqueues a new
// root run. Starting a run archives whatever root run came before it.
func (h *EnqueueHandler) start(w http.ResponseWriter, r *http.Request, taskType string) {
	ctx := r.Context()
	log := logger.FromContextOrDefault(ctx, h.logger)

	payload := map[string]any{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Request body must be a JSON object")
		return
	}

	taskID, err := h.enqueuer.EnqueueRoot(ctx, taskType, payload)
	if err != nil {
		log.Error("failed to enqueue root task",
			slog.String("task_type", taskType),
			slog.String("error", err.Error()))
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to start task", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, EnqueueResponse{
		TaskID:   taskID,
		TaskType: taskType,
		Status:   string(task.StatusPending),
	})
}
