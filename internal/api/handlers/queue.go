// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/matt1432/Kapowarr/internal/queue"
)

type QueueHandler struct {
	queue *queue.Manager
}

func NewQueueHandler(q *queue.Manager) *QueueHandler {
	return &QueueHandler{queue: q}
}

func (h *QueueHandler) Routes(r chi.Router) {
	r.Route("/queue", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/{taskID}", h.Get)
		r.Delete("/{taskID}", h.Cancel)
	})
}

func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	tasks := h.queue.List()
	if tasks == nil {
		tasks = []*queue.Task{}
	}
	RespondJSON(w, http.StatusOK, tasks)
}

func (h *QueueHandler) Get(w http.ResponseWriter, r *http.Request) {
	taskID, err := strconv.ParseInt(chi.URLParam(r, "taskID"), 10, 64)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid task ID")
		return
	}

	task, err := h.queue.Get(taskID)
	if err != nil {
		RespondError(w, http.StatusNotFound, "Task not found")
		return
	}
	RespondJSON(w, http.StatusOK, task)
}

func (h *QueueHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	taskID, err := strconv.ParseInt(chi.URLParam(r, "taskID"), 10, 64)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid task ID")
		return
	}

	force := r.URL.Query().Get("force") == "true"

	if err := h.queue.Cancel(r.Context(), taskID, force); err != nil {
		if errors.Is(err, queue.ErrTaskNotFound) {
			RespondError(w, http.StatusNotFound, "Task not found")
			return
		}
		RespondError(w, http.StatusInternalServerError, "Failed to cancel task")
		return
	}
	RespondJSON(w, http.StatusNoContent, nil)
}
