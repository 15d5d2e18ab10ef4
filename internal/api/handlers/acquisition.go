// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/matt1432/Kapowarr/internal/domain"
	"github.com/matt1432/Kapowarr/internal/search"
	"github.com/matt1432/Kapowarr/internal/services/acquisition"
)

type AcquisitionHandler struct {
	orchestrator *acquisition.Orchestrator
}

func NewAcquisitionHandler(orchestrator *acquisition.Orchestrator) *AcquisitionHandler {
	return &AcquisitionHandler{orchestrator: orchestrator}
}

func (h *AcquisitionHandler) Routes(r chi.Router) {
	r.Route("/volumes/{volumeID}", func(r chi.Router) {
		r.Get("/search", h.Search)
		r.Post("/download", h.Download)
		r.Post("/auto-acquire", h.AutoAcquire)
	})
}

// parseTarget reads the volume path param and the optional issueID
// query param.
func parseTarget(r *http.Request) (int64, *int64, error) {
	volumeID, err := strconv.ParseInt(chi.URLParam(r, "volumeID"), 10, 64)
	if err != nil {
		return 0, nil, errors.New("invalid volume ID")
	}

	var issueID *int64
	if raw := r.URL.Query().Get("issueID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, nil, errors.New("invalid issue ID")
		}
		issueID = &id
	}
	return volumeID, issueID, nil
}

func (h *AcquisitionHandler) Search(w http.ResponseWriter, r *http.Request) {
	volumeID, issueID, err := parseTarget(r)
	if err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := h.orchestrator.Search(r.Context(), volumeID, issueID)
	if err != nil {
		if errors.Is(err, &domain.RateLimitedError{}) {
			RespondError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		log.Error().Err(err).Int64("volumeID", volumeID).Msg("Search failed")
		RespondError(w, http.StatusInternalServerError, "Search failed")
		return
	}

	if results == nil {
		results = []search.Candidate{}
	}
	RespondJSON(w, http.StatusOK, results)
}

type downloadRequest struct {
	IssueID      *int64 `json:"issue_id,omitempty"`
	Link         string `json:"link"`
	DisplayTitle string `json:"display_title"`
	Source       string `json:"source"`
	Force        bool   `json:"force"`
}

func (h *AcquisitionHandler) Download(w http.ResponseWriter, r *http.Request) {
	volumeID, _, err := parseTarget(r)
	if err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Link == "" {
		RespondError(w, http.StatusBadRequest, "Link is required")
		return
	}

	task, err := h.orchestrator.Download(r.Context(), acquisition.DownloadParams{
		VolumeID:     volumeID,
		IssueID:      req.IssueID,
		Link:         req.Link,
		DisplayTitle: req.DisplayTitle,
		Source:       req.Source,
		Force:        req.Force,
	})
	switch {
	case err == nil:
		RespondJSON(w, http.StatusCreated, task)
	case errors.Is(err, domain.ErrLinkBlocklisted):
		RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNoEligibleService):
		RespondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, &domain.DownloadLimitReachedError{}):
		RespondError(w, http.StatusTooManyRequests, err.Error())
	default:
		log.Error().Err(err).Str("link", req.Link).Msg("Failed to enqueue download")
		RespondError(w, http.StatusInternalServerError, "Failed to enqueue download")
	}
}

func (h *AcquisitionHandler) AutoAcquire(w http.ResponseWriter, r *http.Request) {
	volumeID, issueID, err := parseTarget(r)
	if err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	tasks, err := h.orchestrator.AutoAcquire(r.Context(), volumeID, issueID)
	if err != nil {
		log.Error().Err(err).Int64("volumeID", volumeID).Msg("Auto acquire failed")
		RespondError(w, http.StatusInternalServerError, "Auto acquire failed")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"enqueued": len(tasks),
		"tasks":    tasks,
	})
}
