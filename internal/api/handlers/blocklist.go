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
	"github.com/matt1432/Kapowarr/internal/models"
	"github.com/matt1432/Kapowarr/internal/services/acquisition"
)

type BlocklistHandler struct {
	store        *models.BlocklistStore
	orchestrator *acquisition.Orchestrator
}

func NewBlocklistHandler(store *models.BlocklistStore, orchestrator *acquisition.Orchestrator) *BlocklistHandler {
	return &BlocklistHandler{store: store, orchestrator: orchestrator}
}

func (h *BlocklistHandler) Routes(r chi.Router) {
	r.Route("/blocklist", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Add)
		r.Delete("/", h.Clear)
		r.Get("/{entryID}", h.Get)
		r.Delete("/{entryID}", h.Delete)
	})
}

func (h *BlocklistHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list blocklist")
		RespondError(w, http.StatusInternalServerError, "Failed to list blocklist")
		return
	}
	if entries == nil {
		entries = []*models.BlocklistEntry{}
	}
	RespondJSON(w, http.StatusOK, entries)
}

type blocklistAddRequest struct {
	Link         string  `json:"link"`
	DisplayTitle *string `json:"display_title,omitempty"`
	VolumeID     *int64  `json:"volume_id,omitempty"`
	IssueID      *int64  `json:"issue_id,omitempty"`
	Reason       int     `json:"reason"`
}

func (h *BlocklistHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req blocklistAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Link == "" {
		RespondError(w, http.StatusBadRequest, "Link is required")
		return
	}

	reason := domain.BlocklistReason(req.Reason)
	if !reason.Valid() {
		RespondError(w, http.StatusBadRequest, "Invalid blocklist reason")
		return
	}

	// Going through the orchestrator also cancels any running task
	// that references the link.
	entry, err := h.orchestrator.Blocklist(r.Context(), req.Link, req.DisplayTitle, req.VolumeID, req.IssueID, reason)
	if err != nil {
		log.Error().Err(err).Str("link", req.Link).Msg("Failed to add blocklist entry")
		RespondError(w, http.StatusInternalServerError, "Failed to add blocklist entry")
		return
	}
	RespondJSON(w, http.StatusCreated, entry)
}

func (h *BlocklistHandler) Get(w http.ResponseWriter, r *http.Request) {
	entryID, err := strconv.Atoi(chi.URLParam(r, "entryID"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid entry ID")
		return
	}

	entry, err := h.store.Get(r.Context(), entryID)
	if err != nil {
		RespondError(w, http.StatusNotFound, "Blocklist entry not found")
		return
	}
	RespondJSON(w, http.StatusOK, entry)
}

func (h *BlocklistHandler) Delete(w http.ResponseWriter, r *http.Request) {
	entryID, err := strconv.Atoi(chi.URLParam(r, "entryID"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid entry ID")
		return
	}

	if err := h.store.Delete(r.Context(), entryID); err != nil {
		if errors.Is(err, models.ErrBlocklistEntryNotFound) {
			RespondError(w, http.StatusNotFound, "Blocklist entry not found")
			return
		}
		log.Error().Err(err).Int("entryID", entryID).Msg("Failed to delete blocklist entry")
		RespondError(w, http.StatusInternalServerError, "Failed to delete blocklist entry")
		return
	}
	RespondJSON(w, http.StatusNoContent, nil)
}

func (h *BlocklistHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Clear(r.Context()); err != nil {
		log.Error().Err(err).Msg("Failed to clear blocklist")
		RespondError(w, http.StatusInternalServerError, "Failed to clear blocklist")
		return
	}
	RespondJSON(w, http.StatusNoContent, nil)
}
