// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/matt1432/Kapowarr/internal/domain"
	"github.com/matt1432/Kapowarr/internal/postprocess"
)

type RenameHandler struct {
	processor *postprocess.Processor
}

func NewRenameHandler(processor *postprocess.Processor) *RenameHandler {
	return &RenameHandler{processor: processor}
}

func (h *RenameHandler) Routes(r chi.Router) {
	r.Route("/volumes/{volumeID}/rename", func(r chi.Router) {
		r.Post("/preview", h.PreviewRename)
		r.Post("/", h.CommitRename)
	})
	r.Route("/volumes/{volumeID}/convert", func(r chi.Router) {
		r.Post("/preview", h.PreviewConvert)
		r.Post("/", h.CommitConvert)
	})
}

type renameRequest struct {
	// Issue is the issue designator the files cover: "5" or "1,10".
	Issue string   `json:"issue"`
	Files []string `json:"files"`
}

func (h *RenameHandler) PreviewRename(w http.ResponseWriter, r *http.Request) {
	volumeID, err := strconv.ParseInt(chi.URLParam(r, "volumeID"), 10, 64)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid volume ID")
		return
	}

	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	number, err := domain.ParseIssueNumber(req.Issue)
	if err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	renames, err := h.processor.PreviewRename(r.Context(), volumeID, number, req.Files)
	if err != nil {
		log.Error().Err(err).Int64("volumeID", volumeID).Msg("Rename preview failed")
		RespondError(w, http.StatusInternalServerError, "Rename preview failed")
		return
	}
	RespondJSON(w, http.StatusOK, renames)
}

func (h *RenameHandler) CommitRename(w http.ResponseWriter, r *http.Request) {
	volumeID, err := strconv.ParseInt(chi.URLParam(r, "volumeID"), 10, 64)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid volume ID")
		return
	}

	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	number, err := domain.ParseIssueNumber(req.Issue)
	if err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	renames, err := h.processor.PreviewRename(r.Context(), volumeID, number, req.Files)
	if err == nil {
		err = h.processor.CommitRename(renames)
	}
	if err != nil {
		log.Error().Err(err).Int64("volumeID", volumeID).Msg("Rename failed")
		RespondError(w, http.StatusInternalServerError, "Rename failed")
		return
	}
	RespondJSON(w, http.StatusOK, renames)
}

type convertRequest struct {
	Files []string `json:"files"`
}

func (h *RenameHandler) PreviewConvert(w http.ResponseWriter, r *http.Request) {
	volumeID, err := strconv.ParseInt(chi.URLParam(r, "volumeID"), 10, 64)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid volume ID")
		return
	}

	var req convertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	preview, err := h.processor.PreviewConvert(r.Context(), volumeID, req.Files)
	if err != nil {
		log.Error().Err(err).Int64("volumeID", volumeID).Msg("Convert preview failed")
		RespondError(w, http.StatusInternalServerError, "Convert preview failed")
		return
	}
	RespondJSON(w, http.StatusOK, preview)
}

func (h *RenameHandler) CommitConvert(w http.ResponseWriter, r *http.Request) {
	volumeID, err := strconv.ParseInt(chi.URLParam(r, "volumeID"), 10, 64)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid volume ID")
		return
	}

	var req convertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	results, err := h.processor.CommitConvert(r.Context(), volumeID, req.Files)
	if err != nil {
		log.Error().Err(err).Int64("volumeID", volumeID).Msg("Convert failed")
		RespondError(w, http.StatusInternalServerError, "Convert failed")
		return
	}
	RespondJSON(w, http.StatusOK, results)
}
