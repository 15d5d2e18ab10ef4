// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/matt1432/Kapowarr/internal/models"
)

type PreferencesHandler struct {
	store *models.ServicePreferenceStore
}

func NewPreferencesHandler(store *models.ServicePreferenceStore) *PreferencesHandler {
	return &PreferencesHandler{store: store}
}

func (h *PreferencesHandler) Routes(r chi.Router) {
	r.Route("/service-preference", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Put("/", h.SetOrder)
		r.Post("/{service}/move", h.Move)
	})
}

func (h *PreferencesHandler) Get(w http.ResponseWriter, r *http.Request) {
	services, err := h.store.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list service preference")
		RespondError(w, http.StatusInternalServerError, "Failed to list service preference")
		return
	}
	if services == nil {
		services = []string{}
	}
	RespondJSON(w, http.StatusOK, services)
}

// SetOrder replaces the whole order. The body must be a permutation
// of the known services.
func (h *PreferencesHandler) SetOrder(w http.ResponseWriter, r *http.Request) {
	var services []string
	if err := json.NewDecoder(r.Body).Decode(&services); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.store.SetOrder(r.Context(), services); err != nil {
		if errors.Is(err, models.ErrServiceNotFound) || errors.Is(err, models.ErrInvalidServiceOrder) {
			RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Msg("Failed to set service order")
		RespondError(w, http.StatusInternalServerError, "Failed to set service order")
		return
	}
	h.Get(w, r)
}

type moveRequest struct {
	Position int `json:"position"`
}

func (h *PreferencesHandler) Move(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")

	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.store.MoveToPosition(r.Context(), service, req.Position); err != nil {
		if errors.Is(err, models.ErrServiceNotFound) || errors.Is(err, models.ErrInvalidServiceOrder) {
			RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Str("service", service).Msg("Failed to move service")
		RespondError(w, http.StatusInternalServerError, "Failed to move service")
		return
	}
	h.Get(w, r)
}
