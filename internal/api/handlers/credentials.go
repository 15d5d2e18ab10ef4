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

	"github.com/matt1432/Kapowarr/internal/models"
)

type CredentialsHandler struct {
	store *models.CredentialStore
}

func NewCredentialsHandler(store *models.CredentialStore) *CredentialsHandler {
	return &CredentialsHandler{store: store}
}

func (h *CredentialsHandler) Routes(r chi.Router) {
	r.Route("/credentials", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{credentialID}", h.Get)
		r.Delete("/{credentialID}", h.Delete)
	})
}

func (h *CredentialsHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		creds []*models.Credential
		err   error
	)
	if service := r.URL.Query().Get("service"); service != "" {
		creds, err = h.store.ListForService(r.Context(), service)
	} else {
		creds, err = h.store.List(r.Context())
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to list credentials")
		RespondError(w, http.StatusInternalServerError, "Failed to list credentials")
		return
	}
	if creds == nil {
		creds = []*models.Credential{}
	}
	RespondJSON(w, http.StatusOK, creds)
}

type credentialRequest struct {
	Service  string  `json:"service"`
	Email    *string `json:"email,omitempty"`
	Username *string `json:"username,omitempty"`
	Password string  `json:"password,omitempty"`
	APIToken string  `json:"api_token,omitempty"`
}

func (h *CredentialsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Service == "" {
		RespondError(w, http.StatusBadRequest, "Service is required")
		return
	}

	cred, err := h.store.Create(r.Context(), req.Service, req.Email, req.Username, req.Password, req.APIToken)
	if err != nil {
		log.Error().Err(err).Str("service", req.Service).Msg("Failed to store credential")
		RespondError(w, http.StatusInternalServerError, "Failed to store credential")
		return
	}
	RespondJSON(w, http.StatusCreated, cred)
}

func (h *CredentialsHandler) Get(w http.ResponseWriter, r *http.Request) {
	credentialID, err := strconv.Atoi(chi.URLParam(r, "credentialID"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid credential ID")
		return
	}

	cred, err := h.store.Get(r.Context(), credentialID)
	if err != nil {
		RespondError(w, http.StatusNotFound, "Credential not found")
		return
	}
	RespondJSON(w, http.StatusOK, cred)
}

func (h *CredentialsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	credentialID, err := strconv.Atoi(chi.URLParam(r, "credentialID"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid credential ID")
		return
	}

	if err := h.store.Delete(r.Context(), credentialID); err != nil {
		if errors.Is(err, models.ErrCredentialNotFound) {
			RespondError(w, http.StatusNotFound, "Credential not found")
			return
		}
		log.Error().Err(err).Int("credentialID", credentialID).Msg("Failed to delete credential")
		RespondError(w, http.StatusInternalServerError, "Failed to delete credential")
		return
	}
	RespondJSON(w, http.StatusNoContent, nil)
}
