// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/matt1432/Kapowarr/internal/domain"
	"github.com/matt1432/Kapowarr/internal/downloader"
	"github.com/matt1432/Kapowarr/internal/models"
	"github.com/matt1432/Kapowarr/internal/services/acquisition"
)

type ClientsHandler struct {
	store        *models.ExternalClientStore
	orchestrator *acquisition.Orchestrator
}

func NewClientsHandler(store *models.ExternalClientStore, orchestrator *acquisition.Orchestrator) *ClientsHandler {
	return &ClientsHandler{store: store, orchestrator: orchestrator}
}

func (h *ClientsHandler) Routes(r chi.Router) {
	r.Route("/clients", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/types", h.Types)
		r.Post("/test", h.TestSettings)
		r.Route("/{clientID}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Put("/", h.Update)
			r.Delete("/", h.Delete)
			r.Post("/test", h.Test)
		})
	})
}

// Types lists the registered client types with their download
// mechanism and required credential fields.
func (h *ClientsHandler) Types(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, downloader.ClientTypes())
}

func (h *ClientsHandler) List(w http.ResponseWriter, r *http.Request) {
	clients, err := h.store.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list external clients")
		RespondError(w, http.StatusInternalServerError, "Failed to list clients")
		return
	}
	if clients == nil {
		clients = []*models.ExternalClient{}
	}
	RespondJSON(w, http.StatusOK, clients)
}

type clientRequest struct {
	ClientType string  `json:"client_type"`
	Title      string  `json:"title"`
	BaseURL    string  `json:"base_url"`
	Username   *string `json:"username,omitempty"`
	Password   string  `json:"password,omitempty"`
	APIToken   string  `json:"api_token,omitempty"`
}

func (r clientRequest) params() models.ExternalClientParams {
	return models.ExternalClientParams{
		ClientType: r.ClientType,
		Title:      r.Title,
		BaseURL:    r.BaseURL,
		Username:   r.Username,
		Password:   r.Password,
		APIToken:   r.APIToken,
	}
}

func (r clientRequest) settings() downloader.ClientSettings {
	settings := downloader.ClientSettings{
		Title:    r.Title,
		BaseURL:  r.BaseURL,
		Password: r.Password,
		APIToken: r.APIToken,
	}
	if r.Username != nil {
		settings.Username = *r.Username
	}
	return settings
}

func (h *ClientsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req clientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ct, ok := downloader.Lookup(req.ClientType)
	if !ok {
		RespondError(w, http.StatusBadRequest, "Unknown client type")
		return
	}
	if err := ct.ValidateSettings(req.settings()); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	client, err := h.store.Create(r.Context(), req.params())
	if err != nil {
		log.Error().Err(err).Str("type", req.ClientType).Msg("Failed to create external client")
		RespondError(w, http.StatusInternalServerError, "Failed to create client")
		return
	}
	RespondJSON(w, http.StatusCreated, client)
}

func (h *ClientsHandler) Get(w http.ResponseWriter, r *http.Request) {
	clientID, err := strconv.Atoi(chi.URLParam(r, "clientID"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid client ID")
		return
	}

	client, err := h.store.Get(r.Context(), clientID)
	if err != nil {
		RespondError(w, http.StatusNotFound, "Client not found")
		return
	}
	RespondJSON(w, http.StatusOK, client)
}

func (h *ClientsHandler) Update(w http.ResponseWriter, r *http.Request) {
	clientID, err := strconv.Atoi(chi.URLParam(r, "clientID"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid client ID")
		return
	}

	var req clientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	client, err := h.store.Update(r.Context(), clientID, req.params())
	if err != nil {
		if errors.Is(err, models.ErrExternalClientNotFound) {
			RespondError(w, http.StatusNotFound, "Client not found")
			return
		}
		log.Error().Err(err).Int("clientID", clientID).Msg("Failed to update external client")
		RespondError(w, http.StatusInternalServerError, "Failed to update client")
		return
	}
	RespondJSON(w, http.StatusOK, client)
}

func (h *ClientsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	clientID, err := strconv.Atoi(chi.URLParam(r, "clientID"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid client ID")
		return
	}

	if err := h.orchestrator.DeleteClient(r.Context(), clientID); err != nil {
		switch {
		case errors.Is(err, models.ErrExternalClientNotFound):
			RespondError(w, http.StatusNotFound, "Client not found")
		case errors.Is(err, &domain.ClientBusyError{}):
			RespondError(w, http.StatusConflict, err.Error())
		default:
			log.Error().Err(err).Int("clientID", clientID).Msg("Failed to delete external client")
			RespondError(w, http.StatusInternalServerError, "Failed to delete client")
		}
		return
	}
	RespondJSON(w, http.StatusNoContent, nil)
}

// TestSettings checks connectivity for settings that are not stored
// yet, backing the "test before save" flow.
func (h *ClientsHandler) TestSettings(w http.ResponseWriter, r *http.Request) {
	var req clientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ct, ok := downloader.Lookup(req.ClientType)
	if !ok {
		RespondError(w, http.StatusBadRequest, "Unknown client type")
		return
	}

	h.runTest(w, r.Context(), ct, req.settings())
}

// Test checks connectivity for a stored client.
func (h *ClientsHandler) Test(w http.ResponseWriter, r *http.Request) {
	clientID, err := strconv.Atoi(chi.URLParam(r, "clientID"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid client ID")
		return
	}

	client, err := h.store.Get(r.Context(), clientID)
	if err != nil {
		RespondError(w, http.StatusNotFound, "Client not found")
		return
	}

	ct, ok := downloader.Lookup(client.ClientType)
	if !ok {
		RespondError(w, http.StatusBadRequest, "Unknown client type")
		return
	}

	password, err := h.store.GetDecryptedPassword(client)
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "Failed to decrypt client secrets")
		return
	}
	apiToken, err := h.store.GetDecryptedAPIToken(client)
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "Failed to decrypt client secrets")
		return
	}

	settings := downloader.ClientSettings{
		ID:       client.ID,
		Title:    client.Title,
		BaseURL:  client.BaseURL,
		Password: password,
		APIToken: apiToken,
	}
	if client.Username != nil {
		settings.Username = *client.Username
	}

	h.runTest(w, r.Context(), ct, settings)
}

func (h *ClientsHandler) runTest(w http.ResponseWriter, ctx context.Context, ct downloader.ClientType, settings downloader.ClientSettings) {
	adapter, err := ct.New(settings)
	if err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	tester, ok := adapter.(downloader.Tester)
	if !ok {
		RespondError(w, http.StatusBadRequest, "Client type does not support testing")
		return
	}

	testCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := tester.Test(testCtx); err != nil {
		RespondJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"success": true})
}
