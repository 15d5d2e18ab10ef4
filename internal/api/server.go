// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package api wires the HTTP surface: routing, middleware and the
// handler set over the acquisition services.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/matt1432/Kapowarr/internal/api/handlers"
	"github.com/matt1432/Kapowarr/internal/buildinfo"
	"github.com/matt1432/Kapowarr/internal/config"
	"github.com/matt1432/Kapowarr/internal/models"
	"github.com/matt1432/Kapowarr/internal/postprocess"
	"github.com/matt1432/Kapowarr/internal/queue"
	"github.com/matt1432/Kapowarr/internal/services/acquisition"
)

type Server struct {
	server *http.Server
	logger zerolog.Logger
	config *config.AppConfig

	orchestrator    *acquisition.Orchestrator
	queueManager    *queue.Manager
	processor       *postprocess.Processor
	blocklistStore  *models.BlocklistStore
	clientStore     *models.ExternalClientStore
	credentialStore *models.CredentialStore
	preferenceStore *models.ServicePreferenceStore
}

type Dependencies struct {
	Config *config.AppConfig

	Orchestrator    *acquisition.Orchestrator
	QueueManager    *queue.Manager
	Processor       *postprocess.Processor
	BlocklistStore  *models.BlocklistStore
	ClientStore     *models.ExternalClientStore
	CredentialStore *models.CredentialStore
	PreferenceStore *models.ServicePreferenceStore
}

func NewServer(deps *Dependencies) *Server {
	return &Server{
		server: &http.Server{
			ReadHeaderTimeout: time.Second * 15,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      120 * time.Second,
			IdleTimeout:       180 * time.Second,
		},
		logger:          log.Logger.With().Str("module", "api").Logger(),
		config:          deps.Config,
		orchestrator:    deps.Orchestrator,
		queueManager:    deps.QueueManager,
		processor:       deps.Processor,
		blocklistStore:  deps.BlocklistStore,
		clientStore:     deps.ClientStore,
		credentialStore: deps.CredentialStore,
		preferenceStore: deps.PreferenceStore,
	}
}

func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.config.Config.Host, s.config.Config.Port)

	var lastErr error
	for _, proto := range []string{"tcp", "tcp4", "tcp6"} {
		err := s.tryToServe(addr, proto)
		if err == nil {
			return nil
		}

		if errors.Is(err, http.ErrServerClosed) {
			return err
		}

		s.logger.Error().Err(err).Str("addr", addr).Str("proto", proto).Msg("Failed to start server")
		lastErr = err
	}

	return lastErr
}

func (s *Server) tryToServe(addr, protocol string) error {
	listener, err := net.Listen(protocol, addr)
	if err != nil {
		return err
	}

	host := listener.Addr().String()
	// Replace wildcard binds with localhost for clickable links
	if strings.HasPrefix(host, "0.0.0.0:") || strings.HasPrefix(host, "[::]:") {
		host = strings.Replace(host, "0.0.0.0:", "localhost:", 1)
		host = strings.Replace(host, "[::]:", "localhost:", 1)
	}

	s.logger.Info().
		Str("protocol", protocol).
		Str("addr", listener.Addr().String()).
		Msgf("Starting API server - Open: http://%s%s", host, s.config.Config.BaseURL)

	s.server.Handler = s.Handler()
	return s.server.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) Handler() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	corsMiddleware := cors.New(cors.Options{
		AllowCredentials: true,
		AllowedMethods:   []string{"HEAD", "OPTIONS", "GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowOriginFunc:  func(origin string) bool { return true },
		MaxAge:           300,
	})
	r.Use(corsMiddleware.Handler)

	acquisitionHandler := handlers.NewAcquisitionHandler(s.orchestrator)
	queueHandler := handlers.NewQueueHandler(s.queueManager)
	blocklistHandler := handlers.NewBlocklistHandler(s.blocklistStore, s.orchestrator)
	clientsHandler := handlers.NewClientsHandler(s.clientStore, s.orchestrator)
	credentialsHandler := handlers.NewCredentialsHandler(s.credentialStore)
	preferencesHandler := handlers.NewPreferencesHandler(s.preferenceStore)
	renameHandler := handlers.NewRenameHandler(s.processor)

	r.Route(s.baseURL()+"api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			handlers.RespondJSON(w, http.StatusOK, map[string]string{
				"status":  "ok",
				"version": buildinfo.Version,
			})
		})

		acquisitionHandler.Routes(r)
		queueHandler.Routes(r)
		blocklistHandler.Routes(r)
		clientsHandler.Routes(r)
		credentialsHandler.Routes(r)
		preferencesHandler.Routes(r)
		renameHandler.Routes(r)
	})

	return r
}

func (s *Server) baseURL() string {
	base := s.config.Config.BaseURL
	if base == "" {
		return "/"
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base
}
