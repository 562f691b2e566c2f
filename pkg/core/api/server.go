/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package api provides the HTTP and WebSocket surface of the presence service.
package api

import (
	"embed"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/playpulse/presenced/pkg/core"
	prHttp "github.com/playpulse/presenced/pkg/http"
	"github.com/playpulse/presenced/pkg/logger"
	"github.com/playpulse/presenced/pkg/models"
)

//go:embed web/index.html
var webContent embed.FS

const (
	defaultReadHeaderTimeout = 5 * time.Second
	defaultIdleTimeout       = 60 * time.Second
)

// APIServer exposes the dashboard, the snapshot endpoint and the two
// WebSocket endpoints.
type APIServer struct {
	router     *mux.Router
	service    *core.Service
	corsConfig models.CORSConfig
	logger     logger.Logger
}

// NewAPIServer creates a new API server instance with the given configuration.
func NewAPIServer(service *core.Service, log logger.Logger, options ...func(server *APIServer)) *APIServer {
	s := &APIServer{
		router:  mux.NewRouter(),
		service: service,
		logger:  log,
	}

	for _, o := range options {
		o(s)
	}

	s.setupRoutes()

	return s
}

// WithCORSConfig sets the CORS policy for the API server.
func WithCORSConfig(corsConfig models.CORSConfig) func(*APIServer) {
	return func(server *APIServer) {
		server.corsConfig = corsConfig
	}
}

// Router returns the configured handler, mainly for tests.
func (s *APIServer) Router() http.Handler {
	return s.router
}

// HTTPServer builds the http.Server for this API. Read and write timeouts
// stay unset: the WebSocket endpoints hold their connections open
// indefinitely and a server-level write timeout would sever them.
func (s *APIServer) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}
}

func (s *APIServer) setupRoutes() {
	s.router.Use(func(next http.Handler) http.Handler {
		return prHttp.CommonMiddleware(next, s.corsConfig)
	})

	s.router.HandleFunc("/", s.handleDashboard).Methods(http.MethodGet)
	s.router.HandleFunc("/data", s.handleData).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleHeartbeatSocket).Methods(http.MethodGet)
	s.router.HandleFunc("/ws/observe", s.handleObserverSocket).Methods(http.MethodGet)
}

func (s *APIServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	page, err := webContent.ReadFile("web/index.html")
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read embedded dashboard")
		http.Error(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if _, err := w.Write(page); err != nil {
		s.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("failed to write dashboard response")
	}
}

func (s *APIServer) handleData(w http.ResponseWriter, r *http.Request) {
	views, err := s.service.Snapshot(r.Context(), time.Now().UTC())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to build device snapshot")
		http.Error(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(views); err != nil {
		s.logger.Warn().Err(err).Msg("failed to encode device snapshot")
	}
}

func (s *APIServer) handleHeartbeatSocket(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.upgrade(w, r)
	if !ok {
		return
	}

	s.service.ServeHeartbeat(r.Context(), conn, r.RemoteAddr)
}

func (s *APIServer) handleObserverSocket(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.upgrade(w, r)
	if !ok {
		return
	}

	s.service.ServeObserver(r.Context(), conn)
}

func (s *APIServer) upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, bool) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return prHttp.OriginAllowed(r, s.corsConfig)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Str("origin", r.Header.Get("Origin")).
			Msg("failed to upgrade to WebSocket")

		return nil, false
	}

	return conn, true
}
