// Copyright 2025 The mcpherd authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api provides the HTTP API for mcpherd serve: server registry
// CRUD, lifecycle control, aggregated tool and resource catalogs, tool
// invocation, and a server-sent event stream of session events.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcpherd/mcpherd/internal/mcp"
	"github.com/mcpherd/mcpherd/internal/store"
)

// RouterConfig holds configuration for the API router.
type RouterConfig struct {
	Supervisor *mcp.Supervisor
	Store      *store.Store
	Logger     *slog.Logger
	Version    string

	// Watcher enables the file-watch endpoints when set.
	Watcher *mcp.Watcher
}

// Router wraps an http.ServeMux with the mcpherd API endpoints.
type Router struct {
	mux        *http.ServeMux
	supervisor *mcp.Supervisor
	store      *store.Store
	logger     *slog.Logger
	version    string
	watcher    *mcp.Watcher
}

// NewRouter creates an HTTP router with all API endpoints registered.
func NewRouter(cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{
		mux:        http.NewServeMux(),
		supervisor: cfg.Supervisor,
		store:      cfg.Store,
		logger:     logger.With("component", "api"),
		version:    cfg.Version,
		watcher:    cfg.Watcher,
	}

	r.mux.HandleFunc("GET /v1/health", r.handleHealth)
	r.mux.HandleFunc("GET /v1/version", r.handleVersion)

	r.mux.HandleFunc("GET /v1/servers", r.handleListServers)
	r.mux.HandleFunc("POST /v1/servers", r.handleCreateServer)
	r.mux.HandleFunc("POST /v1/servers/test", r.handleTestServer)
	r.mux.HandleFunc("GET /v1/servers/{id}", r.handleGetServer)
	r.mux.HandleFunc("PUT /v1/servers/{id}", r.handleUpdateServer)
	r.mux.HandleFunc("DELETE /v1/servers/{id}", r.handleDeleteServer)
	r.mux.HandleFunc("POST /v1/servers/{id}/start", r.handleStartServer)
	r.mux.HandleFunc("POST /v1/servers/{id}/stop", r.handleStopServer)
	r.mux.HandleFunc("POST /v1/servers/{id}/restart", r.handleRestartServer)
	r.mux.HandleFunc("POST /v1/servers/{id}/enable", r.handleEnableServer)
	r.mux.HandleFunc("POST /v1/servers/{id}/disable", r.handleDisableServer)
	r.mux.HandleFunc("POST /v1/servers/{id}/watch", r.handleWatchServer)
	r.mux.HandleFunc("DELETE /v1/servers/{id}/watch", r.handleUnwatchServer)

	r.mux.HandleFunc("GET /v1/tools", r.handleListTools)
	r.mux.HandleFunc("POST /v1/tools/call", r.handleCallTool)
	r.mux.HandleFunc("POST /v1/tools/cancel", r.handleCancelToolCalls)

	r.mux.HandleFunc("GET /v1/resources", r.handleListResources)
	r.mux.HandleFunc("POST /v1/resources/read", r.handleReadResource)

	r.mux.HandleFunc("GET /v1/events", r.handleEvents)

	r.mux.Handle("GET /metrics", promhttp.Handler())

	r.mux.HandleFunc("GET /", r.handleRoot)

	return r
}

// ServeHTTP implements http.Handler with request logging.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	defer func() {
		r.logger.Info("request completed",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	}()
	r.mux.ServeHTTP(w, req)
}

func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "mcpherd",
		"version": r.version,
	})
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"running_servers": r.supervisor.RunningCount(),
	})
}

func (r *Router) handleVersion(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": r.version})
}

// writeJSON writes a JSON response with the given status code and data.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", slog.Any("error", err))
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeOpError maps a supervisor or store error onto an HTTP status.
func writeOpError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrServerNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrServerExists):
		status = http.StatusConflict
	default:
		switch mcp.CodeOf(err) {
		case mcp.ErrorCodeServerNotFound, mcp.ErrorCodeToolNotFound:
			status = http.StatusNotFound
		case mcp.ErrorCodeServerDisabled, mcp.ErrorCodeNotConnected:
			status = http.StatusConflict
		case mcp.ErrorCodeTimeout:
			status = http.StatusGatewayTimeout
		case mcp.ErrorCodeValidation:
			status = http.StatusBadRequest
		case mcp.ErrorCodeSpawnFailed, mcp.ErrorCodeHandshakeFailed:
			status = http.StatusBadGateway
		}
	}
	writeError(w, status, err.Error())
}
