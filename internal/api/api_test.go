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

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpherd/mcpherd/internal/mcp"
	"github.com/mcpherd/mcpherd/internal/store"
)

func newTestRouter(t *testing.T) (*Router, *store.Store) {
	t.Helper()

	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sup := mcp.NewSupervisor(mcp.SupervisorConfig{
		Source:         st,
		RequestTimeout: 2 * time.Second,
	})
	t.Cleanup(sup.Close)

	return NewRouter(RouterConfig{
		Supervisor: sup,
		Store:      st,
		Version:    "test",
	}), st
}

func doJSON(t *testing.T, r *Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, into any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(into))
}

func TestHealthAndVersion(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/v1/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var health map[string]any
	decode(t, w, &health)
	assert.Equal(t, "ok", health["status"])

	w = doJSON(t, r, http.MethodGet, "/v1/version", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var version map[string]string
	decode(t, w, &version)
	assert.Equal(t, "test", version["version"])
}

func TestServerCRUD(t *testing.T) {
	r, _ := newTestRouter(t)

	// Create.
	w := doJSON(t, r, http.MethodPost, "/v1/servers", map[string]any{
		"name":       "filesystem",
		"command":    "npx",
		"args":       []string{"-y", "@modelcontextprotocol/server-filesystem"},
		"auto_start": true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created serverResponse
	decode(t, w, &created)
	require.NotEmpty(t, created.ID)
	assert.True(t, created.Enabled)
	assert.True(t, created.AutoStart)
	assert.False(t, created.Running)

	// Duplicate name conflicts.
	w = doJSON(t, r, http.MethodPost, "/v1/servers", map[string]any{
		"name":    "filesystem",
		"command": "npx",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// List.
	w = doJSON(t, r, http.MethodGet, "/v1/servers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Servers []serverResponse `json:"servers"`
	}
	decode(t, w, &list)
	require.Len(t, list.Servers, 1)

	// Get includes status for a stopped server.
	w = doJSON(t, r, http.MethodGet, "/v1/servers/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		Server serverResponse   `json:"server"`
		Status mcp.ServerStatus `json:"status"`
	}
	decode(t, w, &detail)
	assert.Equal(t, mcp.StateDisconnected, detail.Status.State)

	// A partial update leaves the other fields alone.
	w = doJSON(t, r, http.MethodPut, "/v1/servers/"+created.ID, map[string]any{
		"command": "uvx",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var updated serverResponse
	decode(t, w, &updated)
	assert.Equal(t, "uvx", updated.Command)
	assert.Equal(t, "filesystem", updated.Name)
	assert.True(t, updated.AutoStart)

	w = doJSON(t, r, http.MethodPut, "/v1/servers/"+created.ID, map[string]any{
		"auto_start": false,
	})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &updated)
	assert.False(t, updated.AutoStart)
	assert.Equal(t, "uvx", updated.Command)

	// Delete.
	w = doJSON(t, r, http.MethodDelete, "/v1/servers/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, r, http.MethodGet, "/v1/servers/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateServerValidation(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/servers", map[string]any{"name": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/servers", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnableDisable(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/servers", map[string]any{
		"name": "fs", "command": "npx",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var created serverResponse
	decode(t, w, &created)

	w = doJSON(t, r, http.MethodPost, "/v1/servers/"+created.ID+"/disable", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// A disabled server refuses to start.
	w = doJSON(t, r, http.MethodPost, "/v1/servers/"+created.ID+"/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, r, http.MethodPost, "/v1/servers/"+created.ID+"/enable", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, "/v1/servers/missing/enable", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartUnknownServer(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/v1/servers/missing/start", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestToolEndpointsWithNoServers(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/v1/tools", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tools struct {
		Tools []toolEntry `json:"tools"`
	}
	decode(t, w, &tools)
	assert.Empty(t, tools.Tools)

	w = doJSON(t, r, http.MethodPost, "/v1/tools/call", map[string]any{"name": "github__ping"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, r, http.MethodPost, "/v1/tools/call", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/v1/tools/cancel", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadResourceValidation(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/resources/read", map[string]any{"uri": "file:///x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/v1/resources/read", map[string]any{
		"server_id": "missing", "uri": "file:///x",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestTestServerEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	// A bad command yields a failure report, not an HTTP error.
	w := doJSON(t, r, http.MethodPost, "/v1/servers/test", map[string]any{
		"name":    "probe",
		"command": "/nonexistent/mcp-server-binary",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var result mcp.TestResult
	decode(t, w, &result)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)

	w = doJSON(t, r, http.MethodPost, "/v1/servers/test", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWatchEndpoints(t *testing.T) {
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sup := mcp.NewSupervisor(mcp.SupervisorConfig{
		Source:         st,
		RequestTimeout: 2 * time.Second,
	})
	t.Cleanup(sup.Close)

	watcher, err := mcp.NewWatcher(mcp.WatcherConfig{Supervisor: sup})
	require.NoError(t, err)
	t.Cleanup(func() { watcher.Close() })

	r := NewRouter(RouterConfig{
		Supervisor: sup,
		Store:      st,
		Version:    "test",
		Watcher:    watcher,
	})

	w := doJSON(t, r, http.MethodPost, "/v1/servers", map[string]any{
		"name": "local", "command": "npx",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var created serverResponse
	decode(t, w, &created)

	w = doJSON(t, r, http.MethodPost, "/v1/servers/"+created.ID+"/watch", map[string]any{
		"paths": []string{t.TempDir()},
	})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, r, http.MethodPost, "/v1/servers/"+created.ID+"/watch", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/v1/servers/missing/watch", map[string]any{
		"paths": []string{t.TempDir()},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/v1/servers/"+created.ID+"/watch", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWatchEndpointsDisabled(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/v1/servers/any/watch", map[string]any{
		"paths": []string{"x"},
	})
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mcpherd_servers_connected")
}
