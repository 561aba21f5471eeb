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
	"encoding/json"
	"net/http"

	"github.com/mcpherd/mcpherd/internal/mcp"
	"github.com/mcpherd/mcpherd/internal/store"
)

// serverRequest is the create/update payload for a server definition.
type serverRequest struct {
	Name      string            `json:"name"`
	Command   string            `json:"command"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Icon      string            `json:"icon,omitempty"`
	Enabled   *bool             `json:"enabled,omitempty"`
	AutoStart *bool             `json:"auto_start,omitempty"`
}

// serverResponse is a stored definition annotated with live state.
type serverResponse struct {
	*store.ServerRecord
	Running bool          `json:"running"`
	State   mcp.ConnState `json:"state"`
}

func (r *Router) serverResponse(record *store.ServerRecord) serverResponse {
	state := mcp.StateDisconnected
	running := r.supervisor.IsServerRunning(record.ID)
	if running {
		state = mcp.StateConnected
	}
	return serverResponse{ServerRecord: record, Running: running, State: state}
}

func (r *Router) handleListServers(w http.ResponseWriter, req *http.Request) {
	records, err := r.store.List(req.Context())
	if err != nil {
		writeOpError(w, err)
		return
	}
	out := make([]serverResponse, 0, len(records))
	for _, record := range records {
		out = append(out, r.serverResponse(record))
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": out})
}

func (r *Router) handleCreateServer(w http.ResponseWriter, req *http.Request) {
	var body serverRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if body.Name == "" || body.Command == "" {
		writeError(w, http.StatusBadRequest, "name and command are required")
		return
	}

	record := &store.ServerRecord{
		Name:      body.Name,
		Command:   body.Command,
		Args:      body.Args,
		Env:       body.Env,
		Icon:    body.Icon,
		Enabled: true,
	}
	if body.Enabled != nil {
		record.Enabled = *body.Enabled
	}
	if body.AutoStart != nil {
		record.AutoStart = *body.AutoStart
	}

	if err := r.store.Create(req.Context(), record); err != nil {
		writeOpError(w, err)
		return
	}
	r.supervisor.NotifyServersChanged(record.ID, record.Name)
	writeJSON(w, http.StatusCreated, r.serverResponse(record))
}

func (r *Router) handleGetServer(w http.ResponseWriter, req *http.Request) {
	record, err := r.store.Get(req.Context(), req.PathValue("id"))
	if err != nil {
		writeOpError(w, err)
		return
	}

	status, err := r.supervisor.GetServerStatus(req.Context(), record.ID)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"server": r.serverResponse(record),
		"status": status,
	})
}

func (r *Router) handleUpdateServer(w http.ResponseWriter, req *http.Request) {
	record, err := r.store.Get(req.Context(), req.PathValue("id"))
	if err != nil {
		writeOpError(w, err)
		return
	}

	var body serverRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	if body.Name != "" {
		record.Name = body.Name
	}
	if body.Command != "" {
		record.Command = body.Command
	}
	if body.Args != nil {
		record.Args = body.Args
	}
	if body.Env != nil {
		record.Env = body.Env
	}
	if body.Icon != "" {
		record.Icon = body.Icon
	}
	if body.Enabled != nil {
		record.Enabled = *body.Enabled
	}
	if body.AutoStart != nil {
		record.AutoStart = *body.AutoStart
	}

	if err := r.store.Update(req.Context(), record); err != nil {
		writeOpError(w, err)
		return
	}
	r.supervisor.NotifyServersChanged(record.ID, record.Name)
	writeJSON(w, http.StatusOK, r.serverResponse(record))
}

func (r *Router) handleDeleteServer(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")

	// Stop before forgetting, so no orphan process survives the delete.
	r.supervisor.StopServer(id)

	if err := r.store.Delete(req.Context(), id); err != nil {
		writeOpError(w, err)
		return
	}
	r.supervisor.NotifyServersChanged(id, "")
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (r *Router) handleStartServer(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if err := r.supervisor.StartServer(req.Context(), id); err != nil {
		writeOpError(w, err)
		return
	}
	status, err := r.supervisor.GetServerStatus(req.Context(), id)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (r *Router) handleStopServer(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	r.supervisor.StopServer(id)
	writeJSON(w, http.StatusOK, map[string]string{"stopped": id})
}

func (r *Router) handleRestartServer(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if err := r.supervisor.RestartServer(req.Context(), id); err != nil {
		writeOpError(w, err)
		return
	}
	status, err := r.supervisor.GetServerStatus(req.Context(), id)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (r *Router) handleEnableServer(w http.ResponseWriter, req *http.Request) {
	r.setEnabled(w, req, true)
}

func (r *Router) handleDisableServer(w http.ResponseWriter, req *http.Request) {
	r.setEnabled(w, req, false)
}

func (r *Router) setEnabled(w http.ResponseWriter, req *http.Request, enabled bool) {
	id := req.PathValue("id")
	if err := r.store.SetEnabled(req.Context(), id, enabled); err != nil {
		writeOpError(w, err)
		return
	}
	// Disabling a running server also stops it.
	if !enabled {
		r.supervisor.StopServer(id)
	}
	r.supervisor.NotifyServersChanged(id, "")
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": enabled})
}

func (r *Router) handleTestServer(w http.ResponseWriter, req *http.Request) {
	var body serverRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if body.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	name := body.Name
	if name == "" {
		name = "test"
	}
	result := r.supervisor.TestServerConfig(req.Context(), mcp.Definition{
		ID:      "test",
		Name:    name,
		Command: body.Command,
		Args:    body.Args,
		Env:     body.Env,
		Enabled: true,
	})
	writeJSON(w, http.StatusOK, result)
}

// watchRequest lists the source files whose changes restart the server.
type watchRequest struct {
	Paths []string `json:"paths"`
}

func (r *Router) handleWatchServer(w http.ResponseWriter, req *http.Request) {
	if r.watcher == nil {
		writeError(w, http.StatusNotImplemented, "file watching is not enabled")
		return
	}
	id := req.PathValue("id")
	if _, err := r.store.Get(req.Context(), id); err != nil {
		writeOpError(w, err)
		return
	}

	var body watchRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if len(body.Paths) == 0 {
		writeError(w, http.StatusBadRequest, "at least one path is required")
		return
	}

	if err := r.watcher.Watch(id, body.Paths); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "watching": body.Paths})
}

func (r *Router) handleUnwatchServer(w http.ResponseWriter, req *http.Request) {
	if r.watcher == nil {
		writeError(w, http.StatusNotImplemented, "file watching is not enabled")
		return
	}
	id := req.PathValue("id")
	if err := r.watcher.Unwatch(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"unwatched": id})
}
