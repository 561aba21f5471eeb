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
)

// toolEntry is one aggregated tool with its qualified name.
type toolEntry struct {
	QualifiedName string `json:"qualified_name"`
	mcp.ToolInfo
}

func (r *Router) handleListTools(w http.ResponseWriter, req *http.Request) {
	tools := r.supervisor.GetAllTools()
	out := make([]toolEntry, 0, len(tools))
	for _, ti := range tools {
		out = append(out, toolEntry{
			QualifiedName: mcp.QualifiedToolName(ti.ServerName, ti.Tool.Name),
			ToolInfo:      ti,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": out})
}

// callToolRequest invokes a tool. Name may be qualified
// ("Server__tool") or bare; server_id pins the call to one server and
// takes precedence over the name qualifier.
type callToolRequest struct {
	ServerID  string         `json:"server_id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

func (r *Router) handleCallTool(w http.ResponseWriter, req *http.Request) {
	var body callToolRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "tool name is required")
		return
	}

	var result *mcp.ToolCallResult
	var err error
	if body.ServerID != "" {
		result, err = r.supervisor.CallTool(req.Context(), body.ServerID, body.Name, body.Arguments)
	} else {
		result, err = r.supervisor.CallToolByName(req.Context(), body.Name, body.Arguments)
	}
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) handleCancelToolCalls(w http.ResponseWriter, req *http.Request) {
	r.supervisor.CancelAllToolCalls()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (r *Router) handleListResources(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"resources": r.supervisor.GetAllResources(),
	})
}

// readResourceRequest reads one resource from one server.
type readResourceRequest struct {
	ServerID string `json:"server_id"`
	URI      string `json:"uri"`
}

func (r *Router) handleReadResource(w http.ResponseWriter, req *http.Request) {
	var body readResourceRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if body.ServerID == "" || body.URI == "" {
		writeError(w, http.StatusBadRequest, "server_id and uri are required")
		return
	}

	result, err := r.supervisor.ReadResource(req.Context(), body.ServerID, body.URI)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
