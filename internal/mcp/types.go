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

package mcp

import (
	"encoding/json"
	"time"
)

// protocolVersion is the MCP protocol version advertised during the handshake.
const protocolVersion = "2024-11-05"

// Protocol method names.
const (
	methodInitialize    = "initialize"
	methodToolsList     = "tools/list"
	methodToolsCall     = "tools/call"
	methodResourcesList = "resources/list"
	methodResourcesRead = "resources/read"

	notifInitialized          = "notifications/initialized"
	notifToolsListChanged     = "notifications/tools/list_changed"
	notifResourcesListChanged = "notifications/resources/list_changed"
	notifResourceUpdated      = "notifications/resources/updated"
)

// Definition describes how to launch one MCP server. It is the immutable
// spawn specification a Session is constructed from; persistence and
// display metadata live in the store, not here.
type Definition struct {
	// ID is the stable identity of the server.
	ID string `json:"id"`

	// Name is the unique human-facing name, used for qualified tool routing.
	Name string `json:"name"`

	// Command is the executable to run.
	Command string `json:"command"`

	// Args are command-line arguments passed to the executable.
	Args []string `json:"args,omitempty"`

	// Env are additional environment variables for the subprocess,
	// merged over the current process environment.
	Env map[string]string `json:"env,omitempty"`

	// Enabled gates whether the server may be started at all.
	Enabled bool `json:"enabled"`

	// AutoStart starts the server during Supervisor.Initialize.
	AutoStart bool `json:"auto_start"`
}

// ConnState is the lifecycle state of a Session's connection.
type ConnState string

const (
	// StateDisconnected is the initial state, and the terminal state after
	// a clean disconnect or process exit.
	StateDisconnected ConnState = "disconnected"
	// StateConnecting is set while the process spawns and the handshake runs.
	StateConnecting ConnState = "connecting"
	// StateConnected is set once the handshake and discovery complete.
	StateConnected ConnState = "connected"
	// StateFailed is the terminal state of a connect attempt that could
	// not complete.
	StateFailed ConnState = "failed"
)

// ToolDefinition is an MCP tool as returned by tools/list.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ResourceDefinition is an MCP resource as returned by resources/list.
type ResourceDefinition struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ServerInfo identifies the server implementation, from the initialize result.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolsCapability describes the server's tools capability.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability describes the server's resources capability.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

// PromptsCapability describes the server's prompts capability.
type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerCapabilities describes what an MCP server supports. Discovery
// requests are only issued for capabilities the server advertised.
type ServerCapabilities struct {
	Tools     *ToolsCapability     `json:"tools,omitempty"`
	Resources *ResourcesCapability `json:"resources,omitempty"`
	Prompts   *PromptsCapability   `json:"prompts,omitempty"`
}

// initializeParams is the params payload of the initialize request.
type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      clientInfo     `json:"clientInfo"`
}

// clientInfo identifies this client in the initialize request.
type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// initializeResult is the result payload of the initialize response.
type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ServerInfo         `json:"serverInfo"`
}

// toolsListResult is the result payload of a tools/list response.
type toolsListResult struct {
	Tools []ToolDefinition `json:"tools"`
}

// resourcesListResult is the result payload of a resources/list response.
type resourcesListResult struct {
	Resources []ResourceDefinition `json:"resources"`
}

// ContentItem is a single content block in a tools/call result.
type ContentItem struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ToolCallResult is the result payload of a tools/call response.
type ToolCallResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// ResourceContent is one content entry in a resources/read result.
type ResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// ResourceReadResult is the result payload of a resources/read response.
type ResourceReadResult struct {
	Contents []ResourceContent `json:"contents"`
}

// ServerStatus is a point-in-time snapshot of one server's session.
type ServerStatus struct {
	ServerID  string               `json:"server_id"`
	Name      string               `json:"name"`
	State     ConnState            `json:"state"`
	Running   bool                 `json:"running"`
	StartedAt *time.Time           `json:"started_at,omitempty"`
	Uptime    time.Duration        `json:"uptime,omitempty"`
	Tools     []ToolDefinition     `json:"tools,omitempty"`
	Resources []ResourceDefinition `json:"resources,omitempty"`
	Info      *ServerInfo          `json:"server_info,omitempty"`
	LastError string               `json:"last_error,omitempty"`
}

// ToolInfo is a tool annotated with its owning server's identity, as
// returned by Supervisor.GetAllTools.
type ToolInfo struct {
	ServerID   string         `json:"server_id"`
	ServerName string         `json:"server_name"`
	Tool       ToolDefinition `json:"tool"`
}

// ResourceInfo is a resource annotated with its owning server's identity.
type ResourceInfo struct {
	ServerID   string             `json:"server_id"`
	ServerName string             `json:"server_name"`
	Resource   ResourceDefinition `json:"resource"`
}

// TestResult is the outcome of probing a candidate server definition.
// It is always a value, never an error: the test flow must not blow up
// the caller on a bad configuration.
type TestResult struct {
	Success       bool        `json:"success"`
	Message       string      `json:"message,omitempty"`
	Error         string      `json:"error,omitempty"`
	ServerInfo    *ServerInfo `json:"server_info,omitempty"`
	ToolCount     int         `json:"tool_count"`
	ResourceCount int         `json:"resource_count"`
	ToolNames     []string    `json:"tool_names,omitempty"`
}
