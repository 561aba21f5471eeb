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

/*
Package mcp implements the client side of the Model Context Protocol (MCP):
launching tool servers as child processes, speaking newline-delimited
JSON-RPC 2.0 over their standard streams, and supervising many such
servers from one process.

# Components

  - Session: one live connection to a single server process. Performs the
    initialize handshake, correlates requests with responses by id, applies
    per-request timeouts, dispatches server-initiated notifications, and
    caches the server's tool and resource catalogs.
  - Supervisor: owns the set of running Sessions keyed by server id. Drives
    lifecycle (auto-start, start/stop/restart, bulk shutdown), aggregates
    discovery data across servers, and routes tool calls by name.

# Session lifecycle

A Session moves Disconnected -> Connecting -> Connected, or to Failed when
the connect attempt cannot complete. Once a Session leaves Connected it is
terminal; reconnecting means constructing a fresh Session. Connect spawns
the child process, wires its stdout as the protocol stream and its stderr
as diagnostics, then performs the handshake:

	sess := mcp.NewSession(mcp.SessionConfig{Definition: def})
	if err := sess.Connect(ctx); err != nil { ... }
	defer sess.Disconnect()

	result, err := sess.CallTool(ctx, "read_file", map[string]any{
	    "path": "/etc/hosts",
	})

# Supervision

The Supervisor reads server definitions from a DefinitionSource and starts
every definition flagged enabled and auto-start:

	sup := mcp.NewSupervisor(mcp.SupervisorConfig{Source: store})
	if err := sup.Initialize(ctx); err != nil { ... }
	defer sup.StopAll()

	out, err := sup.CallToolByName(ctx, "github__create_issue", args)

Tool names may be qualified as "ServerName__toolName" to disambiguate
identically named tools across servers; bare names route to the first
running server that exposes the tool.
*/
package mcp
