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

// Package demoserver implements 'mcpherd demo-server', a small built-in
// MCP server speaking stdio. It exists so mcpherd can be exercised end
// to end without installing an external server:
//
//	mcpherd server add demo --command mcpherd --arg demo-server
package demoserver

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/mcpherd/mcpherd/internal/commands/shared"
)

// NewCommand creates the demo-server command.
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:    "demo-server",
		Short:  "Run the built-in demo MCP server over stdio",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
}

func run() error {
	version, _, _ := shared.GetVersion()
	srv := server.NewMCPServer("mcpherd-demo", version)

	srv.AddTool(mcp.Tool{
		Name:        "echo",
		Description: "Echo the given text back to the caller.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"text": map[string]interface{}{
					"type":        "string",
					"description": "Text to echo",
				},
			},
			Required: []string{"text"},
		},
	}, handleEcho)

	srv.AddTool(mcp.Tool{
		Name:        "time",
		Description: "Return the current time, optionally in a given Go layout.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"layout": map[string]interface{}{
					"type":        "string",
					"description": "Go time layout (default RFC3339)",
				},
			},
		},
	}, handleTime)

	srv.AddTool(mcp.Tool{
		Name:        "env",
		Description: "Read an environment variable of the demo server process.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Variable name",
				},
			},
			Required: []string{"name"},
		},
	}, handleEnv)

	if err := server.ServeStdio(srv); err != nil {
		return fmt.Errorf("demo server: %w", err)
	}
	return nil
}

func handleEcho(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("missing or invalid 'text' argument"), nil
	}
	return textResult(text), nil
}

func handleTime(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	layout := request.GetString("layout", time.RFC3339)
	return textResult(time.Now().Format(layout)), nil
}

func handleEnv(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("missing or invalid 'name' argument"), nil
	}
	value, ok := os.LookupEnv(name)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("environment variable %q is not set", name)), nil
	}
	return textResult(strings.TrimSpace(value)), nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}
