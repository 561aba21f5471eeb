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

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcpherd/mcpherd/internal/commands/control"
	"github.com/mcpherd/mcpherd/internal/commands/demoserver"
	"github.com/mcpherd/mcpherd/internal/commands/serve"
	"github.com/mcpherd/mcpherd/internal/commands/server"
	"github.com/mcpherd/mcpherd/internal/commands/shared"
	versioncmd "github.com/mcpherd/mcpherd/internal/commands/version"
	"github.com/mcpherd/mcpherd/internal/mcp"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	shared.Version = version
	shared.Commit = commit
	shared.BuildDate = buildDate
	mcp.SetClientVersion(version)

	rootCmd := &cobra.Command{
		Use:   "mcpherd",
		Short: "Supervise MCP servers and aggregate their tools",
		Long: `mcpherd manages a fleet of MCP (Model Context Protocol) servers.

It spawns each server as a child process, speaks JSON-RPC over stdio,
and presents the combined tool and resource catalog under one roof.
Register servers with 'mcpherd server add', then run them through the
daemon ('mcpherd serve') or one-shot commands like 'mcpherd call'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Registry management
	rootCmd.AddCommand(server.NewCommand())

	// Lifecycle, tools and resources
	for _, cmd := range control.Commands() {
		rootCmd.AddCommand(cmd)
	}

	// Daemon
	rootCmd.AddCommand(serve.NewCommand())

	// Built-in demo MCP server
	rootCmd.AddCommand(demoserver.NewCommand())

	rootCmd.AddCommand(versioncmd.NewCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
