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

// Package control implements the operational mcpherd commands: start,
// stop, restart and status drive a running 'mcpherd serve' instance
// over its HTTP API; tools, resources, call, read and test spawn the
// servers in-process for one-shot use.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mcpherd/mcpherd/internal/commands/server"
	"github.com/mcpherd/mcpherd/internal/commands/shared"
	"github.com/mcpherd/mcpherd/internal/mcp"
)

// Commands returns the top-level operational commands.
func Commands() []*cobra.Command {
	return []*cobra.Command{
		newStartCommand(),
		newStopCommand(),
		newRestartCommand(),
		newStatusCommand(),
		newToolsCommand(),
		newResourcesCommand(),
		newCallCommand(),
		newReadCommand(),
		newTestCommand(),
	}
}

// resolveID maps a server name to its id via the daemon's registry.
func resolveID(ctx context.Context, client *apiClient, name string) (string, error) {
	data, err := client.get(ctx, "/v1/servers")
	if err != nil {
		return "", err
	}
	var resp struct {
		Servers []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"servers"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	for _, s := range resp.Servers {
		if s.Name == name || s.ID == name {
			return s.ID, nil
		}
	}
	return "", fmt.Errorf("no server named %q", name)
}

func newStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start <name>",
		Short: "Start a registered MCP server",
		Long: `Start a registered MCP server in a running 'mcpherd serve' instance.

Examples:
  mcpherd start github`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()
			ctx := context.Background()
			id, err := resolveID(ctx, client, args[0])
			if err != nil {
				return err
			}
			if _, err := client.post(ctx, "/v1/servers/"+id+"/start", nil); err != nil {
				return err
			}
			fmt.Printf("Started MCP server: %s\n", args[0])
			return nil
		},
	}
}

func newStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <name>",
		Short: "Stop a running MCP server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()
			ctx := context.Background()
			id, err := resolveID(ctx, client, args[0])
			if err != nil {
				return err
			}
			if _, err := client.post(ctx, "/v1/servers/"+id+"/stop", nil); err != nil {
				return err
			}
			fmt.Printf("Stopped MCP server: %s\n", args[0])
			return nil
		},
	}
}

func newRestartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <name>",
		Short: "Restart an MCP server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()
			ctx := context.Background()
			id, err := resolveID(ctx, client, args[0])
			if err != nil {
				return err
			}
			if _, err := client.post(ctx, "/v1/servers/"+id+"/restart", nil); err != nil {
				return err
			}
			fmt.Printf("Restarted MCP server: %s\n", args[0])
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of all registered servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func runStatus(asJSON bool) error {
	rt, err := shared.NewRuntime(shared.Options{})
	if err != nil {
		return err
	}
	defer rt.Close()

	statuses, err := rt.Supervisor.GetAllServerStatus(context.Background())
	if err != nil {
		return err
	}

	if asJSON {
		out, err := json.MarshalIndent(map[string]any{"servers": statuses}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if len(statuses) == 0 {
		fmt.Println("No MCP servers registered.")
		return nil
	}

	fmt.Printf("%-20s %-14s %-8s %s\n", "NAME", "STATE", "TOOLS", "LAST ERROR")
	fmt.Println(strings.Repeat("-", 60))
	for _, st := range statuses {
		fmt.Printf("%-20s %-14s %-8d %s\n", st.Name, st.State, len(st.Tools), st.LastError)
	}
	return nil
}

// startServers connects the named servers, or every enabled server when
// names is empty. Returns the runtime; the caller closes it.
func startServers(names []string) (*shared.Runtime, error) {
	rt, err := shared.NewRuntime(shared.Options{})
	if err != nil {
		return nil, err
	}
	ctx := context.Background()

	if len(names) == 0 {
		defs, err := rt.Store.ListDefinitions(ctx)
		if err != nil {
			rt.Close()
			return nil, err
		}
		for _, def := range defs {
			if !def.Enabled {
				continue
			}
			if err := rt.Supervisor.StartServer(ctx, def.ID); err != nil {
				rt.Logger.Warn("failed to start server", "server", def.Name, "error", err)
			}
		}
		return rt, nil
	}

	for _, name := range names {
		record, err := server.Resolve(ctx, rt.Store, name)
		if err != nil {
			rt.Close()
			return nil, err
		}
		if err := rt.Supervisor.StartServer(ctx, record.ID); err != nil {
			rt.Close()
			return nil, fmt.Errorf("start %s: %w", record.Name, err)
		}
	}
	return rt, nil
}

func newToolsCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tools [server...]",
		Short: "List tools exposed by MCP servers",
		Long: `Start the given servers (or all enabled servers) and list the tools
they expose. Tool names are shown qualified as Server__tool.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTools(args, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func runTools(names []string, asJSON bool) error {
	rt, err := startServers(names)
	if err != nil {
		return err
	}
	defer rt.Close()

	tools := rt.Supervisor.GetAllTools()

	if asJSON {
		out, err := json.MarshalIndent(map[string]any{"tools": tools}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if len(tools) == 0 {
		fmt.Println("No tools available.")
		return nil
	}
	for _, ti := range tools {
		qualified := mcp.QualifiedToolName(ti.ServerName, ti.Tool.Name)
		if ti.Tool.Description != "" {
			fmt.Printf("%-40s %s\n", qualified, ti.Tool.Description)
		} else {
			fmt.Println(qualified)
		}
	}
	return nil
}

func newResourcesCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "resources [server...]",
		Short: "List resources exposed by MCP servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResources(args, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func runResources(names []string, asJSON bool) error {
	rt, err := startServers(names)
	if err != nil {
		return err
	}
	defer rt.Close()

	resources := rt.Supervisor.GetAllResources()

	if asJSON {
		out, err := json.MarshalIndent(map[string]any{"resources": resources}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if len(resources) == 0 {
		fmt.Println("No resources available.")
		return nil
	}
	for _, ri := range resources {
		fmt.Printf("%-20s %s\n", ri.ServerName, ri.Resource.URI)
	}
	return nil
}

func newCallCommand() *cobra.Command {
	var (
		argPairs []string
		argsJSON string
		servers  []string
	)

	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Invoke a tool on an MCP server",
		Long: `Invoke a tool. The tool name may be qualified (Server__tool) to pin
it to one server, or bare to use the first server exposing it.

Examples:
  mcpherd call filesystem__read_file --arg path=/etc/hostname
  mcpherd call search --json-args '{"query": "golang", "limit": 5}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, positional []string) error {
			return runCall(positional[0], argPairs, argsJSON, servers)
		},
	}

	cmd.Flags().StringArrayVar(&argPairs, "arg", nil, "Tool argument key=value (repeatable)")
	cmd.Flags().StringVar(&argsJSON, "json-args", "", "Tool arguments as a JSON object")
	cmd.Flags().StringArrayVar(&servers, "server", nil, "Only start these servers (default: the tool's qualifier, or all enabled)")

	return cmd
}

func runCall(tool string, argPairs []string, argsJSON string, servers []string) error {
	arguments := map[string]any{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &arguments); err != nil {
			return fmt.Errorf("invalid --json-args: %w", err)
		}
	}
	for _, kv := range argPairs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid --arg %q, expected key=value", kv)
		}
		arguments[key] = value
	}

	// A qualified tool only needs its own server started.
	if len(servers) == 0 {
		if serverName, _ := mcp.SplitToolName(tool); serverName != "" {
			servers = []string{serverName}
		}
	}

	rt, err := startServers(servers)
	if err != nil {
		return err
	}
	defer rt.Close()

	result, err := rt.Supervisor.CallToolByName(context.Background(), tool, arguments)
	if err != nil {
		return err
	}
	return printToolResult(result)
}

func printToolResult(result *mcp.ToolCallResult) error {
	if result.IsError {
		var parts []string
		for _, item := range result.Content {
			if item.Text != "" {
				parts = append(parts, item.Text)
			}
		}
		return fmt.Errorf("tool returned an error: %s", strings.Join(parts, "; "))
	}

	for _, item := range result.Content {
		switch item.Type {
		case "text":
			fmt.Println(item.Text)
		default:
			out, err := json.Marshal(item)
			if err != nil {
				continue
			}
			fmt.Println(string(out))
		}
	}
	return nil
}

func newReadCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "read <server> <uri>",
		Short:   "Read a resource from an MCP server",
		Example: `  mcpherd read filesystem file:///tmp/notes.txt`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(args[0], args[1])
		},
	}
}

func runRead(serverName, uri string) error {
	rt, err := startServers([]string{serverName})
	if err != nil {
		return err
	}
	defer rt.Close()
	ctx := context.Background()

	record, err := server.Resolve(ctx, rt.Store, serverName)
	if err != nil {
		return err
	}

	result, err := rt.Supervisor.ReadResource(ctx, record.ID, uri)
	if err != nil {
		return err
	}
	for _, content := range result.Contents {
		if content.Text != "" {
			fmt.Println(content.Text)
		} else if content.Blob != "" {
			fmt.Println(content.Blob)
		}
	}
	return nil
}

func newTestCommand() *cobra.Command {
	var (
		command string
		args    []string
		env     []string
	)

	cmd := &cobra.Command{
		Use:   "test [name]",
		Short: "Test an MCP server configuration",
		Long: `Test a server by starting it, performing the handshake, and listing
its tools. Pass a registered server name, or describe an unregistered
candidate with --command.

Examples:
  mcpherd test github
  mcpherd test --command npx --arg -y --arg @modelcontextprotocol/server-everything`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, positional []string) error {
			if len(positional) == 0 && command == "" {
				return fmt.Errorf("pass a server name or --command")
			}
			name := ""
			if len(positional) == 1 {
				name = positional[0]
			}
			return runTest(name, command, args, env)
		},
	}

	cmd.Flags().StringVar(&command, "command", "", "Executable to test without registering it")
	cmd.Flags().StringArrayVar(&args, "arg", nil, "Command argument (repeatable)")
	cmd.Flags().StringArrayVar(&env, "env", nil, "Environment variable KEY=VALUE (repeatable)")

	return cmd
}

func runTest(name, command string, args, env []string) error {
	rt, err := shared.NewRuntime(shared.Options{})
	if err != nil {
		return err
	}
	defer rt.Close()
	ctx := context.Background()

	var def mcp.Definition
	if command != "" {
		envMap := make(map[string]string, len(env))
		for _, kv := range env {
			key, value, ok := strings.Cut(kv, "=")
			if !ok || key == "" {
				return fmt.Errorf("invalid --env %q, expected KEY=VALUE", kv)
			}
			envMap[key] = value
		}
		label := name
		if label == "" {
			label = "test"
		}
		def = mcp.Definition{
			ID:      "test",
			Name:    label,
			Command: command,
			Args:    args,
			Env:     envMap,
			Enabled: true,
		}
	} else {
		record, err := server.Resolve(ctx, rt.Store, name)
		if err != nil {
			return err
		}
		def = record.Definition()
	}

	result := rt.Supervisor.TestServerConfig(ctx, def)
	if !result.Success {
		fmt.Printf("FAIL  %s\n", result.Message)
		if result.Error != "" {
			fmt.Printf("      %s\n", result.Error)
		}
		return fmt.Errorf("server test failed")
	}

	fmt.Printf("OK    %s\n", result.Message)
	if result.ServerInfo != nil {
		fmt.Printf("      server: %s %s\n", result.ServerInfo.Name, result.ServerInfo.Version)
	}
	fmt.Printf("      tools: %d, resources: %d\n", result.ToolCount, result.ResourceCount)
	for _, tool := range result.ToolNames {
		fmt.Printf("        - %s\n", tool)
	}
	return nil
}
