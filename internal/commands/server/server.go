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

// Package server implements the 'mcpherd server' command group for
// managing the server registry.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mcpherd/mcpherd/internal/commands/shared"
	"github.com/mcpherd/mcpherd/internal/store"
)

// NewCommand creates the server command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Manage registered MCP servers",
		Long: `Manage the MCP server registry.

Registered servers can be started, stopped and exposed through
'mcpherd serve'.

Commands:
  add      Register a new MCP server
  list     List all registered servers
  remove   Remove a server from the registry
  enable   Allow a server to be started
  disable  Prevent a server from being started`,
	}

	cmd.AddCommand(newAddCommand())
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newRemoveCommand())
	cmd.AddCommand(newEnableCommand())
	cmd.AddCommand(newDisableCommand())

	return cmd
}

// Resolve finds a server record by name, falling back to id.
func Resolve(ctx context.Context, st *store.Store, nameOrID string) (*store.ServerRecord, error) {
	record, err := st.GetByName(ctx, nameOrID)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, store.ErrServerNotFound) {
		return nil, err
	}
	record, err = st.Get(ctx, nameOrID)
	if err != nil {
		return nil, fmt.Errorf("no server named %q", nameOrID)
	}
	return record, nil
}

func newAddCommand() *cobra.Command {
	var (
		args      []string
		env       []string
		icon      string
		autoStart bool
		disabled  bool
	)

	cmd := &cobra.Command{
		Use:   "add <name> --command <cmd>",
		Short: "Register a new MCP server",
		Long: `Register a new MCP server in the registry.

Examples:
  mcpherd server add filesystem --command npx \
    --arg -y --arg @modelcontextprotocol/server-filesystem --arg /tmp

  mcpherd server add github --command mcp-server-github \
    --env GITHUB_TOKEN=ghp_xxx --auto-start`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, positional []string) error {
			command, _ := cmd.Flags().GetString("command")
			if command == "" {
				return fmt.Errorf("--command is required")
			}
			return runAdd(positional[0], command, args, env, icon, autoStart, !disabled)
		},
	}

	cmd.Flags().String("command", "", "Executable to run (required)")
	cmd.Flags().StringArrayVar(&args, "arg", nil, "Command argument (repeatable)")
	cmd.Flags().StringArrayVar(&env, "env", nil, "Environment variable KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&icon, "icon", "", "Icon or short label for UI surfaces")
	cmd.Flags().BoolVar(&autoStart, "auto-start", false, "Start this server when mcpherd serve starts")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Register the server in a disabled state")

	return cmd
}

func runAdd(name, command string, args, env []string, icon string, autoStart, enabled bool) error {
	rt, err := shared.NewRuntime(shared.Options{})
	if err != nil {
		return err
	}
	defer rt.Close()

	envMap := make(map[string]string, len(env))
	for _, kv := range env {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid --env %q, expected KEY=VALUE", kv)
		}
		envMap[key] = value
	}

	record := &store.ServerRecord{
		Name:      name,
		Command:   command,
		Args:      args,
		Env:       envMap,
		Icon:      icon,
		Enabled:   enabled,
		AutoStart: autoStart,
	}
	if err := rt.Store.Create(context.Background(), record); err != nil {
		if errors.Is(err, store.ErrServerExists) {
			return fmt.Errorf("server %q already exists", name)
		}
		return err
	}

	fmt.Printf("Registered MCP server: %s (%s)\n", name, record.ID)
	return nil
}

func newListCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all registered servers",
		Example: `  # List registered servers
  mcpherd server list

  # Extract server names for scripting
  mcpherd server list --json | jq -r '.servers[].name'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func runList(asJSON bool) error {
	rt, err := shared.NewRuntime(shared.Options{})
	if err != nil {
		return err
	}
	defer rt.Close()

	records, err := rt.Store.List(context.Background())
	if err != nil {
		return err
	}

	if asJSON {
		out, err := json.MarshalIndent(map[string]any{"servers": records}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if len(records) == 0 {
		fmt.Println("No MCP servers registered.")
		fmt.Println("\nTo add a server:")
		fmt.Println("  mcpherd server add <name> --command <cmd>")
		return nil
	}

	fmt.Printf("%-20s %-10s %-12s %s\n", "NAME", "ENABLED", "AUTO-START", "COMMAND")
	fmt.Println(strings.Repeat("-", 70))
	for _, r := range records {
		fmt.Printf("%-20s %-10v %-12v %s\n",
			truncate(r.Name, 20),
			r.Enabled,
			r.AutoStart,
			strings.Join(append([]string{r.Command}, r.Args...), " "),
		)
	}
	return nil
}

func newRemoveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a server from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(args[0])
		},
	}
	return cmd
}

func runRemove(name string) error {
	rt, err := shared.NewRuntime(shared.Options{})
	if err != nil {
		return err
	}
	defer rt.Close()
	ctx := context.Background()

	record, err := Resolve(ctx, rt.Store, name)
	if err != nil {
		return err
	}
	if err := rt.Store.Delete(ctx, record.ID); err != nil {
		return err
	}
	fmt.Printf("Removed MCP server: %s\n", record.Name)
	return nil
}

func newEnableCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <name>",
		Short: "Allow a server to be started",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetEnabled(args[0], true)
		},
	}
}

func newDisableCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <name>",
		Short: "Prevent a server from being started",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetEnabled(args[0], false)
		},
	}
}

func runSetEnabled(name string, enabled bool) error {
	rt, err := shared.NewRuntime(shared.Options{})
	if err != nil {
		return err
	}
	defer rt.Close()
	ctx := context.Background()

	record, err := Resolve(ctx, rt.Store, name)
	if err != nil {
		return err
	}
	if err := rt.Store.SetEnabled(ctx, record.ID, enabled); err != nil {
		return err
	}

	if enabled {
		fmt.Printf("Enabled MCP server: %s\n", record.Name)
	} else {
		fmt.Printf("Disabled MCP server: %s\n", record.Name)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
