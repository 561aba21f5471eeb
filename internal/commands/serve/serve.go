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

// Package serve implements 'mcpherd serve', the long-running supervisor
// daemon with the HTTP API.
package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpherd/mcpherd/internal/api"
	"github.com/mcpherd/mcpherd/internal/commands/shared"
	"github.com/mcpherd/mcpherd/internal/mcp"
)

// NewCommand creates the serve command.
func NewCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the mcpherd supervisor daemon",
		Long: `Run the supervisor daemon.

Servers marked auto-start are started immediately. The HTTP API exposes
registry management, lifecycle control, aggregated tool and resource
catalogs, tool invocation, Prometheus metrics at /metrics and a
server-sent event stream at /v1/events.

Examples:
  mcpherd serve
  mcpherd serve --listen 127.0.0.1:9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(listen)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default from settings.yaml)")
	return cmd
}

func run(listen string) error {
	rt, err := shared.NewRuntime(shared.Options{})
	if err != nil {
		return err
	}
	defer rt.Close()

	if listen == "" {
		listen = rt.Config.API.Listen
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Auto-start failures are reported but do not prevent the daemon
	// from serving; the failed servers can be started over the API.
	if err := rt.Supervisor.Initialize(ctx); err != nil {
		rt.Logger.Warn("some servers failed to auto-start", "error", err)
	}

	watcher, err := mcp.NewWatcher(mcp.WatcherConfig{
		Supervisor: rt.Supervisor,
		Logger:     rt.Logger,
	})
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer watcher.Close()

	version, _, _ := shared.GetVersion()
	router := api.NewRouter(api.RouterConfig{
		Supervisor: rt.Supervisor,
		Store:      rt.Store,
		Logger:     rt.Logger,
		Version:    version,
		Watcher:    watcher,
	})

	srv := &http.Server{
		Addr:              listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		rt.Logger.Info("mcpherd serve listening", "addr", listen)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		rt.Logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		rt.Logger.Warn("http shutdown incomplete", "error", err)
	}

	// rt.Close stops all running servers.
	return nil
}
