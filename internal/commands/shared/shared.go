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

// Package shared provides the runtime bootstrap used by every mcpherd
// command: settings, logging, the server registry and the supervisor.
package shared

import (
	"fmt"
	"log/slog"

	"github.com/mcpherd/mcpherd/internal/config"
	"github.com/mcpherd/mcpherd/internal/log"
	"github.com/mcpherd/mcpherd/internal/mcp"
	"github.com/mcpherd/mcpherd/internal/store"
)

// Version information, injected via ldflags at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// GetVersion returns version, commit and build date.
func GetVersion() (string, string, string) {
	return Version, Commit, BuildDate
}

// Runtime bundles the long-lived pieces a command works with.
type Runtime struct {
	Config     *config.Config
	Logger     *slog.Logger
	Store      *store.Store
	Supervisor *mcp.Supervisor
}

// Options tweaks runtime construction.
type Options struct {
	// SettingsPath overrides the settings.yaml location (tests, --config).
	SettingsPath string

	// DatabasePath overrides the registry database location.
	DatabasePath string
}

// NewRuntime loads settings, sets up logging, opens the registry and
// builds a supervisor over it. Call Close when done.
func NewRuntime(opts Options) (*Runtime, error) {
	cfg, err := config.LoadSettings(opts.SettingsPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	// Environment beats the settings file, so MCPHERD_DEBUG=1 works
	// regardless of what settings.yaml says.
	logCfg := log.FromEnv()
	if logCfg.Level == log.DefaultConfig().Level {
		logCfg.Level = cfg.Log.Level
	}
	if cfg.Log.Format == "text" {
		logCfg.Format = log.FormatText
	}
	logger := log.New(logCfg)
	slog.SetDefault(logger)

	dbPath := opts.DatabasePath
	if dbPath == "" {
		dbPath = cfg.Database.Path
	}
	if dbPath == "" {
		dbPath, err = config.DefaultDatabasePath()
		if err != nil {
			return nil, fmt.Errorf("resolve database path: %w", err)
		}
	}

	st, err := store.Open(store.Config{Path: dbPath})
	if err != nil {
		return nil, fmt.Errorf("open server registry: %w", err)
	}

	sup := mcp.NewSupervisor(mcp.SupervisorConfig{
		Source:         st,
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout(),
		RestartSettle:  cfg.RestartSettle(),
	})

	return &Runtime{
		Config:     cfg,
		Logger:     logger,
		Store:      st,
		Supervisor: sup,
	}, nil
}

// Close stops all servers and releases the registry.
func (r *Runtime) Close() {
	r.Supervisor.Close()
	if err := r.Store.Close(); err != nil {
		r.Logger.Warn("failed to close server registry", "error", err)
	}
}
