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
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors server source files and restarts the owning server
// through the supervisor when they change. Useful while developing a
// local MCP server: edit, save, and the next tool call hits the new
// build.
type Watcher struct {
	fsWatcher  *fsnotify.Watcher
	supervisor *Supervisor
	logger     *slog.Logger

	// debounceDelay coalesces bursts of writes into one restart.
	debounceDelay time.Duration

	// restartTimeout bounds each triggered restart.
	restartTimeout time.Duration

	// mu protects watchedServers and pendingRestarts.
	mu sync.Mutex

	// watchedServers maps server ids to their watched paths.
	watchedServers map[string][]string

	// pendingRestarts tracks servers with pending debounced restarts.
	pendingRestarts map[string]*time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// Supervisor receives the restart calls. Required.
	Supervisor *Supervisor

	// Logger is used for structured logging (optional).
	Logger *slog.Logger

	// DebounceDelay is the delay before triggering a restart after file
	// changes (defaults to 200ms).
	DebounceDelay time.Duration
}

// NewWatcher creates a file watcher bound to the supervisor.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Supervisor == nil {
		return nil, fmt.Errorf("supervisor is required")
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounceDelay := cfg.DebounceDelay
	if debounceDelay == 0 {
		debounceDelay = 200 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		fsWatcher:       fsWatcher,
		supervisor:      cfg.Supervisor,
		logger:          logger.With("component", "watcher"),
		debounceDelay:   debounceDelay,
		restartTimeout:  time.Minute,
		watchedServers:  make(map[string][]string),
		pendingRestarts: make(map[string]*time.Timer),
		ctx:             ctx,
		cancel:          cancel,
	}

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// Watch adds file paths to watch for a server id. When any of them
// changes the server is restarted.
func (w *Watcher) Watch(serverID string, paths []string) error {
	if serverID == "" {
		return fmt.Errorf("server id is required")
	}
	if len(paths) == 0 {
		return fmt.Errorf("at least one path is required")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, path := range paths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("failed to resolve path %s: %w", path, err)
		}
		if err := w.fsWatcher.Add(absPath); err != nil {
			return fmt.Errorf("failed to watch path %s: %w", absPath, err)
		}
		w.logger.Debug("watching path", "server_id", serverID, "path", absPath)
	}

	w.watchedServers[serverID] = paths
	return nil
}

// Unwatch removes the file watches for a server id.
func (w *Watcher) Unwatch(serverID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	paths, exists := w.watchedServers[serverID]
	if !exists {
		return nil
	}

	for _, path := range paths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			continue
		}
		// Keep the path registered if another server still watches it.
		inUse := false
		for otherID, otherPaths := range w.watchedServers {
			if otherID == serverID {
				continue
			}
			for _, otherPath := range otherPaths {
				otherAbs, _ := filepath.Abs(otherPath)
				if otherAbs == absPath {
					inUse = true
					break
				}
			}
			if inUse {
				break
			}
		}
		if !inUse {
			_ = w.fsWatcher.Remove(absPath)
		}
	}

	delete(w.watchedServers, serverID)

	if timer, exists := w.pendingRestarts[serverID]; exists {
		timer.Stop()
		delete(w.pendingRestarts, serverID)
	}
	return nil
}

// processEvents consumes filesystem events and schedules restarts.
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.handleFileChange(event.Name)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", "error", err)

		case <-w.ctx.Done():
			return
		}
	}
}

// handleFileChange schedules a debounced restart for every server
// watching the changed path.
func (w *Watcher) handleFileChange(changedPath string) {
	absPath, err := filepath.Abs(changedPath)
	if err != nil {
		return
	}

	var toRestart []string
	w.mu.Lock()
	for serverID, watchedPaths := range w.watchedServers {
		for _, watchedPath := range watchedPaths {
			watchedAbs, _ := filepath.Abs(watchedPath)
			if watchedAbs == absPath {
				toRestart = append(toRestart, serverID)
				break
			}
		}
	}
	w.mu.Unlock()

	for _, serverID := range toRestart {
		w.logger.Info("server source file changed", "server_id", serverID, "file", absPath)
		w.scheduleRestart(serverID)
	}
}

// scheduleRestart resets the debounce timer for a server.
func (w *Watcher) scheduleRestart(serverID string) {
	w.mu.Lock()
	if timer, exists := w.pendingRestarts[serverID]; exists {
		timer.Stop()
	}
	id := serverID
	w.pendingRestarts[serverID] = time.AfterFunc(w.debounceDelay, func() {
		w.triggerRestart(id)
	})
	w.mu.Unlock()
}

// triggerRestart restarts a server after its debounce expires.
func (w *Watcher) triggerRestart(serverID string) {
	w.mu.Lock()
	delete(w.pendingRestarts, serverID)
	w.mu.Unlock()

	w.logger.Info("restarting server after file changes", "server_id", serverID)

	ctx, cancel := context.WithTimeout(w.ctx, w.restartTimeout)
	defer cancel()
	if err := w.supervisor.RestartServer(ctx, serverID); err != nil {
		w.logger.Error("failed to restart server", "server_id", serverID, "error", err)
	}
}

// Close shuts down the watcher.
func (w *Watcher) Close() error {
	w.cancel()

	w.mu.Lock()
	for _, timer := range w.pendingRestarts {
		timer.Stop()
	}
	w.mu.Unlock()

	w.wg.Wait()
	return w.fsWatcher.Close()
}
