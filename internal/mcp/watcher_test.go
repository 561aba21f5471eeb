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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherRequiresSupervisor(t *testing.T) {
	_, err := NewWatcher(WatcherConfig{})
	require.Error(t, err)
}

func TestWatcherValidation(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	w, err := NewWatcher(WatcherConfig{Supervisor: sup})
	require.NoError(t, err)
	defer w.Close()

	assert.Error(t, w.Watch("", []string{"/tmp/x"}))
	assert.Error(t, w.Watch("id", nil))
	assert.NoError(t, w.Unwatch("never-watched"))
}

func TestWatcherRestartsServerOnFileChange(t *testing.T) {
	def := helperDefinition("alpha", nil)
	sup, _ := newTestSupervisor(t, def)
	ctx := context.Background()
	require.NoError(t, sup.StartServer(ctx, def.ID))

	first, err := sup.GetServerStatus(ctx, def.ID)
	require.NoError(t, err)
	require.NotNil(t, first.StartedAt)

	watched := filepath.Join(t.TempDir(), "server.py")
	require.NoError(t, os.WriteFile(watched, []byte("v1"), 0o644))

	w, err := NewWatcher(WatcherConfig{
		Supervisor:    sup,
		DebounceDelay: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Watch(def.ID, []string{watched}))

	require.NoError(t, os.WriteFile(watched, []byte("v2"), 0o644))

	require.Eventually(t, func() bool {
		st, err := sup.GetServerStatus(ctx, def.ID)
		if err != nil || st.StartedAt == nil {
			return false
		}
		return st.Running && st.StartedAt.After(*first.StartedAt)
	}, 5*time.Second, 50*time.Millisecond, "server was not restarted after file change")
}

func TestWatcherUnwatchCancelsRestart(t *testing.T) {
	def := helperDefinition("alpha", nil)
	sup, _ := newTestSupervisor(t, def)
	ctx := context.Background()
	require.NoError(t, sup.StartServer(ctx, def.ID))

	first, err := sup.GetServerStatus(ctx, def.ID)
	require.NoError(t, err)

	watched := filepath.Join(t.TempDir(), "server.py")
	require.NoError(t, os.WriteFile(watched, []byte("v1"), 0o644))

	w, err := NewWatcher(WatcherConfig{
		Supervisor:    sup,
		DebounceDelay: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Watch(def.ID, []string{watched}))

	require.NoError(t, os.WriteFile(watched, []byte("v2"), 0o644))
	time.Sleep(50 * time.Millisecond) // let the event land, inside the debounce window
	require.NoError(t, w.Unwatch(def.ID))

	time.Sleep(400 * time.Millisecond)
	st, err := sup.GetServerStatus(ctx, def.ID)
	require.NoError(t, err)
	require.NotNil(t, st.StartedAt)
	assert.True(t, st.StartedAt.Equal(*first.StartedAt), "unwatched server should not restart")
}
