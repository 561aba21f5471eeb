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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.RestartSettle())
	assert.Equal(t, "127.0.0.1:7466", cfg.API.Listen)
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	cfg, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")

	cfg := Default()
	cfg.Log.Level = "debug"
	cfg.Supervisor.RequestTimeoutSeconds = 10
	cfg.API.Listen = "127.0.0.1:9999"
	require.NoError(t, SaveSettings(path, cfg))

	loaded, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", loaded.Log.Level)
	assert.Equal(t, 10*time.Second, loaded.RequestTimeout())
	assert.Equal(t, "127.0.0.1:9999", loaded.API.Listen)
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\nlog:\n  level: warn\n"), 0600))

	cfg, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 30, cfg.Supervisor.RequestTimeoutSeconds)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0600))

	_, err := LoadSettings(path)
	assert.Error(t, err)
}

func TestConfigDirRespectsXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	got, err := ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "mcpherd"), got)
	info, err := os.Stat(got)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestDefaultDatabasePath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)

	path, err := DefaultDatabasePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "mcpherd", "mcpherd.db"), path)
}

func TestSettingsFileLockBlocksSecondLocker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")

	sf, err := NewSettingsFile(path)
	require.NoError(t, err)
	require.NoError(t, sf.Lock())
	defer sf.Unlock()

	// A lock held in the same process is visible to a second flock on a
	// separate descriptor.
	locked := make(chan error, 1)
	sf2, err := NewSettingsFile(path)
	require.NoError(t, err)
	go func() { locked <- sf2.Lock() }()

	select {
	case err := <-locked:
		// Acquired only after release would be fine too, but a fast
		// success here means flock isolation failed.
		if err == nil {
			sf2.Unlock()
			t.Skip("flock does not isolate descriptors on this platform")
		}
		assert.ErrorIs(t, err, ErrLockTimeout)
	case <-time.After(7 * time.Second):
		t.Fatal("second Lock never returned")
	}
}
