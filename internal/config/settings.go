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

// Package config manages mcpherd's settings.yaml and its on-disk
// locations. Settings access goes through an exclusive file lock so
// concurrent CLI invocations cannot corrupt the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrLockTimeout is returned when file lock acquisition times out.
var ErrLockTimeout = errors.New("configuration locked by another process")

// lockTimeout is the maximum duration to wait for lock acquisition.
const lockTimeout = 5 * time.Second

// Config is the persisted mcpherd configuration.
type Config struct {
	// Version is the settings schema version.
	Version int `yaml:"version"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log"`

	// Database overrides the server registry database path.
	Database DatabaseConfig `yaml:"database"`

	// Supervisor tunes session and supervision behavior.
	Supervisor SupervisorConfig `yaml:"supervisor"`

	// API configures the HTTP server started by mcpherd serve.
	API APIConfig `yaml:"api"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is json or text.
	Format string `yaml:"format"`
}

// DatabaseConfig configures the server registry database.
type DatabaseConfig struct {
	// Path is the SQLite file path. Empty means the XDG default.
	Path string `yaml:"path,omitempty"`
}

// SupervisorConfig tunes session and supervision behavior.
type SupervisorConfig struct {
	// RequestTimeoutSeconds bounds each request to a server (default 30).
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`

	// RestartSettleMillis is the pause between stop and start during a
	// restart (default 500).
	RestartSettleMillis int `yaml:"restart_settle_millis"`
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	// Listen is the address for mcpherd serve (default 127.0.0.1:7466).
	Listen string `yaml:"listen"`
}

// Default returns the configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{Version: 1}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Supervisor.RequestTimeoutSeconds <= 0 {
		c.Supervisor.RequestTimeoutSeconds = 30
	}
	if c.Supervisor.RestartSettleMillis <= 0 {
		c.Supervisor.RestartSettleMillis = 500
	}
	if c.API.Listen == "" {
		c.API.Listen = "127.0.0.1:7466"
	}
}

// RequestTimeout returns the configured per-request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Supervisor.RequestTimeoutSeconds) * time.Second
}

// RestartSettle returns the configured restart settle interval.
func (c *Config) RestartSettle() time.Duration {
	return time.Duration(c.Supervisor.RestartSettleMillis) * time.Millisecond
}

// SettingsPath returns the full path to the settings.yaml file.
func SettingsPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.yaml"), nil
}

// SettingsFile manages the settings.yaml file with file locking for
// concurrent access protection.
type SettingsFile struct {
	path     string
	lockFile *os.File
}

// NewSettingsFile creates a SettingsFile for the given path, or the
// default settings path when path is empty.
func NewSettingsFile(path string) (*SettingsFile, error) {
	if path == "" {
		var err error
		path, err = SettingsPath()
		if err != nil {
			return nil, fmt.Errorf("failed to get settings path: %w", err)
		}
	}
	return &SettingsFile{path: path}, nil
}

// Lock acquires an exclusive lock on the settings file. Returns
// ErrLockTimeout if the lock cannot be acquired within the timeout.
func (s *SettingsFile) Lock() error {
	lockPath := s.path + ".lock"

	if err := os.MkdirAll(filepath.Dir(lockPath), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}

	deadline := time.Now().Add(lockTimeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			s.lockFile = lockFile
			return nil
		}
		if time.Now().After(deadline) {
			lockFile.Close()
			return ErrLockTimeout
		}
		<-ticker.C
	}
}

// Unlock releases the file lock.
func (s *SettingsFile) Unlock() error {
	if s.lockFile == nil {
		return nil
	}
	if err := syscall.Flock(int(s.lockFile.Fd()), syscall.LOCK_UN); err != nil {
		s.lockFile.Close()
		s.lockFile = nil
		return fmt.Errorf("failed to unlock: %w", err)
	}
	if err := s.lockFile.Close(); err != nil {
		s.lockFile = nil
		return fmt.Errorf("failed to close lock file: %w", err)
	}
	s.lockFile = nil
	return nil
}

// Load loads the configuration from the settings file. A missing file
// yields the defaults. The file must be locked before calling Load.
func (s *SettingsFile) Load() (*Config, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse settings YAML: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes the configuration atomically via a temp file rename.
// The file must be locked before calling Save.
func (s *SettingsFile) Save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}

// WithLock executes fn while holding the file lock.
func (s *SettingsFile) WithLock(fn func() error) error {
	if err := s.Lock(); err != nil {
		return err
	}
	defer s.Unlock()
	return fn()
}

// LoadSettings loads settings with automatic locking.
func LoadSettings(path string) (*Config, error) {
	sf, err := NewSettingsFile(path)
	if err != nil {
		return nil, err
	}

	var cfg *Config
	err = sf.WithLock(func() error {
		var loadErr error
		cfg, loadErr = sf.Load()
		return loadErr
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveSettings saves settings with automatic locking.
func SaveSettings(path string, cfg *Config) error {
	sf, err := NewSettingsFile(path)
	if err != nil {
		return err
	}
	return sf.WithLock(func() error {
		return sf.Save(cfg)
	})
}
