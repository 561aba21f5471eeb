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

// Package store persists MCP server definitions in a local SQLite
// database. It is the durable registry behind the supervisor: servers
// are added, enabled, disabled and removed here, and the supervisor
// resolves definitions from it at start time.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mcpherd/mcpherd/internal/mcp"
)

// Sentinel errors for server registry operations.
var (
	ErrServerExists   = errors.New("server already exists")
	ErrServerNotFound = errors.New("server not found")
)

// ServerRecord is a stored MCP server definition.
type ServerRecord struct {
	// ID is the stable identity, a UUID assigned at creation.
	ID string `json:"id"`

	// Name is the unique display name, used for qualified tool routing.
	Name string `json:"name"`

	// Command is the executable to spawn.
	Command string `json:"command"`

	// Args are command-line arguments for the executable.
	Args []string `json:"args,omitempty"`

	// Env are extra environment variables for the subprocess.
	Env map[string]string `json:"env,omitempty"`

	// Icon is an optional emoji or short label for UI surfaces.
	Icon string `json:"icon,omitempty"`

	// Enabled gates whether the server may be started at all.
	Enabled bool `json:"enabled"`

	// AutoStart starts the server when the supervisor initializes.
	AutoStart bool `json:"auto_start"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Definition converts the record into the supervisor's spawn form.
func (r *ServerRecord) Definition() mcp.Definition {
	return mcp.Definition{
		ID:        r.ID,
		Name:      r.Name,
		Command:   r.Command,
		Args:      r.Args,
		Env:       r.Env,
		Enabled:   r.Enabled,
		AutoStart: r.AutoStart,
	}
}

// Store is a SQLite-backed server registry.
//
// WAL mode is enabled for concurrent readers; args and env are stored
// as JSON columns.
type Store struct {
	db *sql.DB
}

// Config contains configuration for the store.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	// Example: ~/.local/share/mcpherd/mcpherd.db
	Path string
}

// Open opens (creating if necessary) the server registry at cfg.Path
// and runs migrations.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	connStr := cfg.Path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS mcp_servers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			command TEXT NOT NULL,
			args_json TEXT,
			env_json TEXT,
			icon TEXT,
			enabled INTEGER NOT NULL DEFAULT 1,
			auto_start INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		`CREATE INDEX IF NOT EXISTS idx_mcp_servers_name
			ON mcp_servers(name)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Create inserts a new server record. An empty ID is assigned a UUID.
func (s *Store) Create(ctx context.Context, record *ServerRecord) error {
	if record == nil {
		return fmt.Errorf("server record cannot be nil")
	}
	if record.Name == "" {
		return fmt.Errorf("server name is required")
	}
	if record.Command == "" {
		return fmt.Errorf("server command is required")
	}

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	now := time.Now()
	record.CreatedAt = now
	record.UpdatedAt = now

	argsJSON, envJSON, err := encodeSpawn(record)
	if err != nil {
		return err
	}

	query := `INSERT INTO mcp_servers
	          (id, name, command, args_json, env_json, icon, enabled, auto_start,
	           created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		record.ID,
		record.Name,
		record.Command,
		argsJSON,
		envJSON,
		record.Icon,
		boolToInt(record.Enabled),
		boolToInt(record.AutoStart),
		record.CreatedAt.Format(time.RFC3339),
		record.UpdatedAt.Format(time.RFC3339),
	)

	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrServerExists
		}
		return fmt.Errorf("failed to create server: %w", err)
	}
	return nil
}

// Get retrieves a server record by id.
func (s *Store) Get(ctx context.Context, id string) (*ServerRecord, error) {
	return s.queryOne(ctx, `WHERE id = ?`, id)
}

// GetByName retrieves a server record by its unique name.
func (s *Store) GetByName(ctx context.Context, name string) (*ServerRecord, error) {
	return s.queryOne(ctx, `WHERE name = ?`, name)
}

const selectColumns = `SELECT id, name, command, args_json, env_json, icon,
       enabled, auto_start, created_at, updated_at
FROM mcp_servers `

func (s *Store) queryOne(ctx context.Context, where string, arg any) (*ServerRecord, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+where, arg)
	record, err := scanRecord(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrServerNotFound
		}
		return nil, fmt.Errorf("failed to get server: %w", err)
	}
	return record, nil
}

// List returns all server records sorted by name.
func (s *Store) List(ctx context.Context) ([]*ServerRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer rows.Close()

	var records []*ServerRecord
	for rows.Next() {
		record, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan server: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating servers: %w", err)
	}
	return records, nil
}

// Update replaces the mutable fields of an existing server record.
func (s *Store) Update(ctx context.Context, record *ServerRecord) error {
	if record == nil {
		return fmt.Errorf("server record cannot be nil")
	}
	record.UpdatedAt = time.Now()

	argsJSON, envJSON, err := encodeSpawn(record)
	if err != nil {
		return err
	}

	query := `UPDATE mcp_servers
	          SET name = ?, command = ?, args_json = ?, env_json = ?, icon = ?,
	              enabled = ?, auto_start = ?, updated_at = ?
	          WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query,
		record.Name,
		record.Command,
		argsJSON,
		envJSON,
		record.Icon,
		boolToInt(record.Enabled),
		boolToInt(record.AutoStart),
		record.UpdatedAt.Format(time.RFC3339),
		record.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrServerExists
		}
		return fmt.Errorf("failed to update server: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrServerNotFound
	}
	return nil
}

// SetEnabled flips the enabled flag for a server.
func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool) error {
	query := `UPDATE mcp_servers SET enabled = ?, updated_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query,
		boolToInt(enabled), time.Now().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to update server: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrServerNotFound
	}
	return nil
}

// Delete removes a server record by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM mcp_servers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete server: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrServerNotFound
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ListDefinitions implements mcp.DefinitionSource.
func (s *Store) ListDefinitions(ctx context.Context) ([]mcp.Definition, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	defs := make([]mcp.Definition, 0, len(records))
	for _, r := range records {
		defs = append(defs, r.Definition())
	}
	return defs, nil
}

// GetDefinition implements mcp.DefinitionSource.
func (s *Store) GetDefinition(ctx context.Context, id string) (*mcp.Definition, error) {
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	def := record.Definition()
	return &def, nil
}

// encodeSpawn serializes the args and env columns.
func encodeSpawn(record *ServerRecord) (argsJSON, envJSON string, err error) {
	if len(record.Args) > 0 {
		b, err := json.Marshal(record.Args)
		if err != nil {
			return "", "", fmt.Errorf("failed to marshal args: %w", err)
		}
		argsJSON = string(b)
	}
	if len(record.Env) > 0 {
		b, err := json.Marshal(record.Env)
		if err != nil {
			return "", "", fmt.Errorf("failed to marshal env: %w", err)
		}
		envJSON = string(b)
	}
	return argsJSON, envJSON, nil
}

// scanRecord reads one row into a ServerRecord via the given Scan func.
func scanRecord(scan func(dest ...any) error) (*ServerRecord, error) {
	var record ServerRecord
	var argsJSON, envJSON sql.NullString
	var icon sql.NullString
	var enabled, autoStart int
	var createdAt, updatedAt string

	if err := scan(
		&record.ID,
		&record.Name,
		&record.Command,
		&argsJSON,
		&envJSON,
		&icon,
		&enabled,
		&autoStart,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	record.Icon = icon.String
	record.Enabled = enabled != 0
	record.AutoStart = autoStart != 0
	record.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	record.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	if argsJSON.Valid && argsJSON.String != "" {
		if err := json.Unmarshal([]byte(argsJSON.String), &record.Args); err != nil {
			return nil, fmt.Errorf("failed to unmarshal args: %w", err)
		}
	}
	if envJSON.Valid && envJSON.String != "" {
		if err := json.Unmarshal([]byte(envJSON.String), &record.Env); err != nil {
			return nil, fmt.Errorf("failed to unmarshal env: %w", err)
		}
	}

	return &record, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
