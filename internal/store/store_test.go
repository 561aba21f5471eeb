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

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpherd/mcpherd/internal/mcp"
)

var _ mcp.DefinitionSource = (*Store)(nil)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecord() *ServerRecord {
	return &ServerRecord{
		Name:    "filesystem",
		Command: "npx",
		Args:    []string{"-y", "@modelcontextprotocol/server-filesystem", "/tmp"},
		Env:     map[string]string{"LOG_LEVEL": "debug"},
		Icon:    "📁",
		Enabled: true,
	}
}

func TestStoreOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
}

func TestStoreCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	record := sampleRecord()
	require.NoError(t, s.Create(ctx, record))
	assert.NotEmpty(t, record.ID, "create assigns a UUID")
	assert.False(t, record.CreatedAt.IsZero())

	got, err := s.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.Name, got.Name)
	assert.Equal(t, record.Command, got.Command)
	assert.Equal(t, record.Args, got.Args)
	assert.Equal(t, record.Env, got.Env)
	assert.Equal(t, "📁", got.Icon)
	assert.True(t, got.Enabled)
	assert.False(t, got.AutoStart)

	byName, err := s.GetByName(ctx, "filesystem")
	require.NoError(t, err)
	assert.Equal(t, record.ID, byName.ID)
}

func TestStoreGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrServerNotFound)
	_, err = s.GetByName(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrServerNotFound)
}

func TestStoreDuplicateName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, sampleRecord()))
	err := s.Create(ctx, sampleRecord())
	assert.ErrorIs(t, err, ErrServerExists)
}

func TestStoreCreateValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.Error(t, s.Create(ctx, nil))
	assert.Error(t, s.Create(ctx, &ServerRecord{Command: "npx"}))
	assert.Error(t, s.Create(ctx, &ServerRecord{Name: "x"}))
}

func TestStoreList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		record := sampleRecord()
		record.Name = name
		require.NoError(t, s.Create(ctx, record))
	}

	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "alpha", records[0].Name)
	assert.Equal(t, "mid", records[1].Name)
	assert.Equal(t, "zeta", records[2].Name)
}

func TestStoreUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	record := sampleRecord()
	require.NoError(t, s.Create(ctx, record))

	record.Command = "uvx"
	record.Args = []string{"mcp-server-files"}
	record.AutoStart = true
	require.NoError(t, s.Update(ctx, record))

	got, err := s.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "uvx", got.Command)
	assert.Equal(t, []string{"mcp-server-files"}, got.Args)
	assert.True(t, got.AutoStart)

	missing := sampleRecord()
	missing.ID = "missing"
	missing.Name = "other"
	assert.ErrorIs(t, s.Update(ctx, missing), ErrServerNotFound)
}

func TestStoreSetEnabled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	record := sampleRecord()
	require.NoError(t, s.Create(ctx, record))

	require.NoError(t, s.SetEnabled(ctx, record.ID, false))
	got, err := s.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	assert.ErrorIs(t, s.SetEnabled(ctx, "missing", true), ErrServerNotFound)
}

func TestStoreDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	record := sampleRecord()
	require.NoError(t, s.Create(ctx, record))
	require.NoError(t, s.Delete(ctx, record.ID))

	_, err := s.Get(ctx, record.ID)
	assert.ErrorIs(t, err, ErrServerNotFound)
	assert.ErrorIs(t, s.Delete(ctx, record.ID), ErrServerNotFound)
}

func TestStoreDefinitionSource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	record := sampleRecord()
	require.NoError(t, s.Create(ctx, record))

	defs, err := s.ListDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, record.ID, defs[0].ID)
	assert.Equal(t, "filesystem", defs[0].Name)
	assert.Equal(t, record.Args, defs[0].Args)
	assert.True(t, defs[0].Enabled)

	def, err := s.GetDefinition(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "npx", def.Command)

	_, err = s.GetDefinition(ctx, "missing")
	assert.ErrorIs(t, err, ErrServerNotFound)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	ctx := context.Background()

	s, err := Open(Config{Path: path})
	require.NoError(t, err)
	record := sampleRecord()
	require.NoError(t, s.Create(ctx, record))
	require.NoError(t, s.Close())

	s2, err := Open(Config{Path: path})
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "filesystem", got.Name)
}
