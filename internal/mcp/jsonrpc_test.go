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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestMarshals(t *testing.T) {
	req := NewRequest(7, "tools/list", nil)
	data, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "2.0", decoded["jsonrpc"])
	assert.Equal(t, float64(7), decoded["id"])
	assert.Equal(t, "tools/list", decoded["method"])
}

func TestDecodeMessageResponse(t *testing.T) {
	msg, kind, err := decodeMessage([]byte(`{"jsonrpc":"2.0","id":3,"result":{"ok":true}}`))
	require.NoError(t, err)
	assert.Equal(t, kindResponse, kind)
	require.NotNil(t, msg.ID)
	assert.Equal(t, int64(3), *msg.ID)
	assert.NotNil(t, msg.Result)
}

func TestDecodeMessageZeroID(t *testing.T) {
	// id 0 is a valid response id and must not be confused with a
	// missing id.
	msg, kind, err := decodeMessage([]byte(`{"jsonrpc":"2.0","id":0,"result":null}`))
	require.NoError(t, err)
	assert.Equal(t, kindResponse, kind)
	require.NotNil(t, msg.ID)
	assert.Equal(t, int64(0), *msg.ID)
}

func TestDecodeMessageErrorResponse(t *testing.T) {
	msg, kind, err := decodeMessage([]byte(`{"jsonrpc":"2.0","id":5,"error":{"code":-32601,"message":"method not found"}}`))
	require.NoError(t, err)
	assert.Equal(t, kindResponse, kind)
	require.NotNil(t, msg.Error)
	assert.Equal(t, -32601, msg.Error.Code)
	assert.Contains(t, msg.Error.Error(), "method not found")
}

func TestDecodeMessageNotification(t *testing.T) {
	msg, kind, err := decodeMessage([]byte(`{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`))
	require.NoError(t, err)
	assert.Equal(t, kindNotification, kind)
	assert.Equal(t, "notifications/tools/list_changed", msg.Method)
	assert.Nil(t, msg.ID)
}

func TestDecodeMessageServerRequest(t *testing.T) {
	_, kind, err := decodeMessage([]byte(`{"jsonrpc":"2.0","id":9,"method":"sampling/createMessage","params":{}}`))
	require.NoError(t, err)
	assert.Equal(t, kindServerRequest, kind)
}

func TestDecodeMessageRejectsGarbage(t *testing.T) {
	cases := []struct {
		name string
		line string
	}{
		{"not json", "hello world"},
		{"empty object", "{}"},
		{"no id no method", `{"jsonrpc":"2.0","result":{}}`},
		{"truncated", `{"jsonrpc":"2.0","id":1`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := decodeMessage([]byte(tc.line))
			assert.Error(t, err)
		})
	}
}
