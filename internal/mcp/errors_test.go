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
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCodeOf(t *testing.T) {
	err := ErrRequestTimeout("tools/call", "30s")
	assert.Equal(t, ErrorCodeTimeout, CodeOf(err))
	assert.True(t, IsCode(err, ErrorCodeTimeout))
	assert.False(t, IsCode(err, ErrorCodeNotConnected))
}

func TestErrorCodeOfWrapped(t *testing.T) {
	err := fmt.Errorf("calling server: %w", ErrNotConnected("github"))
	assert.Equal(t, ErrorCodeNotConnected, CodeOf(err))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("exec: not found")
	err := ErrSpawnFailed("github", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "github")
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}
