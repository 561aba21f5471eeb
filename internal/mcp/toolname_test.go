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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitToolName(t *testing.T) {
	cases := []struct {
		name       string
		qualified  string
		wantServer string
		wantTool   string
	}{
		{"qualified", "GitHub__create_issue", "GitHub", "create_issue"},
		{"bare", "create_issue", "", "create_issue"},
		{"splits on first separator only", "A__B__C", "A", "B__C"},
		{"tool with trailing underscores", "Files__read__", "Files", "read__"},
		{"empty server segment stays bare", "__ping", "", "__ping"},
		{"empty string", "", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server, tool := SplitToolName(tc.qualified)
			assert.Equal(t, tc.wantServer, server)
			assert.Equal(t, tc.wantTool, tool)
		})
	}
}

func TestQualifiedToolName(t *testing.T) {
	assert.Equal(t, "GitHub__create_issue", QualifiedToolName("GitHub", "create_issue"))

	// Round trip through split.
	server, tool := SplitToolName(QualifiedToolName("Files", "read"))
	assert.Equal(t, "Files", server)
	assert.Equal(t, "read", tool)
}
