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

import "strings"

// toolNameSeparator joins a server name and a tool name in a qualified
// tool name. The convention is fragile for server names that themselves
// contain "__" or tools with a leading "__"; it is kept for compatibility
// and isolated here so it can be hardened in one place.
const toolNameSeparator = "__"

// SplitToolName parses a possibly qualified tool name. Only the segment
// before the FIRST "__" is treated as the server qualifier; the remainder
// is the tool name and may itself contain "__".
//
//	SplitToolName("github__create_issue") = ("github", "create_issue")
//	SplitToolName("a__b__c")              = ("a", "b__c")
//	SplitToolName("create_issue")         = ("", "create_issue")
func SplitToolName(name string) (serverName, toolName string) {
	server, tool, found := strings.Cut(name, toolNameSeparator)
	if !found || server == "" {
		return "", name
	}
	return server, tool
}

// QualifiedToolName joins a server name and tool name into the
// "Server__tool" routing form.
func QualifiedToolName(serverName, toolName string) string {
	return serverName + toolNameSeparator + toolName
}
