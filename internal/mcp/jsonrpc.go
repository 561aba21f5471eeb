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
	"fmt"
)

// jsonrpcVersion is the JSON-RPC protocol version used by MCP.
const jsonrpcVersion = "2.0"

// Request is a JSON-RPC 2.0 request message.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewRequest creates a JSON-RPC 2.0 request with the given method and params.
func NewRequest(id int64, method string, params any) *Request {
	return &Request{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

// Response is a JSON-RPC 2.0 response message. Exactly one of Result
// or Error is non-nil in a well-formed response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface for RPCError.
func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Notification is a JSON-RPC 2.0 notification (no ID, no response expected).
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewNotification creates a JSON-RPC 2.0 notification.
func NewNotification(method string, params any) *Notification {
	return &Notification{
		JSONRPC: jsonrpcVersion,
		Method:  method,
		Params:  params,
	}
}

// messageKind classifies an incoming protocol line.
type messageKind int

const (
	// kindResponse is a reply to one of our requests (has an id, no method).
	kindResponse messageKind = iota
	// kindNotification is a server-initiated message (has a method, no id).
	kindNotification
	// kindServerRequest is a server-to-client request (has both).
	// mcpherd does not serve these; they are logged and ignored.
	kindServerRequest
)

// incomingMessage is the decoded form of one line from a server's stdout.
// The pointer ID distinguishes "id": 0 from a missing id field.
type incomingMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// decodeMessage parses one protocol line and classifies it.
// A parse failure is returned as an error; the caller logs and drops
// the line, it never terminates the session.
func decodeMessage(line []byte) (*incomingMessage, messageKind, error) {
	var msg incomingMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, 0, fmt.Errorf("parse protocol line: %w", err)
	}

	switch {
	case msg.ID != nil && msg.Method == "":
		return &msg, kindResponse, nil
	case msg.ID == nil && msg.Method != "":
		return &msg, kindNotification, nil
	case msg.ID != nil && msg.Method != "":
		return &msg, kindServerRequest, nil
	default:
		return nil, 0, fmt.Errorf("message has neither id nor method")
	}
}
