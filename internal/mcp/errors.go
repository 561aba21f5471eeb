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
)

// ErrorCode represents a category of MCP error.
type ErrorCode string

const (
	// ErrorCodeSpawnFailed indicates the server process could not be started.
	ErrorCodeSpawnFailed ErrorCode = "SPAWN_FAILED"
	// ErrorCodeHandshakeFailed indicates the initialize exchange did not complete.
	ErrorCodeHandshakeFailed ErrorCode = "HANDSHAKE_FAILED"
	// ErrorCodeTimeout indicates no response arrived within the request timeout.
	ErrorCodeTimeout ErrorCode = "TIMEOUT"
	// ErrorCodeConnectionClosed indicates the session disconnected while
	// the request was pending.
	ErrorCodeConnectionClosed ErrorCode = "CONNECTION_CLOSED"
	// ErrorCodeNotConnected indicates an operation that requires a connected
	// session was issued against one that is not.
	ErrorCodeNotConnected ErrorCode = "NOT_CONNECTED"
	// ErrorCodeServerNotFound indicates no definition or running session
	// exists for the requested server.
	ErrorCodeServerNotFound ErrorCode = "SERVER_NOT_FOUND"
	// ErrorCodeServerDisabled indicates the definition exists but is disabled.
	ErrorCodeServerDisabled ErrorCode = "SERVER_DISABLED"
	// ErrorCodeToolNotFound indicates no running server exposes the tool.
	ErrorCodeToolNotFound ErrorCode = "TOOL_NOT_FOUND"
	// ErrorCodeCancelled indicates the call was retired by a supervisor-wide
	// cancellation.
	ErrorCodeCancelled ErrorCode = "CANCELLED"
	// ErrorCodeValidation indicates caller input failed validation.
	ErrorCodeValidation ErrorCode = "VALIDATION"
)

// Error is the structured error type for session and supervisor operations.
// Code drives programmatic handling (HTTP status mapping, retry decisions);
// Message is the human-facing summary.
type Error struct {
	// Code is the error category.
	Code ErrorCode
	// Message is the primary error message.
	Message string
	// Server is the server name or id the error relates to, if any.
	Server string
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Server != "" {
		msg = fmt.Sprintf("%s (server %s)", msg, e.Server)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithServer attaches server identity to the error.
func (e *Error) WithServer(server string) *Error {
	e.Server = server
	return e
}

// WithCause attaches an underlying cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// CodeOf extracts the ErrorCode from an error chain, or "" if the chain
// contains no *Error.
func CodeOf(err error) ErrorCode {
	var mcpErr *Error
	if errors.As(err, &mcpErr) {
		return mcpErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// ErrSpawnFailed creates an error for a process that could not be started.
func ErrSpawnFailed(server string, cause error) *Error {
	return NewError(ErrorCodeSpawnFailed, "failed to spawn server process").
		WithServer(server).
		WithCause(cause)
}

// ErrHandshakeFailed creates an error for a handshake that did not complete.
func ErrHandshakeFailed(server string, cause error) *Error {
	return NewError(ErrorCodeHandshakeFailed, "MCP handshake failed").
		WithServer(server).
		WithCause(cause)
}

// ErrRequestTimeout creates an error for a request that got no response in time.
func ErrRequestTimeout(method string, timeout string) *Error {
	return NewError(ErrorCodeTimeout, fmt.Sprintf("request %s timed out after %s", method, timeout))
}

// ErrConnectionClosed creates an error for requests retired by a disconnect.
func ErrConnectionClosed(server string) *Error {
	return NewError(ErrorCodeConnectionClosed, "connection closed").WithServer(server)
}

// ErrNotConnected creates an error for operations on a session that is not connected.
func ErrNotConnected(server string) *Error {
	return NewError(ErrorCodeNotConnected, "session is not connected").WithServer(server)
}

// ErrServerNotFound creates an error for an unknown or not-running server.
func ErrServerNotFound(server string) *Error {
	return NewError(ErrorCodeServerNotFound, "server not found or not running").WithServer(server)
}

// ErrServerDisabled creates an error for a disabled server definition.
func ErrServerDisabled(server string) *Error {
	return NewError(ErrorCodeServerDisabled, "server is disabled").WithServer(server)
}

// ErrToolNotFound creates an error for a tool no running server exposes.
func ErrToolNotFound(tool string) *Error {
	return NewError(ErrorCodeToolNotFound, fmt.Sprintf("tool %q not found on any running server", tool))
}

// ErrCancelled creates an error for a call retired by CancelAllToolCalls.
func ErrCancelled() *Error {
	return NewError(ErrorCodeCancelled, "tool call cancelled")
}
