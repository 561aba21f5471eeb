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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// defaultRequestTimeout bounds how long a request waits for its response.
const defaultRequestTimeout = 30 * time.Second

// clientVersion is reported in the initialize handshake. Set once at
// startup by the main package.
var clientVersion = "dev"

// SetClientVersion overrides the version reported to servers during the
// initialize handshake. Call before any session is created.
func SetClientVersion(v string) {
	if v != "" {
		clientVersion = v
	}
}

// SessionConfig configures a Session.
type SessionConfig struct {
	// Definition is the spawn specification. Immutable for the session's
	// lifetime.
	Definition Definition

	// Timeout is the per-request timeout (default 30s).
	Timeout time.Duration

	// Logger is the structured logger for session diagnostics (optional).
	Logger *slog.Logger

	// Events receives session events (optional). Sends never block; a
	// full channel drops events.
	Events chan<- Event
}

// rpcResult is the outcome delivered to a pending request's waiter.
type rpcResult struct {
	resp *Response
	err  error
}

// Session manages exactly one MCP server connection end to end: the child
// process, the newline-delimited JSON-RPC streams, the handshake, in-flight
// request correlation, and the discovery caches.
//
// A Session is not reusable. Once it leaves StateConnected (or a connect
// attempt fails) it is terminal; construct a new Session to reconnect.
type Session struct {
	def     Definition
	timeout time.Duration
	logger  *slog.Logger
	events  chan<- Event

	// nextID allocates request ids, unique and increasing per session.
	nextID atomic.Int64

	// pmu guards pending. An entry is created when a request is written
	// and removed exactly once: by its response, its timeout, or teardown.
	pmu     sync.Mutex
	pending map[int64]chan rpcResult

	// wmu serializes writes to the child's stdin so requests go out in
	// the order issued.
	wmu   sync.Mutex
	stdin io.WriteCloser

	// mu guards the fields below.
	mu           sync.Mutex
	state        ConnState
	cmd          *exec.Cmd
	startedAt    time.Time
	lastErr      string
	serverInfo   *ServerInfo
	capabilities *ServerCapabilities
	tools        []ToolDefinition
	resources    []ResourceDefinition

	// closed is closed exactly once when the session tears down; waiters
	// select on it to observe disconnection.
	closed    chan struct{}
	closeOnce sync.Once
}

// NewSession creates a Session for the given definition. The server
// process is not started until Connect.
func NewSession(cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Session{
		def:     cfg.Definition,
		timeout: timeout,
		logger:  logger.With("server", cfg.Definition.Name, "server_id", cfg.Definition.ID),
		events:  cfg.Events,
		pending: make(map[int64]chan rpcResult),
		state:   StateDisconnected,
		closed:  make(chan struct{}),
	}
}

// Definition returns the spawn specification this session was built from.
func (s *Session) Definition() Definition {
	return s.def
}

// State returns the current connection state.
func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether the session is in StateConnected.
func (s *Session) Connected() bool {
	return s.State() == StateConnected
}

// Tools returns a copy of the cached tool catalog.
func (s *Session) Tools() []ToolDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ToolDefinition, len(s.tools))
	copy(out, s.tools)
	return out
}

// Resources returns a copy of the cached resource catalog.
func (s *Session) Resources() []ResourceDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ResourceDefinition, len(s.resources))
	copy(out, s.resources)
	return out
}

// ServerInfo returns the server identity from the handshake, or nil
// before the handshake completes.
func (s *Session) ServerInfo() *ServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverInfo
}

// Capabilities returns the server's advertised capabilities, or nil
// before the handshake completes.
func (s *Session) Capabilities() *ServerCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capabilities
}

// Status returns a point-in-time snapshot of the session.
func (s *Session) Status() ServerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := ServerStatus{
		ServerID:  s.def.ID,
		Name:      s.def.Name,
		State:     s.state,
		Running:   s.state == StateConnected,
		Info:      s.serverInfo,
		LastError: s.lastErr,
		Tools:     append([]ToolDefinition(nil), s.tools...),
		Resources: append([]ResourceDefinition(nil), s.resources...),
	}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		status.StartedAt = &t
		if s.state == StateConnected {
			status.Uptime = time.Since(s.startedAt)
		}
	}
	return status
}

// normalizeArgs re-splits arguments that arrived with embedded commas
// (e.g. "-y,@modelcontextprotocol/server-filesystem" pasted through a
// shell layer) into discrete arguments before spawn.
func normalizeArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if !strings.Contains(arg, ",") {
			out = append(out, arg)
			continue
		}
		for _, part := range strings.Split(arg, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// environ merges the definition's env over the current process environment,
// in sorted key order for deterministic spawns.
func (s *Session) environ() []string {
	env := os.Environ()
	keys := make([]string, 0, len(s.def.Env))
	for k := range s.def.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+s.def.Env[k])
	}
	return env
}

// Connect spawns the server process, wires its streams, and performs the
// MCP handshake followed by capability-gated discovery. It is a no-op if
// the session is already connected. Any failure tears the session down:
// Connect never leaves a half-connected Session.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateConnected:
		s.mu.Unlock()
		s.logger.Debug("already connected")
		return nil
	case StateFailed:
		s.mu.Unlock()
		return ErrNotConnected(s.def.Name).WithCause(fmt.Errorf("session is terminal; construct a new one"))
	case StateConnecting:
		s.mu.Unlock()
		return ErrNotConnected(s.def.Name).WithCause(fmt.Errorf("connect already in progress"))
	}
	s.state = StateConnecting
	s.mu.Unlock()

	args := normalizeArgs(s.def.Args)
	s.logger.Info("starting MCP server process", "command", s.def.Command, "args", args)

	cmd := exec.Command(s.def.Command, args...)
	cmd.Env = s.environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return s.failConnect(ErrSpawnFailed(s.def.Name, fmt.Errorf("create stdin pipe: %w", err)))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return s.failConnect(ErrSpawnFailed(s.def.Name, fmt.Errorf("create stdout pipe: %w", err)))
	}
	// Stderr is diagnostics only, never protocol data.
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return s.failConnect(ErrSpawnFailed(s.def.Name, fmt.Errorf("create stderr pipe: %w", err)))
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return s.failConnect(ErrSpawnFailed(s.def.Name, err))
	}

	s.mu.Lock()
	s.cmd = cmd
	s.startedAt = time.Now()
	s.mu.Unlock()
	s.wmu.Lock()
	s.stdin = stdin
	s.wmu.Unlock()

	go s.readLoop(stdout)
	go s.drainStderr(stderr)
	go s.reapProcess(cmd)

	s.logger.Info("MCP server process started", "pid", cmd.Process.Pid)

	if err := s.handshake(ctx); err != nil {
		s.teardown(StateFailed, err.Error())
		// The reaper wins the teardown when the child dies mid-handshake,
		// recording a plain Disconnected with no event. A failed connect
		// still ends Failed, with a failed event.
		s.mu.Lock()
		alreadyFailed := s.state == StateFailed
		s.state = StateFailed
		if s.lastErr == "" {
			s.lastErr = err.Error()
		}
		s.mu.Unlock()
		if !alreadyFailed {
			ev := s.newEvent(EventFailed)
			ev.Err = err.Error()
			s.publish(ev)
		}
		return ErrHandshakeFailed(s.def.Name, err)
	}

	s.mu.Lock()
	s.state = StateConnected
	s.mu.Unlock()

	s.logger.Info("MCP server connected",
		"tools", len(s.Tools()),
		"resources", len(s.Resources()),
	)
	s.publish(s.newEvent(EventConnected))
	return nil
}

// failConnect records a pre-spawn connect failure and moves the session
// into its terminal failed state.
func (s *Session) failConnect(err *Error) error {
	s.teardown(StateFailed, err.Error())
	return err
}

// handshake performs the initialize exchange, sends the initialized
// notification, and runs discovery for each advertised capability.
func (s *Session) handshake(ctx context.Context) error {
	params := initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities: map[string]any{
			"roots":    map[string]any{"listChanged": true},
			"sampling": map[string]any{},
		},
		ClientInfo: clientInfo{Name: "mcpherd", Version: clientVersion},
	}

	raw, err := s.sendRequest(ctx, methodInitialize, params)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var result initializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("unmarshal initialize result: %w", err)
	}

	s.mu.Lock()
	s.serverInfo = &result.ServerInfo
	s.capabilities = &result.Capabilities
	s.mu.Unlock()

	s.logger.Info("MCP server initialized",
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
		"protocol_version", result.ProtocolVersion,
	)

	if err := s.sendNotification(notifInitialized, nil); err != nil {
		return fmt.Errorf("send initialized notification: %w", err)
	}

	// Discovery is gated on advertised capabilities.
	if result.Capabilities.Tools != nil {
		if err := s.refreshTools(ctx); err != nil {
			return fmt.Errorf("initial tools/list: %w", err)
		}
	}
	if result.Capabilities.Resources != nil {
		if err := s.refreshResources(ctx); err != nil {
			return fmt.Errorf("initial resources/list: %w", err)
		}
	}

	return nil
}

// refreshTools replaces the tool cache wholesale from tools/list.
func (s *Session) refreshTools(ctx context.Context) error {
	raw, err := s.sendRequest(ctx, methodToolsList, nil)
	if err != nil {
		return err
	}

	var result toolsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("unmarshal tools/list result: %w", err)
	}

	s.mu.Lock()
	s.tools = result.Tools
	s.mu.Unlock()

	s.logger.Info("discovered tools", "count", len(result.Tools))
	s.publish(s.newEvent(EventToolsUpdated))
	return nil
}

// refreshResources replaces the resource cache wholesale from resources/list.
func (s *Session) refreshResources(ctx context.Context) error {
	raw, err := s.sendRequest(ctx, methodResourcesList, nil)
	if err != nil {
		return err
	}

	var result resourcesListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("unmarshal resources/list result: %w", err)
	}

	s.mu.Lock()
	s.resources = result.Resources
	s.mu.Unlock()

	s.logger.Info("discovered resources", "count", len(result.Resources))
	s.publish(s.newEvent(EventResourcesUpdated))
	return nil
}

// CallTool invokes a tool by name with the given arguments. The session
// must be connected.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) (*ToolCallResult, error) {
	if !s.Connected() {
		return nil, ErrNotConnected(s.def.Name)
	}

	params := map[string]any{
		"name":      name,
		"arguments": args,
	}
	raw, err := s.sendRequest(ctx, methodToolsCall, params)
	if err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", name, err)
	}

	var result ToolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unmarshal tools/call result: %w", err)
	}
	return &result, nil
}

// ReadResource reads the content of a resource by URI. The session must
// be connected.
func (s *Session) ReadResource(ctx context.Context, uri string) (*ResourceReadResult, error) {
	if !s.Connected() {
		return nil, ErrNotConnected(s.def.Name)
	}

	raw, err := s.sendRequest(ctx, methodResourcesRead, map[string]any{"uri": uri})
	if err != nil {
		return nil, fmt.Errorf("resources/read %s: %w", uri, err)
	}

	var result ResourceReadResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unmarshal resources/read result: %w", err)
	}
	return &result, nil
}

// sendRequest writes one request line and suspends until the matching
// response arrives, the per-request timeout elapses, the session tears
// down, or ctx is cancelled. Exactly one of those outcomes retires the
// pending entry.
func (s *Session) sendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	select {
	case <-s.closed:
		return nil, ErrConnectionClosed(s.def.Name)
	default:
	}

	id := s.nextID.Add(1)
	req := NewRequest(id, method, params)

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ch := make(chan rpcResult, 1)
	s.pmu.Lock()
	s.pending[id] = ch
	s.pmu.Unlock()

	s.logger.Debug("sending request", "method", method, "request_id", id)

	if err := s.writeLine(data); err != nil {
		s.retirePending(id)
		// A broken stdin pipe means the process is gone.
		s.teardown(StateDisconnected, err.Error())
		return nil, ErrConnectionClosed(s.def.Name).WithCause(err)
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.resp.Error != nil {
			return nil, res.resp.Error
		}
		return res.resp.Result, nil

	case <-timer.C:
		// If the entry is already gone a response won the race; take it.
		if !s.retirePending(id) {
			res := <-ch
			if res.err != nil {
				return nil, res.err
			}
			if res.resp.Error != nil {
				return nil, res.resp.Error
			}
			return res.resp.Result, nil
		}
		return nil, ErrRequestTimeout(method, s.timeout.String())

	case <-s.closed:
		return nil, ErrConnectionClosed(s.def.Name)

	case <-ctx.Done():
		s.retirePending(id)
		return nil, ctx.Err()
	}
}

// retirePending removes a pending entry, reporting whether it was still
// registered. The remover owns delivery; a false return means someone
// else already retired (and will deliver to) the entry.
func (s *Session) retirePending(id int64) bool {
	s.pmu.Lock()
	defer s.pmu.Unlock()
	if _, ok := s.pending[id]; !ok {
		return false
	}
	delete(s.pending, id)
	return true
}

// sendNotification writes one notification line. Fire and forget: no
// pending entry is created and no response is expected.
func (s *Session) sendNotification(method string, params any) error {
	n := NewNotification(method, params)
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := s.writeLine(data); err != nil {
		s.logger.Warn("dropping notification, process not running", "method", method, "error", err)
		return nil
	}
	return nil
}

// writeLine writes one newline-terminated message to the child's stdin.
func (s *Session) writeLine(data []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.stdin == nil {
		return fmt.Errorf("stdin not available")
	}
	if _, err := s.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write to server stdin: %w", err)
	}
	return nil
}

// readLoop consumes the child's stdout line by line, completing pending
// requests and dispatching notifications. Malformed lines are logged and
// dropped; they never crash the session.
func (s *Session) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		msg, kind, err := decodeMessage(line)
		if err != nil {
			s.logger.Debug("dropping malformed protocol line", "error", err, "line", truncateForLog(line))
			continue
		}

		switch kind {
		case kindResponse:
			s.completePending(msg)
		case kindNotification:
			s.handleNotification(msg)
		case kindServerRequest:
			s.logger.Debug("ignoring server-to-client request", "method", msg.Method, "request_id", *msg.ID)
		}
	}

	if err := scanner.Err(); err != nil {
		s.logger.Debug("stdout read ended", "error", err)
	}
}

// completePending delivers a response to its waiter. Responses for ids
// that have already been retired (late responses after a timeout) are
// logged and dropped; double resolution is structurally impossible
// because retirement removes the entry before delivery.
func (s *Session) completePending(msg *incomingMessage) {
	id := *msg.ID

	s.pmu.Lock()
	ch, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.pmu.Unlock()

	if !ok {
		s.logger.Warn("response for unknown request id", "request_id", id)
		return
	}

	ch <- rpcResult{resp: &Response{
		JSONRPC: msg.JSONRPC,
		ID:      id,
		Result:  msg.Result,
		Error:   msg.Error,
	}}
}

// handleNotification dispatches a server-initiated notification.
// List-changed notifications trigger an asynchronous cache refresh;
// everything else is forwarded on the event channel.
func (s *Session) handleNotification(msg *incomingMessage) {
	switch msg.Method {
	case notifToolsListChanged:
		s.logger.Info("tools list changed")
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			defer cancel()
			if err := s.refreshTools(ctx); err != nil {
				s.logger.Warn("failed to refresh tools", "error", err)
			}
		}()

	case notifResourcesListChanged:
		s.logger.Info("resources list changed")
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			defer cancel()
			if err := s.refreshResources(ctx); err != nil {
				s.logger.Warn("failed to refresh resources", "error", err)
			}
		}()

	case notifResourceUpdated:
		ev := s.newEvent(EventResourceUpdated)
		ev.Method = msg.Method
		ev.Payload = msg.Params
		s.publish(ev)

	default:
		s.logger.Debug("server notification", "method", msg.Method)
		ev := s.newEvent(EventNotification)
		ev.Method = msg.Method
		ev.Payload = msg.Params
		s.publish(ev)
	}
}

// drainStderr logs the child's stderr lines; stderr is never parsed as
// protocol data.
func (s *Session) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		s.logger.Debug("server stderr", "line", scanner.Text())
	}
}

// reapProcess waits for the child to exit and tears the session down.
// During an explicit Disconnect the teardown already ran and this is a
// no-op; for an unsolicited exit it retires every pending request and
// publishes the disconnect.
func (s *Session) reapProcess(cmd *exec.Cmd) {
	err := cmd.Wait()
	reason := "process exited"
	if err != nil {
		reason = fmt.Sprintf("process exited: %v", err)
	}
	s.teardown(StateDisconnected, reason)
}

// Disconnect tears the session down: every pending request is rejected
// with a connection-closed failure, the process is terminated if still
// alive, and the discovery caches are cleared. Idempotent.
func (s *Session) Disconnect() {
	s.teardown(StateDisconnected, "")
}

// teardown releases the session's resources exactly once. All exit paths
// (explicit disconnect, process exit, handshake failure) funnel through
// here so the process handle and streams are released exactly once.
func (s *Session) teardown(final ConnState, reason string) {
	s.closeOnce.Do(func() {
		s.logger.Info("disconnecting", "reason", reason)

		s.mu.Lock()
		wasConnected := s.state == StateConnected
		s.state = final
		if reason != "" {
			s.lastErr = reason
		}
		cmd := s.cmd
		s.tools = nil
		s.resources = nil
		s.mu.Unlock()

		// Unblock waiters before rejecting individual entries so nothing
		// re-registers a pending request mid-drain.
		close(s.closed)

		s.pmu.Lock()
		drained := s.pending
		s.pending = make(map[int64]chan rpcResult)
		s.pmu.Unlock()
		for id, ch := range drained {
			s.logger.Debug("rejecting pending request on disconnect", "request_id", id)
			ch <- rpcResult{err: ErrConnectionClosed(s.def.Name)}
		}

		s.wmu.Lock()
		if s.stdin != nil {
			s.stdin.Close()
			s.stdin = nil
		}
		s.wmu.Unlock()

		if cmd != nil && cmd.Process != nil {
			// Closing stdin asked nicely; killing covers servers that
			// ignore it. reapProcess collects the exit status.
			_ = cmd.Process.Kill()
		}

		switch {
		case final == StateFailed:
			ev := s.newEvent(EventFailed)
			ev.Err = reason
			s.publish(ev)
		case wasConnected:
			ev := s.newEvent(EventDisconnected)
			ev.Err = reason
			s.publish(ev)
		}
	})
}

// PendingCount reports the number of in-flight requests. Exposed for
// supervision and tests; always zero after Disconnect returns.
func (s *Session) PendingCount() int {
	s.pmu.Lock()
	defer s.pmu.Unlock()
	return len(s.pending)
}

// truncateForLog bounds raw protocol lines embedded in log output.
func truncateForLog(line []byte) string {
	const max = 200
	if len(line) <= max {
		return string(line)
	}
	return string(line[:max]) + "..."
}
