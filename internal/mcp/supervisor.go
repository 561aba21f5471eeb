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
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// defaultRestartSettle is the pause between stop and start during a
	// restart, letting the old process release ports and lock files.
	defaultRestartSettle = 500 * time.Millisecond

	// defaultTestConfigTimeout bounds the whole probe of a candidate
	// server configuration, spawn through discovery.
	defaultTestConfigTimeout = 15 * time.Second

	// defaultEventBuffer sizes the shared session event channel.
	defaultEventBuffer = 64
)

// DefinitionSource resolves server definitions for the supervisor. The
// sqlite-backed store is the production implementation.
type DefinitionSource interface {
	ListDefinitions(ctx context.Context) ([]Definition, error)
	GetDefinition(ctx context.Context, id string) (*Definition, error)
}

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	// Source resolves server definitions. Required.
	Source DefinitionSource

	// Logger is the structured logger (optional).
	Logger *slog.Logger

	// RequestTimeout is the per-request timeout applied to every
	// session (default 30s).
	RequestTimeout time.Duration

	// RestartSettle is the pause between stop and start during a
	// restart (default 500ms).
	RestartSettle time.Duration

	// TestConfigTimeout bounds a whole TestServerConfig probe
	// (default 15s).
	TestConfigTimeout time.Duration
}

// startAttempt tracks one in-flight connect so concurrent StartServer
// calls for the same id share a single spawn instead of racing.
type startAttempt struct {
	done chan struct{}
	sess *Session
	err  error
}

// Supervisor owns the set of live sessions, keyed by server id. It
// starts and stops servers against their stored definitions, aggregates
// tool and resource catalogs across servers, routes qualified tool names
// to the owning session, and fans session events out to subscribers.
type Supervisor struct {
	source      DefinitionSource
	logger      *slog.Logger
	timeout     time.Duration
	settle      time.Duration
	testTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	starting map[string]*startAttempt

	// events is the shared channel every session publishes into; the
	// run loop consumes it.
	events chan Event

	subMu sync.Mutex
	subs  map[chan Event]struct{}

	// cancelGen is bumped by CancelAllToolCalls. A tool call whose
	// generation changed while it was in flight reports cancellation
	// instead of its result.
	cancelGen atomic.Int64

	done        chan struct{}
	loopDone    chan struct{}
	closed      atomic.Bool
	initialized atomic.Bool
}

// NewSupervisor creates a Supervisor. Call Close to release it.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	settle := cfg.RestartSettle
	if settle <= 0 {
		settle = defaultRestartSettle
	}
	testTimeout := cfg.TestConfigTimeout
	if testTimeout <= 0 {
		testTimeout = defaultTestConfigTimeout
	}

	s := &Supervisor{
		source:      cfg.Source,
		logger:      logger.With("component", "supervisor"),
		timeout:     timeout,
		settle:      settle,
		testTimeout: testTimeout,
		sessions:    make(map[string]*Session),
		starting:    make(map[string]*startAttempt),
		events:      make(chan Event, defaultEventBuffer),
		subs:        make(map[chan Event]struct{}),
		done:        make(chan struct{}),
		loopDone:    make(chan struct{}),
	}
	go s.run()
	return s
}

// run consumes session events: unsolicited disconnects evict the dead
// session from the registry, and every event is re-broadcast to
// subscribers.
func (s *Supervisor) run() {
	defer close(s.loopDone)
	for {
		select {
		case ev := <-s.events:
			if ev.Type == EventDisconnected || ev.Type == EventFailed {
				s.evictDead(ev.ServerID)
			}
			s.broadcast(ev)
		case <-s.done:
			return
		}
	}
}

// evictDead removes the registered session for id if it is no longer
// connected. A session restarted since the event was published is
// connected and stays.
func (s *Supervisor) evictDead(id string) {
	s.mu.Lock()
	if sess, ok := s.sessions[id]; ok && !sess.Connected() {
		delete(s.sessions, id)
		s.logger.Info("removed disconnected server", "server_id", id, "server", sess.def.Name)
	}
	s.mu.Unlock()
	s.updateGauge()
}

func (s *Supervisor) broadcast(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
			metricEventsDropped.Inc()
		}
	}
}

// Subscribe registers an event receiver. The returned cancel func
// unregisters it and closes the channel. Slow subscribers lose events
// rather than stalling the supervisor.
func (s *Supervisor) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, defaultEventBuffer)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
		s.subMu.Unlock()
	}
	return ch, cancel
}

// NotifyServersChanged publishes a servers_changed event to all
// subscribers. Callers that mutate the definition registry use it to
// tell listeners their view of the server list is stale.
func (s *Supervisor) NotifyServersChanged(serverID, serverName string) {
	s.broadcast(Event{
		Type:       EventServersChanged,
		ServerID:   serverID,
		ServerName: serverName,
		Timestamp:  time.Now(),
	})
}

// Initialize starts every enabled definition marked for auto-start.
// Individual failures are logged and reported in aggregate; one bad
// server never blocks the rest. Only the first call does anything; a
// repeat Initialize must not restart servers the operator has since
// stopped.
func (s *Supervisor) Initialize(ctx context.Context) error {
	if !s.initialized.CompareAndSwap(false, true) {
		s.logger.Debug("supervisor already initialized, skipping auto-start")
		return nil
	}

	defs, err := s.source.ListDefinitions(ctx)
	if err != nil {
		// Nothing started; let a later call retry.
		s.initialized.Store(false)
		return fmt.Errorf("list server definitions: %w", err)
	}

	var wg sync.WaitGroup
	var failed atomic.Int64
	for _, def := range defs {
		if !def.Enabled || !def.AutoStart {
			continue
		}
		wg.Add(1)
		go func(id, name string) {
			defer wg.Done()
			if err := s.StartServer(ctx, id); err != nil {
				failed.Add(1)
				s.logger.Error("auto-start failed", "server", name, "error", err)
			}
		}(def.ID, def.Name)
	}
	wg.Wait()

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d server(s) failed to auto-start", n)
	}
	return nil
}

// StartServer connects the server with the given id. Already-connected
// servers are a no-op; a concurrent start for the same id awaits the
// in-flight attempt instead of spawning a second process.
func (s *Supervisor) StartServer(ctx context.Context, id string) error {
	s.mu.Lock()
	if sess, ok := s.sessions[id]; ok {
		if sess.Connected() {
			s.mu.Unlock()
			s.logger.Debug("server already running", "server_id", id)
			return nil
		}
		// A dead session the run loop has not evicted yet.
		delete(s.sessions, id)
	}
	if attempt, ok := s.starting[id]; ok {
		s.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	attempt := &startAttempt{done: make(chan struct{})}
	s.starting[id] = attempt
	s.mu.Unlock()

	sess, err := s.startLocked(ctx, id)
	attempt.sess = sess
	attempt.err = err

	s.mu.Lock()
	delete(s.starting, id)
	if err == nil {
		s.sessions[id] = sess
	}
	s.mu.Unlock()
	close(attempt.done)

	s.updateGauge()
	return err
}

// startLocked resolves the definition and connects a fresh session.
// Named for what it guards: the caller holds the start slot for id via
// the starting map, so at most one of these runs per server.
func (s *Supervisor) startLocked(ctx context.Context, id string) (*Session, error) {
	def, err := s.source.GetDefinition(ctx, id)
	if err != nil {
		metricServerStarts.WithLabelValues(id, "error").Inc()
		return nil, ErrServerNotFound(id).WithCause(err)
	}
	if !def.Enabled {
		metricServerStarts.WithLabelValues(def.Name, "disabled").Inc()
		return nil, ErrServerDisabled(def.Name)
	}

	sess := NewSession(SessionConfig{
		Definition: *def,
		Timeout:    s.timeout,
		Logger:     s.logger,
		Events:     s.events,
	})
	if err := sess.Connect(ctx); err != nil {
		metricServerStarts.WithLabelValues(def.Name, "error").Inc()
		return nil, err
	}
	metricServerStarts.WithLabelValues(def.Name, "ok").Inc()
	return sess, nil
}

// StopServer disconnects and removes the server with the given id.
// Stopping a server that is not running is a no-op.
func (s *Supervisor) StopServer(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if ok {
		sess.Disconnect()
		s.logger.Info("stopped server", "server_id", id, "server", sess.def.Name)
	}
	s.updateGauge()
}

// RestartServer stops the server, waits for the settle interval so the
// old process can release its resources, and starts it again.
func (s *Supervisor) RestartServer(ctx context.Context, id string) error {
	s.StopServer(id)

	select {
	case <-time.After(s.settle):
	case <-ctx.Done():
		return ctx.Err()
	}

	return s.StartServer(ctx, id)
}

// StopAll disconnects every running server concurrently and returns
// once all have torn down.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(sess *Session) {
			defer wg.Done()
			sess.Disconnect()
		}(sess)
	}
	wg.Wait()

	s.updateGauge()
	s.logger.Info("stopped all servers", "count", len(sessions))
}

// Close stops every server and shuts the event loop down. The
// supervisor is unusable afterwards.
func (s *Supervisor) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.StopAll()
	close(s.done)
	<-s.loopDone
}

// IsServerRunning reports whether the server with the given id has a
// connected session.
func (s *Supervisor) IsServerRunning(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	return ok && sess.Connected()
}

// RunningCount returns the number of connected sessions.
func (s *Supervisor) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.Connected() {
			n++
		}
	}
	return n
}

func (s *Supervisor) updateGauge() {
	metricServersConnected.Set(float64(s.RunningCount()))
}

// session returns the connected session for id.
func (s *Supervisor) session(id string) (*Session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok || !sess.Connected() {
		return nil, ErrNotConnected(id)
	}
	return sess, nil
}

// sortedSessions snapshots the registry ordered by server id, so
// aggregation and bare-name routing are deterministic.
func (s *Supervisor) sortedSessions() []*Session {
	s.mu.Lock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].def.ID < out[j].def.ID
	})
	return out
}

// GetAllTools aggregates the tool catalogs of every connected server,
// each entry tagged with its owning server.
func (s *Supervisor) GetAllTools() []ToolInfo {
	var all []ToolInfo
	for _, sess := range s.sortedSessions() {
		if !sess.Connected() {
			continue
		}
		for _, tool := range sess.Tools() {
			all = append(all, ToolInfo{
				ServerID:   sess.def.ID,
				ServerName: sess.def.Name,
				Tool:       tool,
			})
		}
	}
	return all
}

// GetAllResources aggregates the resource catalogs of every connected
// server.
func (s *Supervisor) GetAllResources() []ResourceInfo {
	var all []ResourceInfo
	for _, sess := range s.sortedSessions() {
		if !sess.Connected() {
			continue
		}
		for _, res := range sess.Resources() {
			all = append(all, ResourceInfo{
				ServerID:   sess.def.ID,
				ServerName: sess.def.Name,
				Resource:   res,
			})
		}
	}
	return all
}

// CallTool invokes a tool on a specific server by id.
func (s *Supervisor) CallTool(ctx context.Context, serverID, name string, args map[string]any) (*ToolCallResult, error) {
	sess, err := s.session(serverID)
	if err != nil {
		return nil, err
	}
	return s.callOnSession(ctx, sess, name, args)
}

// CallToolByName routes a possibly qualified tool name. "Server__tool"
// targets the server with that display name; a bare name goes to the
// first connected server (by id order) exposing the tool.
func (s *Supervisor) CallToolByName(ctx context.Context, qualified string, args map[string]any) (*ToolCallResult, error) {
	serverName, toolName := SplitToolName(qualified)

	for _, sess := range s.sortedSessions() {
		if !sess.Connected() {
			continue
		}
		if serverName != "" && sess.def.Name != serverName {
			continue
		}
		for _, tool := range sess.Tools() {
			if tool.Name == toolName {
				return s.callOnSession(ctx, sess, toolName, args)
			}
		}
	}
	return nil, ErrToolNotFound(qualified)
}

// callOnSession runs the invocation and applies the cancellation
// generation: a bump while the call was in flight discards the result.
func (s *Supervisor) callOnSession(ctx context.Context, sess *Session, name string, args map[string]any) (*ToolCallResult, error) {
	gen := s.cancelGen.Load()
	start := time.Now()

	result, err := sess.CallTool(ctx, name, args)

	metricToolCallDuration.WithLabelValues(sess.def.Name, name).Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	metricToolCalls.WithLabelValues(sess.def.Name, name, status).Inc()

	if s.cancelGen.Load() != gen {
		s.logger.Info("discarding tool result after cancellation", "tool", name, "server", sess.def.Name)
		return nil, ErrCancelled()
	}
	return result, err
}

// CancelAllToolCalls marks every in-flight tool call as cancelled.
// Calls already on the wire run to completion on the server side; their
// results are discarded when they return.
func (s *Supervisor) CancelAllToolCalls() {
	s.cancelGen.Add(1)
	s.logger.Info("cancelled all in-flight tool calls")
}

// ReadResource reads a resource from a specific server by id.
func (s *Supervisor) ReadResource(ctx context.Context, serverID, uri string) (*ResourceReadResult, error) {
	sess, err := s.session(serverID)
	if err != nil {
		return nil, err
	}
	return sess.ReadResource(ctx, uri)
}

// GetServerStatus returns the status of one server. Servers defined but
// not running report StateDisconnected.
func (s *Supervisor) GetServerStatus(ctx context.Context, id string) (*ServerStatus, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if ok {
		st := sess.Status()
		return &st, nil
	}

	def, err := s.source.GetDefinition(ctx, id)
	if err != nil {
		return nil, ErrServerNotFound(id).WithCause(err)
	}
	return &ServerStatus{
		ServerID: def.ID,
		Name:     def.Name,
		State:    StateDisconnected,
	}, nil
}

// GetAllServerStatus returns the status of every defined server, sorted
// by name.
func (s *Supervisor) GetAllServerStatus(ctx context.Context) ([]ServerStatus, error) {
	defs, err := s.source.ListDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list server definitions: %w", err)
	}

	s.mu.Lock()
	sessions := make(map[string]*Session, len(s.sessions))
	for id, sess := range s.sessions {
		sessions[id] = sess
	}
	s.mu.Unlock()

	out := make([]ServerStatus, 0, len(defs))
	for _, def := range defs {
		if sess, ok := sessions[def.ID]; ok {
			out = append(out, sess.Status())
			continue
		}
		out = append(out, ServerStatus{
			ServerID: def.ID,
			Name:     def.Name,
			State:    StateDisconnected,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// TestServerConfig probes a candidate definition without registering it:
// spawn, handshake, count tools and resources, tear down. The outcome is
// always a report, never an error, so callers can surface it verbatim.
func (s *Supervisor) TestServerConfig(ctx context.Context, def Definition) *TestResult {
	sess := NewSession(SessionConfig{
		Definition: def,
		Timeout:    s.testTimeout,
		Logger:     s.logger,
	})
	defer sess.Disconnect()

	// One deadline for the whole probe, not per request; a server that
	// stalls on every call still fails within the probe timeout.
	ctx, cancel := context.WithTimeout(ctx, s.testTimeout)
	defer cancel()

	if err := sess.Connect(ctx); err != nil {
		return &TestResult{
			Success: false,
			Message: fmt.Sprintf("failed to connect to %q", def.Name),
			Error:   err.Error(),
		}
	}

	tools := sess.Tools()
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}

	return &TestResult{
		Success:       true,
		Message:       fmt.Sprintf("connected to %q successfully", def.Name),
		ServerInfo:    sess.ServerInfo(),
		ToolCount:     len(tools),
		ResourceCount: len(sess.Resources()),
		ToolNames:     names,
	}
}
