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
	"time"
)

// EventType represents the type of server event.
type EventType string

const (
	// EventConnected indicates a session completed its handshake.
	EventConnected EventType = "connected"
	// EventDisconnected indicates a session left the connected state,
	// either by explicit disconnect or process exit.
	EventDisconnected EventType = "disconnected"
	// EventFailed indicates a connect attempt could not complete.
	EventFailed EventType = "failed"
	// EventToolsUpdated indicates the session's tool cache was replaced.
	EventToolsUpdated EventType = "tools_updated"
	// EventResourcesUpdated indicates the session's resource cache was replaced.
	EventResourcesUpdated EventType = "resources_updated"
	// EventResourceUpdated forwards a server's resources/updated notification.
	EventResourceUpdated EventType = "resource_updated"
	// EventNotification forwards an unrecognized server notification.
	EventNotification EventType = "notification"
	// EventServersChanged signals that the set of registered definitions
	// changed. Published by the registry surface, not by sessions.
	EventServersChanged EventType = "servers_changed"
)

// Event is a message published by a Session on its event channel. The
// Supervisor consumes session events to maintain its running set and
// re-broadcasts them to subscribers.
type Event struct {
	// Type is the event type.
	Type EventType `json:"type"`

	// ServerID identifies the originating server.
	ServerID string `json:"server_id"`

	// ServerName is the server's human-facing name.
	ServerName string `json:"server_name"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Method is the protocol method for forwarded notifications.
	Method string `json:"method,omitempty"`

	// Payload carries the notification params for forwarded notifications.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Err is the error message for failure events.
	Err string `json:"error,omitempty"`
}

// newEvent builds an event stamped with the session's identity.
func (s *Session) newEvent(t EventType) Event {
	return Event{
		Type:       t,
		ServerID:   s.def.ID,
		ServerName: s.def.Name,
		Timestamp:  time.Now(),
	}
}

// publish sends an event without blocking. Events are advisory; a full
// or absent channel drops the event rather than stalling protocol I/O.
func (s *Session) publish(ev Event) {
	if s.events == nil {
		return
	}
	select {
	case s.events <- ev:
	default:
		metricEventsDropped.Inc()
		s.logger.Warn("event channel full, dropping event", "type", string(ev.Type))
	}
}
