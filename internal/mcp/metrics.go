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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricServersConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mcpherd_servers_connected",
		Help: "Number of MCP server sessions currently connected.",
	})

	metricServerStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcpherd_server_starts_total",
		Help: "MCP server start attempts by outcome.",
	}, []string{"server", "status"})

	metricToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcpherd_tool_calls_total",
		Help: "Tool invocations by server, tool and outcome.",
	}, []string{"server", "tool", "status"})

	metricToolCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mcpherd_tool_call_duration_seconds",
		Help:    "Tool invocation latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"server", "tool"})

	metricEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcpherd_events_dropped_total",
		Help: "Session events dropped because the event channel was full.",
	})
)
