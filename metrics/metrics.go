// Copyright 2023-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics defines the Prometheus collectors reported by the router
// and the connection state machine. A nil *Metrics is valid and records
// nothing, so components can always call through it.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result labels for connection attempts.
const (
	ResultConnected             = "connected"
	ResultUnresolvedHost        = "unresolved_host"
	ResultConnectFailed         = "connect_failed"
	ResultHandshakeFailed       = "handshake_failed"
	ResultProtocolNotNegotiated = "protocol_not_negotiated"
	ResultCancelled             = "cancelled"
)

// Metrics holds the collectors. Create it with New.
type Metrics struct {
	routeLookups    *prometheus.CounterVec
	connectAttempts *prometheus.CounterVec
	connectDuration *prometheus.HistogramVec
	activeSessions  prometheus.Gauge
}

// New creates the collectors and registers them with reg. It panics if a
// collector with the same name is already registered with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		routeLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upstream_route_lookups_total",
				Help: "Total number of backend group lookups, by whether a group matched",
			},
			[]string{"matched"},
		),
		connectAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upstream_connect_attempts_total",
				Help: "Total number of backend connection attempts, by outcome",
			},
			[]string{"result"},
		),
		connectDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "upstream_connect_duration_seconds",
				Help:    "Time from the start of name resolution to the outcome of a connection attempt",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"result"},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "upstream_active_sessions",
				Help: "Number of established backend sessions that have not been shut down",
			},
		),
	}
}

// ObserveRoute records a route lookup.
func (m *Metrics) ObserveRoute(matched bool) {
	if m == nil {
		return
	}
	label := "false"
	if matched {
		label = "true"
	}
	m.routeLookups.WithLabelValues(label).Inc()
}

// ObserveConnect records the outcome of a connection attempt.
func (m *Metrics) ObserveConnect(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(result).Inc()
	m.connectDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}
