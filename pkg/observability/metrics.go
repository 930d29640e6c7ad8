// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics and OpenTelemetry
// tracing setup for the chat client and the mock backend.
//
// # Description
//
// ClientMetrics implements session.Metrics and records turn outcomes,
// latencies, retry signals, tool calls, reloads and session expiries.
// BackendMetrics records streams served by the mock backend.
//
// Both take a prometheus.Registerer so tests can use an isolated registry.
// A nil Registerer creates unregistered collectors.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianChatSync/pkg/broadcast"
	"github.com/AleutianAI/AleutianChatSync/pkg/chat/datatypes"
	"github.com/AleutianAI/AleutianChatSync/pkg/chat/session"
)

const metricsNamespace = "chatsync"

const (
	clientSubsystem  = "client"
	backendSubsystem = "backend"
)

// =============================================================================
// Client Metrics
// =============================================================================

// ClientMetrics holds the Prometheus collectors for conversation turns.
//
// # Fields
//
//   - TurnsTotal: Finished turns. Labels: outcome (success, transport, http, missing_body, stream)
//   - TurnDurationSeconds: Time from send to turn end
//   - TimeToFirstDeltaSeconds: Time from send to the first content delta
//   - ActiveTurns: 1 while a turn is in flight
//   - RetriesTotal: Retry signals. Labels: error_type
//   - ToolCallsTotal: Finished tool calls. Labels: status (success, error)
//   - ReloadsTotal: Post-failure reloads. Labels: result (success, error)
//   - SessionExpiriesTotal: 401 responses observed on the bus
type ClientMetrics struct {
	TurnsTotal              *prometheus.CounterVec
	TurnDurationSeconds     prometheus.Histogram
	TimeToFirstDeltaSeconds prometheus.Histogram
	ActiveTurns             prometheus.Gauge
	RetriesTotal            *prometheus.CounterVec
	ToolCallsTotal          *prometheus.CounterVec
	ReloadsTotal            *prometheus.CounterVec
	SessionExpiriesTotal    prometheus.Counter
}

var _ session.Metrics = (*ClientMetrics)(nil)

// NewClientMetrics creates the client collectors and registers them with reg.
//
// # Limitations
//
//   - Panics on duplicate registration, like promauto.
func NewClientMetrics(reg prometheus.Registerer) *ClientMetrics {
	f := promauto.With(reg)
	return &ClientMetrics{
		TurnsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: clientSubsystem,
				Name:      "turns_total",
				Help:      "Conversation turns by outcome",
			},
			[]string{"outcome"},
		),
		TurnDurationSeconds: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: clientSubsystem,
				Name:      "turn_duration_seconds",
				Help:      "Time from send to the end of the turn in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		TimeToFirstDeltaSeconds: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: clientSubsystem,
				Name:      "time_to_first_delta_seconds",
				Help:      "Time from send to the first content delta in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
		),
		ActiveTurns: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: clientSubsystem,
				Name:      "active_turns",
				Help:      "Turns currently streaming",
			},
		),
		RetriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: clientSubsystem,
				Name:      "retries_total",
				Help:      "Server retry signals by error type",
			},
			[]string{"error_type"},
		),
		ToolCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: clientSubsystem,
				Name:      "tool_calls_total",
				Help:      "Finished tool invocations by status",
			},
			[]string{"status"},
		),
		ReloadsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: clientSubsystem,
				Name:      "reloads_total",
				Help:      "Conversation reloads after failed turns by result",
			},
			[]string{"result"},
		),
		SessionExpiriesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: clientSubsystem,
				Name:      "session_expiries_total",
				Help:      "Unauthorized responses observed",
			},
		),
	}
}

func (m *ClientMetrics) TurnStarted() {
	m.ActiveTurns.Inc()
}

func (m *ClientMetrics) TurnFinished(outcome string, elapsed time.Duration) {
	m.ActiveTurns.Dec()
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDurationSeconds.Observe(elapsed.Seconds())
}

func (m *ClientMetrics) FirstDelta(elapsed time.Duration) {
	m.TimeToFirstDeltaSeconds.Observe(elapsed.Seconds())
}

func (m *ClientMetrics) RetrySignalled(errorType string) {
	if errorType == "" {
		errorType = "unknown"
	}
	m.RetriesTotal.WithLabelValues(errorType).Inc()
}

func (m *ClientMetrics) ToolCallFinished(status datatypes.ToolStatus) {
	m.ToolCallsTotal.WithLabelValues(string(status)).Inc()
}

func (m *ClientMetrics) ReloadFinished(err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.ReloadsTotal.WithLabelValues(result).Inc()
}

// WatchSessionExpiry counts session-expired broadcasts on bus. The returned
// func unsubscribes.
func (m *ClientMetrics) WatchSessionExpiry(bus *broadcast.Bus) func() {
	if bus == nil {
		return func() {}
	}
	_, cancel := bus.Subscribe(broadcast.TopicSessionExpired, func(broadcast.Notification) {
		m.SessionExpiriesTotal.Inc()
	})
	return cancel
}

// =============================================================================
// Backend Metrics
// =============================================================================

// Endpoint labels a mock backend route.
type Endpoint string

const (
	EndpointCreate       Endpoint = "create_stream"
	EndpointSend         Endpoint = "send_stream"
	EndpointConversation Endpoint = "get_conversation"
)

// BackendMetrics holds the collectors for the mock backend.
type BackendMetrics struct {
	// StreamsTotal counts streams by endpoint and status (success, error, client_disconnect).
	StreamsTotal *prometheus.CounterVec

	// EventsTotal counts SSE events written by kind.
	EventsTotal *prometheus.CounterVec

	// StreamDurationSeconds measures stream duration by endpoint.
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks open streams by endpoint.
	ActiveStreams *prometheus.GaugeVec
}

// NewBackendMetrics creates the backend collectors and registers them with reg.
func NewBackendMetrics(reg prometheus.Registerer) *BackendMetrics {
	f := promauto.With(reg)
	return &BackendMetrics{
		StreamsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "streams_total",
				Help:      "Streams served by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		EventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "events_total",
				Help:      "SSE events written by kind",
			},
			[]string{"kind"},
		),
		StreamDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Stream duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"endpoint"},
		),
		ActiveStreams: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "active_streams",
				Help:      "Streams currently open",
			},
			[]string{"endpoint"},
		),
	}
}

// StreamStarted marks a stream open and returns the func that closes it
// with a status label.
//
// # Examples
//
//	done := metrics.StreamStarted(observability.EndpointSend)
//	defer func() { done(status) }()
func (m *BackendMetrics) StreamStarted(endpoint Endpoint) func(status string) {
	start := time.Now()
	ep := string(endpoint)
	m.ActiveStreams.WithLabelValues(ep).Inc()
	return func(status string) {
		m.ActiveStreams.WithLabelValues(ep).Dec()
		m.StreamsTotal.WithLabelValues(ep, status).Inc()
		m.StreamDurationSeconds.WithLabelValues(ep).Observe(time.Since(start).Seconds())
	}
}

// EventSent counts one written SSE event.
func (m *BackendMetrics) EventSent(kind string) {
	m.EventsTotal.WithLabelValues(kind).Inc()
}
