// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics collection for the trace store's own
// operational health.
type Metrics struct {
	config   *MetricsConfig
	registry *prometheus.Registry

	// Trace store metrics
	eventsWritten      *prometheus.CounterVec
	spansStarted       *prometheus.CounterVec
	spansEnded         *prometheus.CounterVec
	artifactsStored    *prometheus.CounterVec
	artifactBytes      *prometheus.CounterVec
	checkpointsCreated *prometheus.CounterVec
	checkpointsForked  *prometheus.CounterVec

	// Parallel executor metrics
	parallelGroups    *prometheus.CounterVec
	parallelCalls     *prometheus.CounterVec
	parallelGroupSize *prometheus.HistogramVec

	// Phase state machine metrics
	phaseTransitions *prometheus.CounterVec
	phaseToolCalls   *prometheus.HistogramVec

	// HTTP metrics (read-surface server)
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance from configuration.
func NewMetrics(cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	cfg.SetDefaults()

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),
	}

	m.initTraceStoreMetrics()
	m.initParallelMetrics()
	m.initPhaseMetrics()
	m.initHTTPMetrics()

	return m, nil
}

func (m *Metrics) initTraceStoreMetrics() {
	m.eventsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "tracestore",
			Name:      "events_written_total",
			Help:      "Total number of trace events appended to the event log",
		},
		[]string{"event_type"},
	)

	m.spansStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "tracestore",
			Name:      "spans_started_total",
			Help:      "Total number of spans started",
		},
		[]string{"span_type"},
	)

	m.spansEnded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "tracestore",
			Name:      "spans_ended_total",
			Help:      "Total number of spans ended, by terminal status",
		},
		[]string{"status"},
	)

	m.artifactsStored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "tracestore",
			Name:      "artifacts_stored_total",
			Help:      "Total number of artifacts stored",
		},
		[]string{"kind"},
	)

	m.artifactBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "tracestore",
			Name:      "artifact_bytes_total",
			Help:      "Total bytes stored across all artifacts",
		},
		[]string{"kind"},
	)

	m.checkpointsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "tracestore",
			Name:      "checkpoints_created_total",
			Help:      "Total number of checkpoints created",
		},
		[]string{},
	)

	m.checkpointsForked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "tracestore",
			Name:      "checkpoints_forked_total",
			Help:      "Total number of checkpoint forks",
		},
		[]string{},
	)

	m.registry.MustRegister(m.eventsWritten, m.spansStarted, m.spansEnded,
		m.artifactsStored, m.artifactBytes, m.checkpointsCreated, m.checkpointsForked)
}

func (m *Metrics) initParallelMetrics() {
	m.parallelGroups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "parallel",
			Name:      "groups_total",
			Help:      "Total number of conflict-partition groups executed",
		},
		[]string{"mode"}, // "inline" (size 1) or "pooled" (size > 1)
	)

	m.parallelCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "parallel",
			Name:      "calls_total",
			Help:      "Total number of tool calls dispatched by the parallel executor",
		},
		[]string{"outcome"}, // "success", "failure", "tool_error", "panic", "cancelled"
	)

	m.parallelGroupSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "parallel",
			Name:      "group_size",
			Help:      "Number of calls per conflict-partition group",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		},
		[]string{},
	)

	m.registry.MustRegister(m.parallelGroups, m.parallelCalls, m.parallelGroupSize)
}

func (m *Metrics) initPhaseMetrics() {
	m.phaseTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "phase",
			Name:      "transitions_total",
			Help:      "Total number of phase state machine transitions",
		},
		[]string{"from", "to"},
	)

	m.phaseToolCalls = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "phase",
			Name:      "tool_calls_at_transition",
			Help:      "Number of tool calls consumed by a phase when it was exited",
			Buckets:   prometheus.LinearBuckets(0, 2, 11),
		},
		[]string{"phase"},
	)

	m.registry.MustRegister(m.phaseTransitions, m.phaseToolCalls)
}

func (m *Metrics) initHTTPMetrics() {
	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests served by the read surface",
		},
		[]string{"method", "path", "status"},
	)

	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.registry.MustRegister(m.httpRequests, m.httpDuration)
}

// RecordEventWritten records a trace event append.
func (m *Metrics) RecordEventWritten(eventType string) {
	if m == nil {
		return
	}
	m.eventsWritten.WithLabelValues(eventType).Inc()
}

// RecordSpanStarted records a span start.
func (m *Metrics) RecordSpanStarted(spanType string) {
	if m == nil {
		return
	}
	m.spansStarted.WithLabelValues(spanType).Inc()
}

// RecordSpanEnded records a span end with its terminal status.
func (m *Metrics) RecordSpanEnded(status string) {
	if m == nil {
		return
	}
	m.spansEnded.WithLabelValues(status).Inc()
}

// RecordArtifactStored records an artifact write and its size in bytes.
func (m *Metrics) RecordArtifactStored(kind string, sizeBytes int) {
	if m == nil {
		return
	}
	m.artifactsStored.WithLabelValues(kind).Inc()
	m.artifactBytes.WithLabelValues(kind).Add(float64(sizeBytes))
}

// RecordCheckpointCreated records a checkpoint creation.
func (m *Metrics) RecordCheckpointCreated() {
	if m == nil {
		return
	}
	m.checkpointsCreated.WithLabelValues().Inc()
}

// RecordCheckpointForked records a checkpoint fork.
func (m *Metrics) RecordCheckpointForked() {
	if m == nil {
		return
	}
	m.checkpointsForked.WithLabelValues().Inc()
}

// RecordParallelGroup records a conflict-partition group's execution mode and size.
func (m *Metrics) RecordParallelGroup(mode string, size int) {
	if m == nil {
		return
	}
	m.parallelGroups.WithLabelValues(mode).Inc()
	m.parallelGroupSize.WithLabelValues().Observe(float64(size))
}

// RecordParallelCall records a single tool call's dispatch outcome.
func (m *Metrics) RecordParallelCall(outcome string) {
	if m == nil {
		return
	}
	m.parallelCalls.WithLabelValues(outcome).Inc()
}

// RecordPhaseTransition records a phase state machine transition.
func (m *Metrics) RecordPhaseTransition(from, to string, toolCallsAtExit int) {
	if m == nil {
		return
	}
	m.phaseTransitions.WithLabelValues(from, to).Inc()
	m.phaseToolCalls.WithLabelValues(from).Observe(float64(toolCallsAtExit))
}

// RecordHTTPRequest records an HTTP request served by the read surface.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, statusCodeLabel(statusCode)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func statusCodeLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
