package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enabledMetricsConfig() *MetricsConfig {
	cfg := &MetricsConfig{Enabled: true}
	cfg.SetDefaults()
	return cfg
}

func TestNewMetricsDisabledReturnsNil(t *testing.T) {
	m, err := NewMetrics(&MetricsConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestMetricsRecordingIsNilSafe(t *testing.T) {
	var m *Metrics
	m.RecordEventWritten("SPAN_START")
	m.RecordSpanStarted("TOOL_CALL")
	m.RecordSpanEnded("OK")
	m.RecordArtifactStored("checkpoint_state", 1024)
	m.RecordCheckpointCreated()
	m.RecordCheckpointForked()
	m.RecordParallelGroup("pooled", 3)
	m.RecordParallelCall("success")
	m.RecordPhaseTransition("fix", "regression_check", 4)
	m.RecordHTTPRequest("GET", "/healthz", 200, time.Millisecond)
}

func TestMetricsExposedViaRegistry(t *testing.T) {
	m, err := NewMetrics(enabledMetricsConfig())
	require.NoError(t, err)
	require.NotNil(t, m)

	m.RecordEventWritten("SPAN_START")
	m.RecordArtifactStored("checkpoint_state", 512)
	m.RecordPhaseTransition("localization", "understanding", 10)

	metricFamilies, err := m.Registry().Gather()
	require.NoError(t, err)

	var sawEvents, sawArtifacts, sawPhase bool
	for _, mf := range metricFamilies {
		switch mf.GetName() {
		case "tracecore_tracestore_events_written_total":
			sawEvents = true
		case "tracecore_tracestore_artifact_bytes_total":
			sawArtifacts = true
		case "tracecore_phase_transitions_total":
			sawPhase = true
		}
	}
	assert.True(t, sawEvents, "expected events_written_total metric")
	assert.True(t, sawArtifacts, "expected artifact_bytes_total metric")
	assert.True(t, sawPhase, "expected phase transitions metric")
}

func TestNoopMetricsSatisfiesRecorder(t *testing.T) {
	var r Recorder = NoopMetrics{}
	r.RecordEventWritten("SPAN_START")
	r.RecordHTTPRequest("GET", "/healthz", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHTTPMiddlewareRecordsRequest(t *testing.T) {
	m, err := NewMetrics(enabledMetricsConfig())
	require.NoError(t, err)

	handler := HTTPMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/traces/abc/overview", nil))
	assert.Equal(t, http.StatusCreated, rec.Code)

	metricFamilies, err := m.Registry().Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range metricFamilies {
		if mf.GetName() == "tracecore_http_requests_total" {
			found = true
		}
	}
	assert.True(t, found, "expected http_requests_total metric to be registered and incremented")
}

func TestManagerFallsBackToNoopRecorder(t *testing.T) {
	mgr, err := NewManager(&Config{})
	require.NoError(t, err)
	assert.False(t, mgr.MetricsEnabled())

	rec := mgr.Recorder()
	rec.RecordEventWritten("SPAN_START") // must not panic
}
