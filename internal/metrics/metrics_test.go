package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCompletion("model", "ok", time.Second)
		m.SetBreakerState("model", "open")
		m.ObserveAttempt("model", "strict", "ok")
		m.ObserveCategorization("accepted")
		m.JobStarted()
		m.JobFinished("completed", time.Second)
	})
}

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveCompletion("model-a", "ok", 200*time.Millisecond)
	m.ObserveCompletion("model-a", "status", 100*time.Millisecond)
	m.SetBreakerState("model-a", "open")
	m.ObserveCategorization("accepted")
	m.JobStarted()
	m.JobStarted()
	m.JobFinished("forced", time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.completionTotal.WithLabelValues("model-a", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.breakerState.WithLabelValues("model-a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.categorizations.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobOutcomes.WithLabelValues("forced")))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveCategorization("unavailable")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `autocat_engine_categorizations_total{outcome="unavailable"} 1`)
}
