package monitoring

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestIndependentRegistries(t *testing.T) {
	first := NewMetrics()
	second := NewMetrics()

	first.RecordRealized("local")

	assert.Equal(t, 1.0, testutil.ToFloat64(first.AppsActive))
	assert.Equal(t, 0.0, testutil.ToFloat64(second.AppsActive))
}

func TestApplicationLifecycleCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordRealized("local")
	m.RecordRealized("isolated")
	m.RecordRealizeFailure("local")
	m.RecordDestroyed("local", 20*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AppsRealized.WithLabelValues("local")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RealizeFailures.WithLabelValues("local")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AppsDestroyed.WithLabelValues("local")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AppsActive))
}

func TestDeferredAndSubmissionCounters(t *testing.T) {
	m := NewMetrics()

	m.ObserveDeferred("resolved", 3, 300*time.Millisecond)
	m.ObserveDeferred("timed_out", 10, time.Second)
	m.RecordSubmission("ok")
	m.RecordInterceptorFailures("realized", 2)
	m.RecordInterceptorFailures("destroyed", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeferredOutcomes.WithLabelValues("resolved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeferredOutcomes.WithLabelValues("timed_out")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Submissions.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.InterceptorFailures.WithLabelValues("realized")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordRealized("local")
		m.RecordDestroyed("local", time.Millisecond)
		m.ObserveDeferred("resolved", 1, time.Millisecond)
		m.RecordSubmission("ok")
	})
}

func TestHandlerServesRegistry(t *testing.T) {
	m := NewMetrics()
	m.RecordRealized("local")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "apprun_applications_realized_total"))
}
