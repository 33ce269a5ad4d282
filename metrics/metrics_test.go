package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveJob("ready", time.Second)
		m.ObserveEncode("720p", time.Second, nil)
		m.ObserveIngest(1, 2, 3)
		m.IncUploadRejected("too_large")
		m.IncRequests()
		m.IncErrors()
	})
}

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveJob("ready", 3*time.Second)
	m.ObserveJob("failed", time.Second)
	m.ObserveJob("ready", time.Second)
	m.ObserveEncode("1080p", time.Second, errors.New("boom"))
	m.ObserveEncode("720p", time.Second, nil)
	m.ObserveIngest(2, 1, 786432)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues("ready")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.encodesTotal.WithLabelValues("1080p", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.encodesTotal.WithLabelValues("720p", "success")))
	assert.Equal(t, 786432.0, testutil.ToFloat64(m.bytesAccounted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.linesSkipped))
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	h := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusBadRequest)
		}
	}))

	for _, p := range []string{"/ok", "/bad", "/ok"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(m.requestsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestErrors))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total 3")
}
