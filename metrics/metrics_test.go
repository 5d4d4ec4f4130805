package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/claims-engine/metrics"
)

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	m := metrics.New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/cases/{irn}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", m.Handler())

	for _, irn := range []string{"1001", "1002"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cases/"+irn, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `claims_http_requests_total{method="GET",route="/api/cases/{irn}",status="404"} 2`)
}

func TestRecorders(t *testing.T) {
	m := metrics.New()
	m.RecordSubmission("Injury", "created")
	m.RecordSecondaryFailure("set_stage")
	m.RecordSecondaryFailure("set_stage")
	m.RecordLocksExpired(0)
	m.RecordLocksExpired(3)

	expected := `
# HELP claims_submission_secondary_failures_total Best-effort submission steps that failed after retries.
# TYPE claims_submission_secondary_failures_total counter
claims_submission_secondary_failures_total{step="set_stage"} 2
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"claims_submission_secondary_failures_total"))

	count, err := testutil.GatherAndCount(m.Registry(), "claims_locks_expired_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
