package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"mdlive/internal/metrics"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsPathLabelUsesRouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(Metrics)
	r.HandleFunc("/files/{token}/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")

	templated := metrics.HTTPRequestsTotal.WithLabelValues("GET", "/files/{token}/{name}", "200")
	before := testutil.ToFloat64(templated)

	// Two requests with distinct tokens land on one label series; raw paths
	// would mint a series per token.
	for _, p := range []string{"/files/tokA/a.md", "/files/tokB/b.md"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, p, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	require.Equal(t, float64(2), testutil.ToFloat64(templated)-before)
	require.Zero(t, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/files/tokA/a.md", "200")))
}
