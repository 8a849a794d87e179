package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(Middleware())
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/recommend", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("ok"))
		})
		r.Post("/recommend", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		r.Get("/services/count", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})
	return r
}

func serve(t *testing.T, r http.Handler, method, path string) int {
	t.Helper()
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(method, path, http.NoBody))
	return rr.Code
}

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	r := newTestRouter()

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/v1/recommend", "200"))
	require.Equal(t, http.StatusOK, serve(t, r, http.MethodGet, "/api/v1/recommend?query=food"))

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/v1/recommend", "200"))
	assert.InDelta(t, 1, after-before, 0)
	assert.Positive(t, testutil.CollectAndCount(httpRequestDuration))
}

func TestMiddleware_StatusCodes(t *testing.T) {
	r := newTestRouter()

	tests := []struct {
		method, path, route, status string
	}{
		{http.MethodPost, "/api/v1/recommend", "/api/v1/recommend", "502"},
		{http.MethodGet, "/api/v1/services/count", "/api/v1/services/count", "204"},
	}
	for _, tc := range tests {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(tc.method, tc.route, tc.status))
			serve(t, r, tc.method, tc.path)
			after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(tc.method, tc.route, tc.status))
			assert.InDelta(t, 1, after-before, 0)
		})
	}
}

func TestMiddleware_UnmatchedPathsShareOneLabel(t *testing.T) {
	r := newTestRouter()

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "unmatched", "404"))
	serve(t, r, http.MethodGet, "/api/v1/services/abc123")
	serve(t, r, http.MethodGet, "/random/path")
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "unmatched", "404"))

	assert.InDelta(t, 2, after-before, 0)
}

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "unmatched"},
		{"/*", "unmatched"},
		{"/api/v1/*", "unmatched"},
		{"/", "/"},
		{"/api/v1/recommend/", "/api/v1/recommend"},
		{"/health", "/health"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, routeLabel(tc.in), tc.in)
	}
}
