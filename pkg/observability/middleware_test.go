package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsRecordersAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordQuery(ctx, "text", "high", time.Second, nil)
		m.RecordStages(ctx, map[string]int64{"retrieval_ms": 120})
		m.RecordLLMCall(ctx, "primary", time.Second, 100, 50, nil)
		m.RecordHTTPRequest(ctx, "GET", "/health", 200, time.Millisecond)
	})

	empty := &Metrics{}
	assert.NotPanics(t, func() {
		empty.RecordQuery(ctx, "text", "high", time.Second, nil)
		empty.RecordStages(ctx, map[string]int64{"retrieval_ms": 120})
	})
}

func TestHTTPMiddlewarePreservesStatus(t *testing.T) {
	r := chi.NewRouter()
	r.Use(HTTPMiddleware(nil))
	r.Get("/api/v1/admin/session/{session_id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"session not found"}`))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/session/abc", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"session not found"}`, rec.Body.String())
}

func TestRoutePatternFallsBackToPath(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/raw/path", nil)
	assert.Equal(t, "/raw/path", routePattern(req))
}
