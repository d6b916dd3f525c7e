package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engine "overlay-backend/internal/agent"
	agentapi "overlay-backend/internal/apiserver/agent"
	"overlay-backend/internal/apiserver/analysis"
	"overlay-backend/internal/llm"
	"overlay-backend/internal/shared/model"
)

type stubAnalyzer struct{}

func (stubAnalyzer) Analyze(ctx context.Context, in llm.PageInput) (*llm.Analysis, error) {
	return &llm.Analysis{Suggestions: []llm.Suggestion{}, Model: "stub"}, nil
}

func newTestServer(t *testing.T, origins []string) (*Handler, *engine.Registry) {
	t.Helper()
	metrics := NewMetrics("test", prometheus.NewRegistry())

	reg := engine.NewRegistry(engine.Config{Step: func(ctx context.Context, s string) error {
		<-ctx.Done()
		return ctx.Err()
	}}, nil)
	reg.SetTransitionHook(metrics.RecordRunTransition)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		reg.Shutdown(ctx)
	})

	agentHandler := agentapi.NewHandler(reg, agentapi.Options{Observer: metrics})
	h := NewHandler(agentHandler, analysis.NewHandler(stubAnalyzer{}, nil), metrics, origins, nil)
	return h, reg
}

func TestRouter_Root(t *testing.T) {
	h, _ := newTestServer(t, nil)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"service":"overlay-backend","version":"0.0.1"}`, w.Body.String())
}

func TestRouter_Health(t *testing.T) {
	h, _ := newTestServer(t, nil)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestRouter_NotFound(t *testing.T) {
	h, _ := newTestServer(t, nil)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, httptest.NewRequest("GET", "/nope", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"not found"}`, w.Body.String())
}

func TestRouter_DomainRoutes(t *testing.T) {
	h, _ := newTestServer(t, nil)
	router := h.Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/api/agent/start", strings.NewReader(`{"task":"x"}`)))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/api/analysis", strings.NewReader(`{"dom_html":"<p/>"}`)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"suggestions":[],"model":"stub"}`, w.Body.String())
}

func TestCORS_AllowAll(t *testing.T) {
	h, _ := newTestServer(t, []string{"*"})
	req := httptest.NewRequest("OPTIONS", "/api/agent/start", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestCORS_AllowList(t *testing.T) {
	h, _ := newTestServer(t, []string{"https://app.example.com"})
	router := h.Router()

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestOriginChecker(t *testing.T) {
	check := OriginChecker([]string{"https://app.example.com"})

	req := httptest.NewRequest("GET", "/ws/agent/stream", nil)
	assert.True(t, check(req), "无 Origin 的非浏览器客户端")
	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, check(req))
	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))

	assert.True(t, OriginChecker(nil)(req))
}

func TestMetrics_Endpoint(t *testing.T) {
	h, reg := newTestServer(t, nil)
	router := h.Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/api/agent/start", strings.NewReader(`{"task":"metrics"}`)))
	require.Equal(t, http.StatusOK, w.Code)
	runs := reg.List()
	require.Len(t, runs, 1)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/agent/runs/"+runs[0].ID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	srv := httptest.NewServer(router)
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	text := string(body)
	assert.Contains(t, text, "test_runs_started_total 1")
	assert.Contains(t, text, `test_run_transitions_total{state="`+string(model.RunStateRunning)+`"} 1`)
	assert.Contains(t, text, `test_http_requests_total{method="GET",path="/api/agent/runs/{id}",status="200"} 1`)
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"/api/agent/runs":            "/api/agent/runs",
		"/api/agent/runs/":           "/api/agent/runs/",
		"/api/agent/runs/abc":        "/api/agent/runs/{id}",
		"/api/agent/runs/abc/events": "/api/agent/runs/{id}/events",
		"/api/agent/start":           "/api/agent/start",
		"/api/analysis":              "/api/analysis",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizePath(in), in)
	}
}

func TestResponseWriter_Flush(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	var _ http.Flusher = rw
	rw.WriteHeader(http.StatusAccepted)
	rw.Flush()

	assert.Equal(t, http.StatusAccepted, rw.statusCode)
	assert.True(t, rec.Flushed)
}
