// Package server Prometheus 指标导出
package server

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"overlay-backend/internal/shared/model"
)

// Metrics 包含所有 API Server 指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Run 指标
	RunsStartedTotal    prometheus.Counter
	RunTransitionsTotal *prometheus.CounterVec

	// 推送流指标
	StreamConnectionsActive *prometheus.GaugeVec
	StreamEventsTotal       *prometheus.CounterVec

	// LLM 指标
	LLMRequestsTotal *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics 在 reg 上注册指标
//
// reg 为 nil 时创建独立的 Registry（测试中多次创建不会冲突）。
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		RunsStartedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total agent runs started",
			},
		),
		RunTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "run_transitions_total",
				Help:      "Run state transitions by target state",
			},
			[]string{"state"},
		),
		StreamConnectionsActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stream_connections_active",
				Help:      "Active event stream connections",
			},
			[]string{"transport"},
		),
		StreamEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_events_total",
				Help:      "Events delivered to stream subscribers",
			},
			[]string{"kind"},
		),
		LLMRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_requests_total",
				Help:      "Upstream LLM requests by input mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		gatherer: reg,
	}
}

// MetricsMiddleware 创建 HTTP 指标中间件
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		// 包装 ResponseWriter 以捕获状态码
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)
		status := strconv.Itoa(wrapped.statusCode)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter 包装 http.ResponseWriter 以捕获状态码
//
// 透传 Flush，SSE 经过中间件后仍能逐帧推送。
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijack not supported")
}

// normalizePath 规范化路径，将 ID 替换为占位符
//
// 例如 /api/agent/runs/3f2a.../events -> /api/agent/runs/{id}/events
func normalizePath(path string) string {
	const runsPrefix = "/api/agent/runs/"
	if !strings.HasPrefix(path, runsPrefix) || len(path) == len(runsPrefix) {
		return path
	}
	rest := path[len(runsPrefix):]
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return runsPrefix + "{id}" + rest[i:]
	}
	return runsPrefix + "{id}"
}

// MetricsHandler 返回 Prometheus HTTP Handler
func (m *Metrics) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordRunStarted 记录 Run 启动
func (m *Metrics) RecordRunStarted() {
	m.RunsStartedTotal.Inc()
}

// RecordRunTransition 记录状态迁移，可直接作为 agent.TransitionHook
func (m *Metrics) RecordRunTransition(runID string, from, to model.RunState) {
	if from == model.RunStateIdle && to == model.RunStateRunning {
		m.RecordRunStarted()
	}
	m.RunTransitionsTotal.WithLabelValues(string(to)).Inc()
}

// StreamOpened 推送连接打开
func (m *Metrics) StreamOpened(transport string) {
	m.StreamConnectionsActive.WithLabelValues(transport).Inc()
}

// StreamClosed 推送连接关闭
func (m *Metrics) StreamClosed(transport string) {
	m.StreamConnectionsActive.WithLabelValues(transport).Dec()
}

// StreamEvent 记录推送事件
func (m *Metrics) StreamEvent(kind string) {
	m.StreamEventsTotal.WithLabelValues(kind).Inc()
}

// RecordLLMRequest 记录上游调用，可直接作为 llm.Observer
func (m *Metrics) RecordLLMRequest(mode, outcome string) {
	m.LLMRequestsTotal.WithLabelValues(mode, outcome).Inc()
}
