package server

import (
	"net/http"
	"strings"
)

// Router 返回配置好的 HTTP 路由
//
// 路由规则：
//
// 服务信息:
//   - GET /        - 服务名与版本
//   - GET /health  - 服务健康检查
//   - GET /metrics - Prometheus 指标
//
// Agent Run:
//   - POST /api/agent/start|pause|resume|stop
//   - GET  /api/agent/stream?runId=      - SSE 事件流
//   - GET  /api/agent/runs               - 列出 Run
//   - GET  /api/agent/runs/{id}          - Run 快照
//   - GET  /api/agent/runs/{id}/events   - 事件日志回放
//
// 页面分析:
//   - POST /api/analysis
//
// WebSocket:
//   - GET  /ws/agent/stream?runId=       - 实时事件推送
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.Root)
	mux.HandleFunc("/", h.NotFound)
	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", h.metrics.MetricsHandler())

	if h.agent != nil {
		h.agent.RegisterRoutes(mux)
	}
	if h.analysis != nil {
		h.analysis.RegisterRoutes(mux)
	}

	// 应用指标中间件到 REST API
	apiHandler := h.metrics.MetricsMiddleware(mux)

	// 创建顶层路由，WebSocket 绕过 metrics 中间件（避免 http.Hijacker 问题）
	topMux := http.NewServeMux()
	if h.agent != nil {
		h.agent.RegisterWebSocketRoutes(topMux)
	}
	topMux.Handle("/", apiHandler)

	return corsMiddleware(h.allowOrigins)(topMux)
}

// corsMiddleware 添加 CORS 头支持跨域请求
func corsMiddleware(allowOrigins []string) func(http.Handler) http.Handler {
	allowed, allowAll := parseOrigins(allowOrigins)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "":
				if _, ok := allowed[origin]; ok {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
				}
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// OriginChecker WebSocket 跨域检查，与 CORS 使用同一份白名单
func OriginChecker(allowOrigins []string) func(r *http.Request) bool {
	allowed, allowAll := parseOrigins(allowOrigins)
	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

// parseOrigins 空列表或包含 "*" 视为允许所有来源
func parseOrigins(origins []string) (map[string]struct{}, bool) {
	allowAll := len(origins) == 0
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}
	return allowed, allowAll
}
