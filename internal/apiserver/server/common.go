// Package server 路由配置与核心基础设施
//
// 文件组织：
//   - common.go: Handler 定义与通用工具函数
//   - handler.go: 路由、CORS 中间件
//   - metrics.go: Prometheus 指标
package server

import (
	"encoding/json"
	"net/http"

	agentapi "overlay-backend/internal/apiserver/agent"
	"overlay-backend/internal/apiserver/analysis"
	"overlay-backend/pkg/logging"
)

// 服务信息
const (
	ServiceName    = "overlay-backend"
	ServiceVersion = "0.0.1"
)

// Handler API 处理器
//
// Handler 是所有 HTTP API 的入口，负责：
//   - 组装各领域 Handler 并注册路由
//   - 挂载 CORS 与指标中间件
type Handler struct {
	agent        *agentapi.Handler
	analysis     *analysis.Handler
	metrics      *Metrics
	allowOrigins []string
	logger       *logging.Logger
}

// NewHandler 创建 Handler 实例
//
// allowOrigins 为空或包含 "*" 时允许所有来源。
func NewHandler(agent *agentapi.Handler, analysis *analysis.Handler, metrics *Metrics, allowOrigins []string, logger *logging.Logger) *Handler {
	if metrics == nil {
		metrics = NewMetrics("overlay", nil)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{
		agent:        agent,
		analysis:     analysis,
		metrics:      metrics,
		allowOrigins: allowOrigins,
		logger:       logger.WithComponent("apiserver"),
	}
}

// writeJSON 将数据以 JSON 格式写入 HTTP 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError 将错误信息以 JSON 格式写入 HTTP 响应
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Root 服务信息
//
// 路由: GET /
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"service": ServiceName,
		"version": ServiceVersion,
	})
}

// Health 健康检查接口
//
// 路由: GET /health
//
// 用于负载均衡器和监控系统检查服务状态。
// 返回 {"status": "ok"} 表示服务正常运行。
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// NotFound 未匹配路由
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}
