// Package analysis 页面分析领域 - HTTP 处理
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"overlay-backend/internal/llm"
	"overlay-backend/pkg/logging"
)

// Analyzer handler 需要的分析接口（用于测试 mock）
type Analyzer interface {
	Analyze(ctx context.Context, in llm.PageInput) (*llm.Analysis, error)
}

// Handler 页面分析 HTTP 处理器
type Handler struct {
	analyzer Analyzer
	logger   *logging.Logger
}

// NewHandler 创建处理器
func NewHandler(analyzer Analyzer, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{analyzer: analyzer, logger: logger.WithComponent("apiserver.analysis")}
}

// RegisterRoutes 注册分析路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/analysis", h.Analyze)
}

// Analyze DOM + 截图 -> 建议
// POST /api/analysis
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	var in llm.PageInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	for _, s := range in.Screenshots {
		if s.MimeType == "" || s.DataBase64 == "" {
			writeError(w, http.StatusBadRequest, "screenshots require mime_type and data_base64")
			return
		}
	}

	out, err := h.analyzer.Analyze(r.Context(), in)
	if err != nil {
		h.writeAnalyzeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) writeAnalyzeError(w http.ResponseWriter, err error) {
	var upstream *llm.UpstreamError
	switch {
	case errors.Is(err, llm.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "dom_html is required")
	case errors.Is(err, llm.ErrConfig):
		writeError(w, http.StatusInternalServerError, llm.ErrConfig.Error())
	case errors.As(err, &upstream):
		writeJSON(w, upstream.StatusCode, map[string]string{
			"error":  "upstream error",
			"detail": upstream.Body,
		})
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "upstream timeout")
	default:
		h.logger.WithError(err).Error("[analysis.failed]")
		writeError(w, http.StatusBadGateway, "upstream request failed")
	}
}

// ============================================================================
// 工具函数
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
