// Package agent Agent Run 领域 - HTTP 处理
//
// 路由：
//   - POST /api/agent/start             - 创建 Run 并启动 Worker
//   - POST /api/agent/pause             - 暂停
//   - POST /api/agent/resume            - 恢复
//   - POST /api/agent/stop              - 停止（等待 Worker 退出）
//   - GET  /api/agent/stream?runId=     - SSE 事件流
//   - GET  /api/agent/runs              - 列出 Run
//   - GET  /api/agent/runs/{id}         - Run 快照
//   - GET  /api/agent/runs/{id}/events  - 事件日志回放
//   - GET  /ws/agent/stream?runId=      - WebSocket 事件流
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	engine "overlay-backend/internal/agent"
	"overlay-backend/internal/shared/eventbus"
	"overlay-backend/internal/shared/model"
	"overlay-backend/pkg/logging"
)

// 推送通道（指标标签）
const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

const defaultEventsLimit = 100

// RunRegistry handler 需要的 Run 注册表接口（用于测试 mock）
type RunRegistry interface {
	Start(task string) (*engine.Run, error)
	Get(id string) (*engine.Run, error)
	List() []model.RunSnapshot
	Pause(id string) error
	Resume(id string) error
	Stop(ctx context.Context, id string) error
}

// EventReader 事件日志回放接口
type EventReader interface {
	GetRunEvents(ctx context.Context, runID string, fromSeq int, count int64) ([]*eventbus.RunEvent, error)
}

// StreamObserver 推送连接的指标回调
type StreamObserver interface {
	StreamOpened(transport string)
	StreamClosed(transport string)
	StreamEvent(kind string)
}

// Options Handler 可选依赖
type Options struct {
	Events            EventReader   // 为 nil 时事件回放返回 503
	HeartbeatInterval time.Duration // SSE / WebSocket 心跳等待
	WSPingInterval    time.Duration // WebSocket 协议层 ping
	CheckOrigin       func(r *http.Request) bool
	Observer          StreamObserver
	Logger            *logging.Logger
}

// Handler Agent Run HTTP 处理器
type Handler struct {
	runs     RunRegistry
	events   EventReader
	streamer *engine.Streamer
	wsPing   time.Duration
	upgrader websocket.Upgrader
	observer StreamObserver
	logger   *logging.Logger
}

// NewHandler 创建处理器
func NewHandler(runs RunRegistry, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	wsPing := opts.WSPingInterval
	if wsPing <= 0 {
		wsPing = defaultWSPingInterval
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Handler{
		runs:     runs,
		events:   opts.Events,
		streamer: engine.NewStreamer(opts.HeartbeatInterval),
		wsPing:   wsPing,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		observer: opts.Observer,
		logger:   logger.WithComponent("apiserver.agent"),
	}
}

// RegisterRoutes 注册 REST 与 SSE 路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/agent/start", h.Start)
	mux.HandleFunc("POST /api/agent/pause", h.Pause)
	mux.HandleFunc("POST /api/agent/resume", h.Resume)
	mux.HandleFunc("POST /api/agent/stop", h.Stop)
	mux.HandleFunc("GET /api/agent/stream", h.Stream)
	mux.HandleFunc("GET /api/agent/runs", h.List)
	mux.HandleFunc("GET /api/agent/runs/{id}", h.Get)
	mux.HandleFunc("GET /api/agent/runs/{id}/events", h.Events)
}

// RegisterWebSocketRoutes 注册 WebSocket 路由（需绕过 metrics 中间件）
func (h *Handler) RegisterWebSocketRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/agent/stream", h.StreamWebSocket)
}

// StartRequest 启动请求体
type StartRequest struct {
	Task string `json:"task"`
}

// RunRequest pause / resume / stop 请求体
type RunRequest struct {
	RunID string `json:"runId"`
}

// Start 创建 Run
// POST /api/agent/start
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	run, err := h.runs.Start(req.Task)
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"runId": run.ID})
}

// Pause 暂停 Run
// POST /api/agent/pause
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, func(ctx context.Context, id string) error { return h.runs.Pause(id) })
}

// Resume 恢复 Run
// POST /api/agent/resume
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, func(ctx context.Context, id string) error { return h.runs.Resume(id) })
}

// Stop 停止 Run，Worker 退出后返回
// POST /api/agent/stop
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.runs.Stop)
}

func (h *Handler) control(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) error) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := op(r.Context(), req.RunID); err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// List 列出所有 Run
// GET /api/agent/runs
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	runs := h.runs.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs, "count": len(runs)})
}

// Get 获取 Run 快照
// GET /api/agent/runs/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Get(r.PathValue("id"))
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run.Snapshot())
}

// Events 回放事件日志
// GET /api/agent/runs/{id}/events?from_seq=&limit=
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event journal disabled")
		return
	}
	id := r.PathValue("id")
	if _, err := h.runs.Get(id); err != nil {
		writeRunError(w, err)
		return
	}

	fromSeq, _ := strconv.Atoi(r.URL.Query().Get("from_seq"))
	limit, _ := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)
	if limit <= 0 {
		limit = defaultEventsLimit
	}

	events, err := h.events.GetRunEvents(r.Context(), id, fromSeq, limit)
	if err != nil {
		h.logger.WithRunID(id).WithError(err).Warn("[agent.events.failed]")
		writeError(w, http.StatusInternalServerError, "failed to get events")
		return
	}
	if events == nil {
		events = []*eventbus.RunEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events, "count": len(events)})
}

// Stream SSE 事件流
// GET /api/agent/stream?runId=
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("runId")
	run, err := h.runs.Get(runID)
	if err != nil {
		writeRunError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.opened(TransportSSE)
	defer h.closed(TransportSSE)
	logger := h.logger.WithRunID(runID)
	logger.Info("[agent.stream.open]", "transport", TransportSSE)

	sink := h.observe(sseSink(w, flusher))
	if err := h.streamer.Serve(r.Context(), run, sink); err != nil {
		logger.WithError(err).Debug("[agent.stream.write.failed]", "transport", TransportSSE)
	}
	logger.Info("[agent.stream.close]", "transport", TransportSSE)
}

func (h *Handler) observe(sink engine.Sink) engine.Sink {
	if h.observer == nil {
		return sink
	}
	return func(kind string, data []byte) error {
		if err := sink(kind, data); err != nil {
			return err
		}
		h.observer.StreamEvent(kind)
		return nil
	}
}

func (h *Handler) opened(transport string) {
	if h.observer != nil {
		h.observer.StreamOpened(transport)
	}
}

func (h *Handler) closed(transport string) {
	if h.observer != nil {
		h.observer.StreamClosed(transport)
	}
}

// ============================================================================
// 工具函数
// ============================================================================

// writeRunError 把领域错误映射为 HTTP 状态码
func writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	case errors.Is(err, engine.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "task is required")
	case errors.Is(err, engine.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
