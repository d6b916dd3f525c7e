package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	engine "overlay-backend/internal/agent"
)

const (
	defaultWSPingInterval = 30 * time.Second
	wsWriteWait           = 10 * time.Second
	wsReadLimit           = 512
)

// Frame WebSocket 推送帧
//
//	状态：{"event": "status", "data": {"state": "running"}}
//	消息：{"event": "message", "data": {"type": "log", ...}}
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// wsConn 串行化对同一连接的写操作
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(v)
}

// StreamWebSocket WebSocket 事件流
// GET /ws/agent/stream?runId=
//
// 推送内容与 SSE 相同；心跳（ping 事件）同样以 message 帧下发。
// 客户端消息：{"type": "ping"} -> 响应 {"type": "pong"}
func (h *Handler) StreamWebSocket(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("runId")
	run, err := h.runs.Get(runID)
	if err != nil {
		writeRunError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("[agent.ws.upgrade.failed]")
		return
	}
	defer conn.Close()

	h.opened(TransportWebSocket)
	defer h.closed(TransportWebSocket)
	logger := h.logger.WithRunID(runID)
	logger.Info("[agent.stream.open]", "transport", TransportWebSocket)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ws := &wsConn{conn: conn}
	go h.readPump(ws, cancel)
	go h.pingLoop(ctx, ws, cancel)

	sink := h.observe(func(kind string, data []byte) error {
		event := engine.EventMessage
		if kind == engine.EventStatus {
			event = engine.EventStatus
		}
		return ws.writeJSON(Frame{Event: event, Data: data})
	})
	if err := h.streamer.Serve(ctx, run, sink); err != nil {
		logger.WithError(err).Debug("[agent.stream.write.failed]", "transport", TransportWebSocket)
	}

	ws.mu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	ws.mu.Unlock()
	logger.Info("[agent.stream.close]", "transport", TransportWebSocket)
}

// readPump 读取客户端消息，连接关闭或读超时后取消推送
func (h *Handler) readPump(ws *wsConn, cancel context.CancelFunc) {
	defer cancel()
	conn := ws.conn
	readWait := 2 * h.wsPing
	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.WithError(err).Warn("[agent.ws.read.failed]")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readWait))

		var req map[string]interface{}
		if json.Unmarshal(msg, &req) == nil && req["type"] == "ping" {
			if err := ws.writeJSON(map[string]string{"type": "pong"}); err != nil {
				return
			}
		}
	}
}

// pingLoop 定时发送协议层 ping 保持连接
func (h *Handler) pingLoop(ctx context.Context, ws *wsConn, cancel context.CancelFunc) {
	ticker := time.NewTicker(h.wsPing)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ws.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				cancel()
				return
			}
		}
	}
}
