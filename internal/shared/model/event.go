// Package model 定义核心数据模型
//
// event.go 包含推送给客户端的事件负载：
//   - LogEvent：日志事件
//   - ChatEvent：对话事件
//   - StatusEvent：状态快照（状态通道）
//   - PingEvent：心跳
package model

import (
	"encoding/json"
	"time"
)

// EventType 事件类型（写入负载的 "type" 字段）
type EventType string

const (
	EventTypeLog  EventType = "log"
	EventTypeChat EventType = "chat"
	EventTypePing EventType = "ping"
)

// ChatRole 对话角色
type ChatRole string

const (
	ChatRoleAssistant ChatRole = "assistant"
)

// LogEvent {"type":"log","message":"..."}
type LogEvent struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

// ChatMessage 单条对话消息
type ChatMessage struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}

// ChatEvent {"type":"chat","message":{"role":"...","content":"..."}}
type ChatEvent struct {
	Type    EventType   `json:"type"`
	Message ChatMessage `json:"message"`
}

// StatusEvent {"state":"..."}
//
// 状态事件不带 type 字段，由 SSE 的 event: status 行标识。
type StatusEvent struct {
	State RunState `json:"state"`
}

// PingEvent {"type":"ping","t":1712345678.123}
type PingEvent struct {
	Type EventType `json:"type"`
	T    float64   `json:"t"`
}

// NewLogEvent 序列化日志事件
func NewLogEvent(message string) []byte {
	return mustMarshal(LogEvent{Type: EventTypeLog, Message: message})
}

// NewChatEvent 序列化对话事件
func NewChatEvent(role ChatRole, content string) []byte {
	return mustMarshal(ChatEvent{
		Type:    EventTypeChat,
		Message: ChatMessage{Role: role, Content: content},
	})
}

// NewStatusEvent 序列化状态事件
func NewStatusEvent(state RunState) []byte {
	return mustMarshal(StatusEvent{State: state})
}

// NewPingEvent 序列化心跳事件，t 为 Unix 秒（含小数）
func NewPingEvent(now time.Time) []byte {
	return mustMarshal(PingEvent{Type: EventTypePing, T: UnixSeconds(now)})
}

// UnixSeconds 返回带小数的 Unix 时间戳
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// 以上类型只包含字符串和数字字段，Marshal 不会失败
func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
