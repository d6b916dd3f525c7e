// Package eventbus 事件总线类型定义
package eventbus

import (
	"encoding/json"
	"time"
)

// ============================================================================
// 事件类型
// ============================================================================

// 事件所在通道
const (
	ChannelStatus  = "status"
	ChannelMessage = "message"
)

// RunEvent Run 发出的单个事件（日志镜像）
//
// Payload 为推送给客户端的原始 JSON，Seq 为 Run 内的发出序号（从 1 开始）。
type RunEvent struct {
	ID        string          `json:"id,omitempty"`
	RunID     string          `json:"run_id"`
	Seq       int             `json:"seq"`
	Channel   string          `json:"channel"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// ============================================================================
// Key 前缀和常量
// ============================================================================

const (
	// KeyRunEvents Run 事件流 Key 前缀
	KeyRunEvents = "agent_run_events:"

	// MaxStreamLength Stream 最大长度（近似裁剪）
	MaxStreamLength = 1000
)
