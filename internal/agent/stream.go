package agent

import (
	"context"
	"time"

	"overlay-backend/internal/shared/model"
)

// DefaultHeartbeatInterval 消息通道的最长等待时间，超时即发送心跳
const DefaultHeartbeatInterval = 500 * time.Millisecond

// 推送事件类别
//
// 只有 EventStatus 在线上带事件名，消息与心跳都按普通消息下发。
const (
	EventStatus  = "status"
	EventMessage = "message"
	EventPing    = "ping"
)

// Sink 把一个事件写给客户端，返回错误表示连接已不可用
type Sink func(kind string, data []byte) error

// Streamer 单个订阅连接的推送循环
//
// 协议：
//  1. 连接建立后立即推送当前状态快照
//  2. 优先非阻塞排空状态通道
//  3. 否则在 HeartbeatInterval 内等待消息事件，超时推送 ping 心跳
//  4. Run 终止不会关闭连接，直到客户端断开（ctx 结束）
//
// 通道是单消费者的：同一 Run 的多个订阅连接各自只会取到一部分事件。
type Streamer struct {
	HeartbeatInterval time.Duration
	Now               func() time.Time
}

// NewStreamer 创建推送循环，interval <= 0 时使用默认值
func NewStreamer(interval time.Duration) *Streamer {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Streamer{HeartbeatInterval: interval, Now: time.Now}
}

// Serve 阻塞推送直到 ctx 结束或 sink 返回错误
//
// ctx 结束（客户端断开）时返回 nil。
func (s *Streamer) Serve(ctx context.Context, run *Run, sink Sink) error {
	now := s.Now
	if now == nil {
		now = time.Now
	}

	if err := sink(EventStatus, model.NewStatusEvent(run.State())); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		if status, ok := run.StatusChannel().TryPop(); ok {
			if err := sink(EventStatus, status); err != nil {
				return err
			}
			continue
		}

		kind := EventMessage
		msg, ok := run.MessageChannel().PopWithTimeout(ctx, s.HeartbeatInterval)
		if !ok {
			if ctx.Err() != nil {
				return nil
			}
			kind, msg = EventPing, model.NewPingEvent(now())
		}
		if err := sink(kind, msg); err != nil {
			return err
		}
	}
}
