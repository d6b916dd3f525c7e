// Package eventbus 事件总线抽象接口
//
// 提供 Run 事件的追加与回放能力，当前由 Redis Streams 实现。
// 仅用于审计/排查，不参与 Run 的恢复。
package eventbus

import (
	"context"
)

// RunEventBus Run 事件总线接口
type RunEventBus interface {
	PublishRunEvent(ctx context.Context, event *RunEvent) error
	GetRunEvents(ctx context.Context, runID string, fromSeq int, count int64) ([]*RunEvent, error)
	GetRunEventCount(ctx context.Context, runID string) (int64, error)
	DeleteRunEvents(ctx context.Context, runID string) error
}

// EventBus 事件总线组合接口
type EventBus interface {
	RunEventBus
	Close() error
}
