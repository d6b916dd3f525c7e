// Package eventbus 事件总线内存实现
package eventbus

import (
	"context"
	"sync"
)

// ============================================================================
// MemoryEventBus - 内存实现（用于测试和未配置 Redis 时的本地调试）
// ============================================================================

// MemoryEventBus 把事件保存在进程内存中
type MemoryEventBus struct {
	mu     sync.RWMutex
	events map[string][]*RunEvent
}

// NewMemoryEventBus 创建 MemoryEventBus 实例
func NewMemoryEventBus() *MemoryEventBus {
	return &MemoryEventBus{events: make(map[string][]*RunEvent)}
}

// Close 关闭事件总线
func (m *MemoryEventBus) Close() error {
	return nil
}

func (m *MemoryEventBus) PublishRunEvent(ctx context.Context, event *RunEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.events[event.RunID], event)
	if len(list) > MaxStreamLength {
		list = list[len(list)-MaxStreamLength:]
	}
	m.events[event.RunID] = list
	return nil
}

func (m *MemoryEventBus) GetRunEvents(ctx context.Context, runID string, fromSeq int, count int64) ([]*RunEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*RunEvent
	for _, e := range m.events[runID] {
		if e.Seq <= fromSeq {
			continue
		}
		out = append(out, e)
		if count > 0 && int64(len(out)) >= count {
			break
		}
	}
	return out, nil
}

func (m *MemoryEventBus) GetRunEventCount(ctx context.Context, runID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.events[runID])), nil
}

func (m *MemoryEventBus) DeleteRunEvents(ctx context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, runID)
	return nil
}

// 确保 MemoryEventBus 实现了 EventBus 接口
var _ EventBus = (*MemoryEventBus)(nil)
