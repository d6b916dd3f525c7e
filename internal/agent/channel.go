// Package agent Agent Run 生命周期与事件流引擎
//
// 本包包含：
//   - channel.go: 无界 FIFO 事件通道（多生产者、单消费者）
//   - run.go: Run 实体与状态机
//   - worker.go: 按固定脚本推进 Run 的后台 Worker
//   - registry.go: 进程内 Run 注册表（start/pause/resume/stop）
//   - stream.go: 按优先级排空状态/消息通道的推送循环
//   - journal.go: 可选的事件日志镜像（Redis Streams）
package agent

import (
	"context"
	"sync"
	"time"
)

// Channel 无界有序事件通道
//
// Push 永不阻塞；TryPop / PopWithTimeout 按入队顺序取出，
// 每个事件只会被取出一次。
type Channel[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{} // 每次 Push 时关闭并替换，用于唤醒等待者
}

// NewChannel 创建事件通道
func NewChannel[T any]() *Channel[T] {
	return &Channel[T]{notify: make(chan struct{})}
}

// Push 追加到队尾
func (c *Channel[T]) Push(item T) {
	c.mu.Lock()
	c.items = append(c.items, item)
	close(c.notify)
	c.notify = make(chan struct{})
	c.mu.Unlock()
}

// TryPop 非阻塞取出队首，队列为空时返回 false
func (c *Channel[T]) TryPop() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.popLocked()
}

// PopWithTimeout 最多等待 d 取出队首
//
// 超时或 ctx 结束时返回 false，此时不会消费任何事件。
func (c *Channel[T]) PopWithTimeout(ctx context.Context, d time.Duration) (T, bool) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		c.mu.Lock()
		if item, ok := c.popLocked(); ok {
			c.mu.Unlock()
			return item, true
		}
		wait := c.notify
		c.mu.Unlock()

		select {
		case <-wait:
		case <-timer.C:
			var zero T
			return zero, false
		case <-ctx.Done():
			var zero T
			return zero, false
		}
	}
}

// Len 当前未消费的事件数
func (c *Channel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Channel[T]) popLocked() (T, bool) {
	var zero T
	if len(c.items) == 0 {
		return zero, false
	}
	item := c.items[0]
	c.items[0] = zero
	c.items = c.items[1:]
	if len(c.items) == 0 {
		c.items = nil
	}
	return item, true
}
