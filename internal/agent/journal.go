package agent

import (
	"context"
	"sync"
	"time"

	"overlay-backend/internal/shared/eventbus"
	"overlay-backend/pkg/logging"
)

const journalPublishTimeout = 5 * time.Second

// Journal 把 Run 事件异步镜像到事件总线
//
// Record 只入队，由单个 pump goroutine 按顺序写出，
// 事件总线变慢或不可用时不会影响 Worker 与推送流。
type Journal struct {
	bus    eventbus.RunEventBus
	queue  *Channel[*eventbus.RunEvent]
	logger *logging.Logger

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
}

// NewJournal 创建并启动事件日志
func NewJournal(bus eventbus.RunEventBus, logger *logging.Logger) *Journal {
	if logger == nil {
		logger = logging.Discard()
	}
	j := &Journal{
		bus:     bus,
		queue:   NewChannel[*eventbus.RunEvent](),
		logger:  logger.WithComponent("journal"),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go j.pump()
	return j
}

// Bus 底层事件总线（用于回放查询）
func (j *Journal) Bus() eventbus.RunEventBus {
	return j.bus
}

// Record 实现 Recorder
func (j *Journal) Record(event *eventbus.RunEvent) {
	j.queue.Push(event)
}

// Pending 尚未写出的事件数
func (j *Journal) Pending() int {
	return j.queue.Len()
}

// Close 停止 pump，并在 ctx 允许的时间内写完剩余事件
func (j *Journal) Close(ctx context.Context) error {
	j.closeOnce.Do(func() { close(j.closing) })
	select {
	case <-j.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		event, ok := j.queue.TryPop()
		if !ok {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		j.publish(ctx, event)
	}
}

func (j *Journal) pump() {
	defer close(j.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-j.closing:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		event, ok := j.queue.PopWithTimeout(ctx, time.Second)
		if ctx.Err() != nil {
			if ok {
				// 已取出的事件交给 Close 之后无法重新入队，这里直接写出
				j.publish(context.Background(), event)
			}
			return
		}
		if !ok {
			continue
		}
		j.publish(context.Background(), event)
	}
}

func (j *Journal) publish(parent context.Context, event *eventbus.RunEvent) {
	ctx, cancel := context.WithTimeout(parent, journalPublishTimeout)
	defer cancel()
	if err := j.bus.PublishRunEvent(ctx, event); err != nil {
		j.logger.WithRunID(event.RunID).WithError(err).Warn("[agent.journal.publish.failed]", "seq", event.Seq)
	}
}
