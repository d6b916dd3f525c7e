package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"overlay-backend/internal/shared/eventbus"
	"overlay-backend/internal/shared/model"
)

// Recorder 接收 Run 发出的每一个事件（按发出顺序）
//
// Record 在 Run 的锁内调用，实现必须立即返回。
type Recorder interface {
	Record(event *eventbus.RunEvent)
}

// TransitionHook 状态迁移回调（锁外调用）
type TransitionHook func(runID string, from, to model.RunState)

// Run 一次脚本化后台任务的实例
//
// state 只能通过 SetState 修改；每次修改都会在同一把锁内
// 向状态通道推送一个 {"state": ...} 事件，读者看到的 state
// 与已入队的状态事件始终一致。
type Run struct {
	ID        string
	Task      string
	CreatedAt time.Time

	mu        sync.Mutex
	state     model.RunState
	updatedAt time.Time
	seq       int
	changed   chan struct{} // 每次状态变化时关闭并替换

	messages *Channel[[]byte] // log / chat 事件
	status   *Channel[[]byte] // 状态快照

	// Worker 句柄，创建时绑定一次
	bindOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}

	recorder     Recorder
	onTransition TransitionHook
}

func newRun(task string, recorder Recorder, hook TransitionHook) *Run {
	now := time.Now()
	return &Run{
		ID:           uuid.NewString(),
		Task:         task,
		CreatedAt:    now,
		state:        model.RunStateIdle,
		updatedAt:    now,
		changed:      make(chan struct{}),
		messages:     NewChannel[[]byte](),
		status:       NewChannel[[]byte](),
		done:         make(chan struct{}),
		recorder:     recorder,
		onTransition: hook,
	}
}

// State 当前状态
func (r *Run) State() model.RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Snapshot 只读快照
func (r *Run) Snapshot() model.RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return model.RunSnapshot{
		ID:        r.ID,
		Task:      r.Task,
		State:     r.state,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.updatedAt,
	}
}

// StatusChannel 状态事件通道
func (r *Run) StatusChannel() *Channel[[]byte] {
	return r.status
}

// MessageChannel 消息事件通道
func (r *Run) MessageChannel() *Channel[[]byte] {
	return r.messages
}

// Done Worker 退出后关闭
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// SetState 迁移状态并推送状态事件
//
// 迁移表之外的请求返回 ErrInvalidTransition，不产生任何事件。
func (r *Run) SetState(next model.RunState) error {
	return r.transition(next, "")
}

// transition 迁移状态，成功时在同一临界区内推送日志 message
//
// 保证日志紧跟在对应的状态事件之后，不会被并发的迁移插到前面。
func (r *Run) transition(next model.RunState, message string) error {
	r.mu.Lock()
	from, err := r.setStateLocked(next)
	if err == nil && message != "" {
		r.pushMessageLocked(model.NewLogEvent(message))
	}
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.notifyTransition(from, next)
	return nil
}

// bind 绑定 Worker 句柄，只生效一次
func (r *Run) bind(cancel context.CancelFunc) bool {
	bound := false
	r.bindOnce.Do(func() {
		r.cancel = cancel
		bound = true
	})
	return bound
}

// cancelWorker 请求取消 Worker（可重复调用）
func (r *Run) cancelWorker() {
	if r.cancel != nil {
		r.cancel()
	}
}

// emitWhen 在 pred(state) 成立时原子地推送消息事件
//
// 状态检查与入队在同一把锁内完成，保证 stopped 之后不会再出现步骤日志。
func (r *Run) emitWhen(pred func(model.RunState) bool, payloads ...[]byte) (model.RunState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !pred(r.state) {
		return r.state, false
	}
	for _, p := range payloads {
		r.pushMessageLocked(p)
	}
	return r.state, true
}

// waitActive 阻塞直到 Run 不再处于 idle / paused
//
// 由状态变化信号唤醒，ctx 结束时返回 ctx.Err()。
func (r *Run) waitActive(ctx context.Context) error {
	for {
		r.mu.Lock()
		state, changed := r.state, r.changed
		r.mu.Unlock()

		if state != model.RunStatePaused && state != model.RunStateIdle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// complete 仍处于 running 时：完成对话 → done → 结束日志
func (r *Run) complete() bool {
	r.mu.Lock()
	if r.state != model.RunStateRunning {
		r.mu.Unlock()
		return false
	}
	r.pushMessageLocked(model.NewChatEvent(model.ChatRoleAssistant, "Task completed successfully."))
	from, err := r.setStateLocked(model.RunStateDone)
	if err == nil {
		r.pushMessageLocked(model.NewLogEvent("Worker finished"))
	}
	r.mu.Unlock()

	if err != nil {
		return false
	}
	r.notifyTransition(from, model.RunStateDone)
	return true
}

// fail 尚未终止时：错误日志 → error
func (r *Run) fail(cause error) bool {
	r.mu.Lock()
	if r.state.IsTerminal() {
		r.mu.Unlock()
		return false
	}
	r.pushMessageLocked(model.NewLogEvent(fmt.Sprintf("Worker error: %v", cause)))
	from, err := r.setStateLocked(model.RunStateError)
	r.mu.Unlock()

	if err != nil {
		return false
	}
	r.notifyTransition(from, model.RunStateError)
	return true
}

func (r *Run) setStateLocked(next model.RunState) (model.RunState, error) {
	from := r.state
	if err := model.ValidateTransition(from, next); err != nil {
		return from, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	r.state = next
	r.updatedAt = time.Now()

	payload := model.NewStatusEvent(next)
	r.status.Push(payload)
	r.recordLocked(eventbus.ChannelStatus, payload)

	close(r.changed)
	r.changed = make(chan struct{})
	return from, nil
}

func (r *Run) pushMessageLocked(payload []byte) {
	r.messages.Push(payload)
	r.recordLocked(eventbus.ChannelMessage, payload)
}

func (r *Run) recordLocked(channel string, payload []byte) {
	r.seq++
	if r.recorder == nil {
		return
	}
	r.recorder.Record(&eventbus.RunEvent{
		RunID:     r.ID,
		Seq:       r.seq,
		Channel:   channel,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

func (r *Run) notifyTransition(from, to model.RunState) {
	if r.onTransition != nil {
		r.onTransition(r.ID, from, to)
	}
}
