package agent

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"overlay-backend/internal/shared/eventbus"
	"overlay-backend/internal/shared/model"
)

// ============================================================================
// 测试辅助
// ============================================================================

// recordingRecorder 同步记录所有事件，用于校验跨通道的发出顺序
type recordingRecorder struct {
	mu     sync.Mutex
	events []*eventbus.RunEvent
}

func (r *recordingRecorder) Record(ev *eventbus.RunEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingRecorder) snapshot() []*eventbus.RunEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*eventbus.RunEvent(nil), r.events...)
}

// emit 不检查状态直接推送消息事件
func emit(run *Run, payloads ...[]byte) {
	run.emitWhen(func(model.RunState) bool { return true }, payloads...)
}

// gatedStep 每个步骤进入时通知 entered，然后等待 release 或 ctx 结束
type gatedStep struct {
	entered chan string
	release chan struct{}
}

func newGatedStep() *gatedStep {
	return &gatedStep{
		entered: make(chan string, 16),
		release: make(chan struct{}, 16),
	}
}

func (g *gatedStep) fn(ctx context.Context, step string) error {
	select {
	case g.entered <- step:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-g.release:
		return nil
	}
}

func (g *gatedStep) waitEntered(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-g.entered:
		if got != want {
			t.Fatalf("entered step = %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for step %q", want)
	}
}

// describe 把事件负载转成便于断言的字符串
//
//	log → "log:<message>"，chat → "chat:<role>:<content>"，
//	status → "state:<state>"，ping → "ping"
func describe(payload []byte) string {
	var ev struct {
		Type    string          `json:"type"`
		State   string          `json:"state"`
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		return "invalid:" + string(payload)
	}
	switch ev.Type {
	case "log":
		var msg string
		json.Unmarshal(ev.Message, &msg)
		return "log:" + msg
	case "chat":
		var msg model.ChatMessage
		json.Unmarshal(ev.Message, &msg)
		return "chat:" + string(msg.Role) + ":" + msg.Content
	case "ping":
		return "ping"
	}
	if ev.State != "" {
		return "state:" + ev.State
	}
	return "unknown:" + string(payload)
}

func drainDescribed(ch *Channel[[]byte]) []string {
	var out []string
	for {
		p, ok := ch.TryPop()
		if !ok {
			return out
		}
		out = append(out, describe(p))
	}
}

func waitDone(t *testing.T, run *Run) {
	t.Helper()
	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("worker for run %s did not exit, state=%s", run.ID, run.State())
	}
}

func waitState(t *testing.T, run *Run, want model.RunState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if run.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("run state = %s, want %s", run.State(), want)
}

func shutdown(t *testing.T, reg *Registry) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := reg.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
