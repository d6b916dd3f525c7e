package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"overlay-backend/internal/shared/model"
	"overlay-backend/pkg/logging"
)

// Config Registry 配置
type Config struct {
	Steps     []string      // 脚本步骤，为空时使用 DefaultSteps
	StepDelay time.Duration // 每步耗时，为 0 时使用 DefaultStepDelay
	Step      StepFunc      // 自定义步骤实现（测试注入），优先于 StepDelay
}

// Registry 进程内 Run 注册表
//
// 在进程启动时创建一次并注入到各 Handler。Run 创建后不会被删除，
// 终止后仍可查询、订阅。
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*Run

	cfg          Config
	logger       *logging.Logger
	recorder     Recorder
	onTransition TransitionHook
	wg           sync.WaitGroup
}

// NewRegistry 创建注册表
func NewRegistry(cfg Config, logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.Step == nil {
		delay := cfg.StepDelay
		if delay <= 0 {
			delay = DefaultStepDelay
		}
		cfg.Step = SleepStep(delay)
	}
	return &Registry{
		runs:   make(map[string]*Run),
		cfg:    cfg,
		logger: logger.WithComponent("agent"),
	}
}

// SetRecorder 设置事件镜像（需在第一次 Start 之前调用）
func (r *Registry) SetRecorder(rec Recorder) {
	r.recorder = rec
}

// SetTransitionHook 设置状态迁移回调（需在第一次 Start 之前调用）
func (r *Registry) SetTransitionHook(hook TransitionHook) {
	r.onTransition = hook
}

// Start 创建 Run 并启动 Worker
func (r *Registry) Start(task string) (*Run, error) {
	if strings.TrimSpace(task) == "" {
		return nil, fmt.Errorf("%w: task is required", ErrInvalidInput)
	}

	run := newRun(task, r.recorder, r.onTransition)
	ctx, cancel := context.WithCancel(context.Background())
	run.bind(cancel)

	// 先迁移到 running 再发布，Get / 订阅永远看不到 idle
	if err := run.SetState(model.RunStateRunning); err != nil {
		cancel()
		return nil, err
	}

	r.mu.Lock()
	r.runs[run.ID] = run
	r.mu.Unlock()

	worker := NewWorker(run, r.cfg.Steps, r.cfg.Step, r.logger)
	logger := r.logger.WithRunID(run.ID)
	logger.Info("[agent.run.start]", "task", task)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(run.done)
		defer cancel()

		err := worker.Run(ctx)
		var fault *WorkerFault
		switch {
		case err == nil:
			logger.Info("[agent.run.exit]", "state", run.State())
		case errors.Is(err, context.Canceled):
			logger.Info("[agent.run.cancelled]", "state", run.State())
		case errors.As(err, &fault):
			logger.WithError(fault.Err).Warn("[agent.run.fault]", "state", run.State())
		}
	}()

	return run, nil
}

// Get 按 ID 查找 Run
func (r *Registry) Get(id string) (*Run, error) {
	r.mu.RLock()
	run, ok := r.runs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return run, nil
}

// List 按创建时间排序的快照
func (r *Registry) List() []model.RunSnapshot {
	r.mu.RLock()
	out := make([]model.RunSnapshot, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, run.Snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Pause running → paused
func (r *Registry) Pause(id string) error {
	run, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := run.transition(model.RunStatePaused, "Paused by user"); err != nil {
		return err
	}
	r.logger.WithRunID(id).Info("[agent.run.pause]")
	return nil
}

// Resume paused → running
func (r *Registry) Resume(id string) error {
	run, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := run.transition(model.RunStateRunning, "Resumed by user"); err != nil {
		return err
	}
	r.logger.WithRunID(id).Info("[agent.run.resume]")
	return nil
}

// Stop 迁移到 stopped，取消 Worker 并等待其退出
//
// 幂等：已处于终止状态时不产生事件，直接等待 Worker 退出后返回。
func (r *Registry) Stop(ctx context.Context, id string) error {
	run, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := run.transition(model.RunStateStopped, "Stopped by user"); err == nil {
		r.logger.WithRunID(id).Info("[agent.run.stop]")
	}
	run.cancelWorker()

	select {
	case <-run.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown 并行停止所有未终止的 Run
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	ids := make([]string, 0, len(r.runs))
	for id, run := range r.runs {
		if !run.State().IsTerminal() {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			return r.Stop(gctx, id)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
