package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"overlay-backend/internal/shared/model"
	"overlay-backend/pkg/logging"
)

// DefaultSteps 固定脚本步骤
var DefaultSteps = []string{
	"Analyzing the page…",
	"Planning actions…",
	"Executing step 1…",
	"Executing step 2…",
	"Finalizing…",
}

// DefaultStepDelay 每个步骤模拟的工作时长
const DefaultStepDelay = 800 * time.Millisecond

// StepFunc 执行单个步骤
//
// 必须在 ctx 结束时尽快返回 ctx.Err()；返回其他错误视为 WorkerFault。
type StepFunc func(ctx context.Context, step string) error

// SleepStep 以可取消的等待模拟步骤工作
func SleepStep(delay time.Duration) StepFunc {
	return func(ctx context.Context, step string) error {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}
}

// Worker 与 Run 一一绑定的后台执行单元
type Worker struct {
	run    *Run
	steps  []string
	step   StepFunc
	logger *logging.Logger
}

// NewWorker 创建 Worker，steps 为空时使用 DefaultSteps
func NewWorker(run *Run, steps []string, step StepFunc, logger *logging.Logger) *Worker {
	if len(steps) == 0 {
		steps = DefaultSteps
	}
	if step == nil {
		step = SleepStep(DefaultStepDelay)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Worker{run: run, steps: steps, step: step, logger: logger.WithRunID(run.ID)}
}

// Run 执行脚本直到 done / stopped / error
//
// 取消（stop）时返回 context.Canceled，不修改状态；
// 其余错误或 panic 包装为 *WorkerFault，Run 迁移到 error。
func (w *Worker) Run(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		fault := &WorkerFault{RunID: w.run.ID, Err: err}
		w.logger.WithError(err).Error("[agent.worker.fault]")
		w.run.fail(err)
		err = fault
	}()
	return w.loop(ctx)
}

func (w *Worker) loop(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	notTerminal := func(s model.RunState) bool { return !s.IsTerminal() }
	if _, ok := w.run.emitWhen(notTerminal,
		model.NewLogEvent("Worker started"),
		model.NewChatEvent(model.ChatRoleAssistant, "Starting task: "+w.run.Task),
	); !ok {
		return nil
	}
	w.logger.Debug("[agent.worker.started]")

	running := func(s model.RunState) bool { return s == model.RunStateRunning }
	for i, step := range w.steps {
		for {
			if err := w.run.waitActive(ctx); err != nil {
				return err
			}
			state, ok := w.run.emitWhen(running, model.NewLogEvent(step))
			if ok {
				break
			}
			if state.IsTerminal() {
				w.logger.Debug("[agent.worker.abandoned]", "state", state, "step", i)
				return nil
			}
			// 检查与推送之间又被暂停，继续等待
		}

		if err := w.step(ctx, step); err != nil {
			return err
		}
	}

	// 迁移表不允许 paused → done，先等待恢复
	if err := w.run.waitActive(ctx); err != nil {
		return err
	}
	if w.run.complete() {
		w.logger.Debug("[agent.worker.finished]")
	}
	return nil
}
