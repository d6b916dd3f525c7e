package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput 调用方输入不合法（如 task 为空）
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound Run 不存在
	ErrNotFound = errors.New("run not found")

	// ErrInvalidTransition 当前状态不允许该迁移
	ErrInvalidTransition = errors.New("invalid state transition")
)

// WorkerFault Worker 脚本执行过程中的意外错误
//
// 只在 Worker 内部处理：记录日志并把 Run 迁移到 error，
// 不会传播给 start/pause/resume/stop 的调用方。
type WorkerFault struct {
	RunID string
	Err   error
}

func (f *WorkerFault) Error() string {
	return fmt.Sprintf("worker fault (run=%s): %v", f.RunID, f.Err)
}

func (f *WorkerFault) Unwrap() error {
	return f.Err
}
