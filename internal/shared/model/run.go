// Package model 定义核心数据模型
//
// run.go 包含 Agent Run 相关的数据模型定义：
//   - RunState：运行状态枚举
//   - 状态迁移表
//   - RunSnapshot：对外查询视图
package model

import (
	"fmt"
	"time"
)

// ============================================================================
// RunState - 运行状态
// ============================================================================

// RunState 表示一次 Agent Run 的生命周期状态
//
// 状态之间的顺序由迁移规则决定，而不是由取值决定：
//
//	idle → running ⇄ paused
//	running → done / error / stopped
//	paused → stopped / error
//
// stopped / done / error 为终止状态，进入后状态锁定。
type RunState string

const (
	// RunStateIdle 已创建，尚未开始
	RunStateIdle RunState = "idle"

	// RunStateRunning 执行中
	RunStateRunning RunState = "running"

	// RunStatePaused 用户暂停（可恢复）
	RunStatePaused RunState = "paused"

	// RunStateStopped 用户停止
	RunStateStopped RunState = "stopped"

	// RunStateDone 全部步骤执行完成
	RunStateDone RunState = "done"

	// RunStateError Worker 内部出错
	RunStateError RunState = "error"
)

var allowedTransitions = map[RunState]map[RunState]struct{}{
	RunStateIdle: {
		RunStateRunning: {},
	},
	RunStateRunning: {
		RunStatePaused:  {},
		RunStateStopped: {},
		RunStateDone:    {},
		RunStateError:   {},
	},
	RunStatePaused: {
		RunStateRunning: {},
		RunStateStopped: {},
		// 步骤执行期间被暂停，步骤本身出错时直接进入 error
		RunStateError:   {},
	},
	RunStateStopped: {},
	RunStateDone:    {},
	RunStateError:   {},
}

// Valid 判断是否为已知状态
func (s RunState) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// IsTerminal 判断是否为终止状态
func (s RunState) IsTerminal() bool {
	switch s {
	case RunStateStopped, RunStateDone, RunStateError:
		return true
	default:
		return false
	}
}

// CanTransition 判断 from → to 是否允许
func CanTransition(from, to RunState) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// ValidateTransition 校验状态迁移，不允许时返回错误
func ValidateTransition(from, to RunState) error {
	if !from.Valid() {
		return fmt.Errorf("invalid run state: %q", from)
	}
	if !to.Valid() {
		return fmt.Errorf("invalid run state: %q", to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid run transition: %s -> %s", from, to)
	}
	return nil
}

// ============================================================================
// RunSnapshot - 查询视图
// ============================================================================

// RunSnapshot Run 的只读快照
//
// 用于 GET /api/agent/runs 接口，不包含事件通道和 Worker 句柄。
type RunSnapshot struct {
	ID        string    `json:"id"`
	Task      string    `json:"task"`
	State     RunState  `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
