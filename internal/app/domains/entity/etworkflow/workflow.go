package etworkflow

import (
	"errors"
	"time"

	"sdp/ordercore/internal/app/domains/entity/etexception"
)

// 错误定义
var (
	ErrInvalidTemplateID = errors.New("template ID cannot be empty")
	ErrNoSteps           = errors.New("template must have at least one step")
	ErrUnknownStepType   = errors.New("unknown step type")
	ErrDanglingPointer   = errors.New("step points to undefined step")
	ErrNoTerminalPath    = errors.New("no reachable terminal step")
	ErrDuplicateStepID   = errors.New("duplicate step ID")
)

// EndStepID 终止标记：OnSuccess/OnFailure 指向该值（或留空）即结束执行
const EndStepID = "end_workflow"

// StepType 步骤类型
type StepType string

const (
	StepCondition    StepType = "condition"    // 条件判断（重新读取订单快照）
	StepAction       StepType = "action"       // 执行补救动作
	StepNotification StepType = "notification" // 发送通知
	StepDelay        StepType = "delay"        // 延迟等待
)

// Step 工作流步骤
// OnSuccess/OnFailure 指向下一步骤 ID，构成有向图（允许分支与汇合）
type Step struct {
	ID         string                  // 步骤ID（模板内唯一）
	Name       string                  // 步骤名称
	Type       StepType                // 步骤类型
	Config     map[string]interface{}  // 步骤配置
	Conditions []etexception.Condition // 条件列表（仅 condition 步骤）
	RetryCount int                     // 失败重试次数上限
	Timeout    time.Duration           // 单次执行硬超时（0 使用引擎默认值）
	OnSuccess  string                  // 成功后继步骤ID
	OnFailure  string                  // 失败后继步骤ID
}

// Template 工作流模板（版本化的纯数据）
type Template struct {
	ID          string                 // 模板ID
	Name        string                 // 模板名称
	Version     int                    // 版本号
	Description string                 // 描述
	FirstStepID string                 // 入口步骤ID
	Steps       []Step                 // 步骤列表
	Variables   map[string]interface{} // 变量默认值
}

// StepByID 按 ID 查找步骤
func (t *Template) StepByID(id string) (*Step, bool) {
	for i := range t.Steps {
		if t.Steps[i].ID == id {
			return &t.Steps[i], true
		}
	}
	return nil, false
}

// ExecutionStatus 执行状态
type ExecutionStatus string

const (
	ExecutionCreated   ExecutionStatus = "created"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// IsTerminal 是否为终态
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// StepRunStatus 单步执行状态
type StepRunStatus string

const (
	StepRunRunning   StepRunStatus = "running"
	StepRunCompleted StepRunStatus = "completed"
	StepRunFailed    StepRunStatus = "failed"
)

// StepRun 单步执行历史
type StepRun struct {
	StepID     string        // 步骤ID
	Status     StepRunStatus // 执行状态
	RetryCount int           // 实际重试次数
	Output     interface{}   // 步骤输出
	Error      string        // 错误信息
	StartedAt  time.Time     // 开始时间
	FinishedAt *time.Time    // 结束时间
}

// Execution 一次模板针对一个订单的执行
type Execution struct {
	ID            string                 // 执行ID（UUID）
	TemplateID    string                 // 模板ID
	OrderID       int64                  // 订单ID
	Status        ExecutionStatus        // 执行状态
	CurrentStepID string                 // 当前步骤ID
	Variables     map[string]interface{} // 变量（模板默认值与调用方覆盖合并）
	StepRuns      []StepRun              // 各步骤执行历史
	Error         string                 // 整体错误信息
	CreatedAt     time.Time              // 创建时间
	FinishedAt    *time.Time             // 结束时间
}

// AppendStepRun 追加单步执行历史并返回其下标
func (e *Execution) AppendStepRun(stepID string) int {
	e.StepRuns = append(e.StepRuns, StepRun{
		StepID:    stepID,
		Status:    StepRunRunning,
		StartedAt: time.Now(),
	})
	return len(e.StepRuns) - 1
}

// LastRunOf 返回指定步骤最近一次执行历史
func (e *Execution) LastRunOf(stepID string) *StepRun {
	for i := len(e.StepRuns) - 1; i >= 0; i-- {
		if e.StepRuns[i].StepID == stepID {
			return &e.StepRuns[i]
		}
	}
	return nil
}
