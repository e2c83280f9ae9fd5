package rpworkflow

import (
	"context"

	"sdp/ordercore/internal/app/domains/entity/etworkflow"
)

// ExecutionRepository 工作流执行仓储接口
// 执行状态与步骤历史需要跨重启可查（引擎内存 map 仅为写穿缓存）
type ExecutionRepository interface {
	// Create 创建执行记录
	Create(ctx context.Context, execution *etworkflow.Execution) error

	// GetByID 根据ID查询执行记录
	GetByID(ctx context.Context, executionID string) (*etworkflow.Execution, error)

	// Save 整体保存执行状态（含步骤历史与变量快照）
	Save(ctx context.Context, execution *etworkflow.Execution) error

	// ListByOrder 查询订单的全部执行记录
	ListByOrder(ctx context.Context, orderID int64) ([]*etworkflow.Execution, error)

	// HasActiveExecution 订单是否存在运行中的同模板执行（同一触发至多一个活跃补救）
	HasActiveExecution(ctx context.Context, orderID int64, templateID string) (bool, error)
}

// ReviewTaskRepository 人工审核任务仓储接口
type ReviewTaskRepository interface {
	// Create 创建审核任务
	Create(ctx context.Context, task *ReviewTask) error

	// Decide 写入审核结论
	Decide(ctx context.Context, taskID string, decision string) error

	// GetByID 根据ID查询审核任务
	GetByID(ctx context.Context, taskID string) (*ReviewTask, error)
}

// ReviewTask 人工审核任务（领域对象）
type ReviewTask struct {
	ID          string // 任务ID
	OrderID     int64  // 订单ID
	ExecutionID string // 关联执行ID
	Reason      string // 审核原因
	Status      string // pending / decided
	Decision    string // approve_refund / reject / ...
}

// 审核任务状态常量
const (
	ReviewStatusPending = "pending"
	ReviewStatusDecided = "decided"
)
