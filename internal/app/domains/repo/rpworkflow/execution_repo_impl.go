package rpworkflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"sdp/ordercore/internal/app/domains/entity/etworkflow"
	"sdp/ordercore/internal/app/infra/entity"
	"sdp/ordercore/internal/app/pkg/errorx"
)

// ExecutionRepositoryImpl 工作流执行仓储实现（MySQL）
type ExecutionRepositoryImpl struct {
	db *gorm.DB
}

// NewExecutionRepository 创建执行仓储实例
func NewExecutionRepository(db *gorm.DB) ExecutionRepository {
	return &ExecutionRepositoryImpl{db: db}
}

// Create 创建执行记录
func (r *ExecutionRepositoryImpl) Create(ctx context.Context, execution *etworkflow.Execution) error {
	po, err := r.toGormModel(execution)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(po).Error
}

// GetByID 根据ID查询执行记录
func (r *ExecutionRepositoryImpl) GetByID(ctx context.Context, executionID string) (*etworkflow.Execution, error) {
	var po entity.WorkflowExecution
	err := r.db.WithContext(ctx).Where("id = ?", executionID).First(&po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errorx.ErrExecutionNotFound
		}
		return nil, err
	}
	return r.toDomainModel(&po)
}

// Save 整体保存执行状态
func (r *ExecutionRepositoryImpl) Save(ctx context.Context, execution *etworkflow.Execution) error {
	po, err := r.toGormModel(execution)
	if err != nil {
		return err
	}
	po.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(po).Error
}

// ListByOrder 查询订单的全部执行记录
func (r *ExecutionRepositoryImpl) ListByOrder(ctx context.Context, orderID int64) ([]*etworkflow.Execution, error) {
	var pos []entity.WorkflowExecution
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Find(&pos).Error
	if err != nil {
		return nil, err
	}

	executions := make([]*etworkflow.Execution, 0, len(pos))
	for i := range pos {
		execution, err := r.toDomainModel(&pos[i])
		if err != nil {
			return nil, err
		}
		executions = append(executions, execution)
	}
	return executions, nil
}

// HasActiveExecution 订单是否存在运行中的同模板执行
func (r *ExecutionRepositoryImpl) HasActiveExecution(ctx context.Context, orderID int64, templateID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.WorkflowExecution{}).
		Where("order_id = ? AND template_id = ? AND status IN ?",
			orderID, templateID,
			[]string{string(etworkflow.ExecutionCreated), string(etworkflow.ExecutionRunning)}).
		Count(&count).Error
	return count > 0, err
}

// toGormModel 领域对象转换为 GORM 模型
func (r *ExecutionRepositoryImpl) toGormModel(execution *etworkflow.Execution) (*entity.WorkflowExecution, error) {
	variablesJSON, err := json.Marshal(execution.Variables)
	if err != nil {
		return nil, err
	}
	stepRunsJSON, err := json.Marshal(execution.StepRuns)
	if err != nil {
		return nil, err
	}

	return &entity.WorkflowExecution{
		ID:            execution.ID,
		TemplateID:    execution.TemplateID,
		OrderID:       execution.OrderID,
		Status:        string(execution.Status),
		CurrentStepID: execution.CurrentStepID,
		Variables:     variablesJSON,
		StepRuns:      stepRunsJSON,
		Error:         execution.Error,
		CreatedAt:     execution.CreatedAt,
		FinishedAt:    execution.FinishedAt,
		UpdatedAt:     time.Now(),
	}, nil
}

// toDomainModel GORM 模型转换为领域对象
func (r *ExecutionRepositoryImpl) toDomainModel(po *entity.WorkflowExecution) (*etworkflow.Execution, error) {
	execution := &etworkflow.Execution{
		ID:            po.ID,
		TemplateID:    po.TemplateID,
		OrderID:       po.OrderID,
		Status:        etworkflow.ExecutionStatus(po.Status),
		CurrentStepID: po.CurrentStepID,
		Error:         po.Error,
		CreatedAt:     po.CreatedAt,
		FinishedAt:    po.FinishedAt,
	}

	if len(po.Variables) > 0 {
		if err := json.Unmarshal(po.Variables, &execution.Variables); err != nil {
			return nil, err
		}
	}
	if len(po.StepRuns) > 0 {
		if err := json.Unmarshal(po.StepRuns, &execution.StepRuns); err != nil {
			return nil, err
		}
	}

	return execution, nil
}

// ReviewTaskRepositoryImpl 人工审核任务仓储实现（MySQL）
type ReviewTaskRepositoryImpl struct {
	db *gorm.DB
}

// NewReviewTaskRepository 创建审核任务仓储实例
func NewReviewTaskRepository(db *gorm.DB) ReviewTaskRepository {
	return &ReviewTaskRepositoryImpl{db: db}
}

// Create 创建审核任务
func (r *ReviewTaskRepositoryImpl) Create(ctx context.Context, task *ReviewTask) error {
	po := &entity.ReviewTask{
		ID:          task.ID,
		OrderID:     task.OrderID,
		ExecutionID: task.ExecutionID,
		Reason:      task.Reason,
		Status:      task.Status,
		CreatedAt:   time.Now(),
	}
	return r.db.WithContext(ctx).Create(po).Error
}

// Decide 写入审核结论
func (r *ReviewTaskRepositoryImpl) Decide(ctx context.Context, taskID string, decision string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&entity.ReviewTask{}).
		Where("id = ? AND status = ?", taskID, ReviewStatusPending).
		Updates(map[string]interface{}{
			"status":     ReviewStatusDecided,
			"decision":   decision,
			"decided_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("review task not found or already decided: " + taskID)
	}
	return nil
}

// GetByID 根据ID查询审核任务
func (r *ReviewTaskRepositoryImpl) GetByID(ctx context.Context, taskID string) (*ReviewTask, error) {
	var po entity.ReviewTask
	err := r.db.WithContext(ctx).Where("id = ?", taskID).First(&po).Error
	if err != nil {
		return nil, err
	}
	return &ReviewTask{
		ID:          po.ID,
		OrderID:     po.OrderID,
		ExecutionID: po.ExecutionID,
		Reason:      po.Reason,
		Status:      po.Status,
		Decision:    po.Decision,
	}, nil
}
