package entity

import (
	"time"

	"gorm.io/datatypes"
)

// WorkflowExecution 工作流执行实体（GORM 持久化模型）
// 执行历史需要跨重启可查，内存 map 仅作为写穿缓存
type WorkflowExecution struct {
	ID            string         `gorm:"column:id;primaryKey;type:varchar(64)"`
	TemplateID    string         `gorm:"column:template_id;type:varchar(64);not null;index:idx_template"`
	OrderID       int64          `gorm:"column:order_id;not null;index:idx_order"`
	Status        string         `gorm:"column:status;type:varchar(16);not null;index:idx_status"`
	CurrentStepID string         `gorm:"column:current_step_id;type:varchar(64)"`
	Variables     datatypes.JSON `gorm:"column:variables;type:json"`
	StepRuns      datatypes.JSON `gorm:"column:step_runs;type:json"`
	Error         string         `gorm:"column:error;type:varchar(1024)"`
	CreatedAt     time.Time      `gorm:"column:created_at;not null"`
	FinishedAt    *time.Time     `gorm:"column:finished_at"`
	UpdatedAt     time.Time      `gorm:"column:updated_at;not null"`
}

// TableName 指定表名
func (WorkflowExecution) TableName() string {
	return "workflow_executions"
}

// ReviewTask 人工审核任务实体（GORM 持久化模型）
type ReviewTask struct {
	ID          string     `gorm:"column:id;primaryKey;type:varchar(64)"`
	OrderID     int64      `gorm:"column:order_id;not null;index:idx_order"`
	ExecutionID string     `gorm:"column:execution_id;type:varchar(64);not null"`
	Reason      string     `gorm:"column:reason;type:varchar(512)"`
	Status      string     `gorm:"column:status;type:varchar(16);not null;default:'pending'"`
	Decision    string     `gorm:"column:decision;type:varchar(32)"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null"`
	DecidedAt   *time.Time `gorm:"column:decided_at"`
}

// TableName 指定表名
func (ReviewTask) TableName() string {
	return "review_tasks"
}
