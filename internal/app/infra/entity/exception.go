package entity

import (
	"time"

	"gorm.io/datatypes"
)

// ExceptionRecord 异常记录实体（GORM 持久化模型）
type ExceptionRecord struct {
	ID          string         `gorm:"column:id;primaryKey;type:varchar(64)"`
	OrderID     int64          `gorm:"column:order_id;not null;index:idx_order"`
	Type        string         `gorm:"column:type;type:varchar(32);not null;index:idx_type_status"`
	Severity    string         `gorm:"column:severity;type:varchar(16);not null"`
	RuleID      string         `gorm:"column:rule_id;type:varchar(64);not null"`
	Description string         `gorm:"column:description;type:varchar(512)"`
	Details     datatypes.JSON `gorm:"column:details;type:json"`
	Status      string         `gorm:"column:status;type:varchar(16);not null;default:'detected';index:idx_type_status"`
	DetectedAt  time.Time      `gorm:"column:detected_at;not null;index:idx_detected_at"`
	ResolvedAt  *time.Time     `gorm:"column:resolved_at"`
}

// TableName 指定表名
func (ExceptionRecord) TableName() string {
	return "exception_records"
}
