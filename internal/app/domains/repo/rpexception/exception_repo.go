package rpexception

import (
	"context"
	"time"

	"sdp/ordercore/internal/app/domains/entity/etexception"
)

// Filter 异常记录查询条件
type Filter struct {
	OrderID int64                     // 订单ID（0 表示不过滤）
	Type    etexception.ExceptionType // 异常类型（空串表示不过滤）
	Status  etexception.RecordStatus  // 记录状态（空串表示不过滤）
	Limit   int                       // 返回上限
}

// ExceptionRepository 异常记录仓储接口
type ExceptionRepository interface {
	// Create 创建异常记录
	Create(ctx context.Context, record *etexception.Record) error

	// GetByID 根据ID查询异常记录
	GetByID(ctx context.Context, recordID string) (*etexception.Record, error)

	// Find 按条件查询异常记录
	Find(ctx context.Context, filter Filter) ([]*etexception.Record, error)

	// UpdateStatus 更新记录状态
	UpdateStatus(ctx context.Context, recordID string, status etexception.RecordStatus, resolvedAt *time.Time) error

	// HasOpenRecord 判断订单是否已有未终结的同类型记录（扫描去重）
	HasOpenRecord(ctx context.Context, orderID int64, typ etexception.ExceptionType) (bool, error)

	// PruneBefore 清理早于保留窗口且已终结的记录，返回删除数量
	PruneBefore(ctx context.Context, before time.Time) (int64, error)
}
