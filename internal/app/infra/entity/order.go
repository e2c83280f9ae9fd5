package entity

import (
	"time"

	"gorm.io/datatypes"
)

// Order 订单实体（GORM 持久化模型）
type Order struct {
	// 基础字段
	ID         int64  `gorm:"column:id;primaryKey"`
	OrderNo    string `gorm:"column:order_no;type:varchar(64);not null;uniqueIndex:uk_order_no"`
	UserID     int64  `gorm:"column:user_id;not null;index:idx_user_status"`
	MerchantID int64  `gorm:"column:merchant_id;not null;index:idx_merchant"`
	DeviceID   int64  `gorm:"column:device_id;not null;index:idx_device"`

	// 状态与金额
	Status        string `gorm:"column:status;type:varchar(16);not null;default:'INIT';index:idx_user_status;index:idx_status_created"`
	Amount        int64  `gorm:"column:amount;not null"`
	PaidAmount    int64  `gorm:"column:paid_amount;not null;default:0"`
	RefundAmount  int64  `gorm:"column:refund_amount;not null;default:0"`
	PaymentMethod string `gorm:"column:payment_method;type:varchar(32)"`

	// 使用时长与业务负载
	DurationMinutes int            `gorm:"column:duration_minutes;not null;default:0"`
	ActualMinutes   int            `gorm:"column:actual_minutes;not null;default:0"`
	CancelReason    string         `gorm:"column:cancel_reason;type:varchar(128)"`
	DeviceData      datatypes.JSON `gorm:"column:device_data;type:json"`
	PaymentInfo     datatypes.JSON `gorm:"column:payment_info;type:json"`

	// 时间戳
	CreatedAt time.Time  `gorm:"column:created_at;not null;index:idx_status_created"`
	PaidAt    *time.Time `gorm:"column:paid_at"`
	StartAt   *time.Time `gorm:"column:start_at"`
	EndAt     *time.Time `gorm:"column:end_at"`
	ExpireAt  *time.Time `gorm:"column:expire_at"`
	UpdatedAt time.Time  `gorm:"column:updated_at;not null"`

	// 乐观锁版本号
	Version int64 `gorm:"column:version;not null;default:1"`
}

// TableName 指定表名
func (Order) TableName() string {
	return "orders"
}
