package etorder

import (
	"errors"
	"fmt"
	"time"
)

// 错误定义
var (
	ErrInvalidOrderNo    = errors.New("order number cannot be empty")
	ErrInvalidUserID     = errors.New("invalid user ID")
	ErrInvalidDeviceID   = errors.New("invalid device ID")
	ErrInvalidAmount     = errors.New("order amount must be positive")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrOverRefund        = errors.New("refund amount exceeds refundable balance")
)

// OrderStatus 订单状态
type OrderStatus string

const (
	StatusInit       OrderStatus = "INIT"        // 已创建，未发起支付
	StatusPayPending OrderStatus = "PAY_PENDING" // 等待支付
	StatusPaid       OrderStatus = "PAID"        // 已支付，待启动设备
	StatusStarting   OrderStatus = "STARTING"    // 设备启动中
	StatusInUse      OrderStatus = "IN_USE"      // 使用中
	StatusSettling   OrderStatus = "SETTLING"    // 结算中
	StatusDone       OrderStatus = "DONE"        // 已完成
	StatusRefunding  OrderStatus = "REFUNDING"   // 退款中
	StatusCancelled  OrderStatus = "CANCELLED"   // 已取消
	StatusClosed     OrderStatus = "CLOSED"      // 已关闭
)

// transitionTable 状态流转表（闭集：未列出即禁止）
var transitionTable = map[OrderStatus][]OrderStatus{
	StatusInit:       {StatusPayPending, StatusCancelled, StatusClosed},
	StatusPayPending: {StatusPaid, StatusCancelled, StatusClosed},
	StatusPaid:       {StatusStarting, StatusRefunding},
	StatusStarting:   {StatusInUse, StatusRefunding},
	StatusInUse:      {StatusSettling},
	StatusSettling:   {StatusDone},
	StatusRefunding:  {StatusClosed},
	// DONE / CANCELLED / CLOSED 为终态，无出边
	StatusDone:      {},
	StatusCancelled: {},
	StatusClosed:    {},
}

// AllowedTargets 返回指定状态允许流转到的目标状态列表
func AllowedTargets(from OrderStatus) []OrderStatus {
	targets, ok := transitionTable[from]
	if !ok {
		return nil
	}
	return targets
}

// CanTransition 判断 from -> to 是否为合法流转
func CanTransition(from, to OrderStatus) bool {
	for _, t := range AllowedTargets(from) {
		if t == to {
			return true
		}
	}
	return false
}

// IsTerminal 判断是否为终态
func IsTerminal(s OrderStatus) bool {
	return len(AllowedTargets(s)) == 0
}

// Order 订单聚合根（领域对象）
// 一次针对物理设备的付费使用会话
type Order struct {
	ID              int64                  // 订单ID（雪花ID）
	OrderNo         string                 // 订单号（全局唯一）
	UserID          int64                  // 用户ID
	MerchantID      int64                  // 商户ID
	DeviceID        int64                  // 设备ID
	Status          OrderStatus            // 订单状态
	Amount          int64                  // 订单金额（分）
	PaidAmount      int64                  // 已支付金额（分）
	RefundAmount    int64                  // 已退款金额（分）
	PaymentMethod   string                 // 支付方式
	DurationMinutes int                    // 计划使用时长（分钟）
	ActualMinutes   int                    // 实际使用时长（分钟，结算时写入）
	CancelReason    string                 // 取消原因
	DeviceData      map[string]interface{} // 设备数据
	PaymentInfo     map[string]interface{} // 支付信息
	CreatedAt       time.Time              // 创建时间
	PaidAt          *time.Time             // 支付时间
	StartAt         *time.Time             // 启动时间
	EndAt           *time.Time             // 结束时间
	ExpireAt        *time.Time             // 过期时间
	UpdatedAt       time.Time              // 更新时间
	Version         int64                  // 乐观锁版本号
}

// NewOrder 创建订单（工厂方法）
func NewOrder(id int64, orderNo string, userID, merchantID, deviceID int64, amount int64, durationMinutes int) (*Order, error) {
	if orderNo == "" {
		return nil, ErrInvalidOrderNo
	}
	if userID <= 0 {
		return nil, ErrInvalidUserID
	}
	if deviceID <= 0 {
		return nil, ErrInvalidDeviceID
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	now := time.Now()
	return &Order{
		ID:              id,
		OrderNo:         orderNo,
		UserID:          userID,
		MerchantID:      merchantID,
		DeviceID:        deviceID,
		Status:          StatusInit,
		Amount:          amount,
		DurationMinutes: durationMinutes,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}, nil
}

// TransitionTo 状态流转（领域行为）
// 目标状态不在流转表中时拒绝，状态保持不变
func (o *Order) TransitionTo(target OrderStatus) error {
	if !CanTransition(o.Status, target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, target)
	}
	o.Status = target
	o.UpdatedAt = time.Now()
	return nil
}

// IsPaid 是否已支付（含已支付后的各阶段）
func (o *Order) IsPaid() bool {
	switch o.Status {
	case StatusPaid, StatusStarting, StatusInUse, StatusSettling, StatusDone:
		return true
	}
	return false
}

// IsActive 是否处于活跃使用阶段
func (o *Order) IsActive() bool {
	return o.Status == StatusStarting || o.Status == StatusInUse
}

// IsFinished 是否已结束
func (o *Order) IsFinished() bool {
	return o.Status == StatusDone || o.Status == StatusClosed
}

// CanCancel 是否可取消
func (o *Order) CanCancel() bool {
	return o.Status == StatusInit || o.Status == StatusPayPending
}

// CanRefund 是否可退款
func (o *Order) CanRefund() bool {
	return o.IsPaid() && !o.IsFinished()
}

// IsExpired 是否已过期
func (o *Order) IsExpired() bool {
	return o.ExpireAt != nil && o.ExpireAt.Before(time.Now())
}

// RefundableAmount 可退款余额（分）
func (o *Order) RefundableAmount() int64 {
	remain := o.PaidAmount - o.RefundAmount
	if remain < 0 {
		return 0
	}
	return remain
}

// ApplyRefund 记录退款金额（领域行为）
// 超出可退款余额视为硬错误，拒绝而非截断
func (o *Order) ApplyRefund(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if amount > o.RefundableAmount() {
		return fmt.Errorf("%w: refund=%d refundable=%d", ErrOverRefund, amount, o.RefundableAmount())
	}
	o.RefundAmount += amount
	o.UpdatedAt = time.Now()
	return nil
}

// ElapsedMinutes 自启动以来经过的分钟数（未启动返回 0）
func (o *Order) ElapsedMinutes(now time.Time) int {
	if o.StartAt == nil {
		return 0
	}
	return int(now.Sub(*o.StartAt).Minutes())
}

// IsOvertime 是否超时使用（经过时长超过计划时长的 2 倍）
func (o *Order) IsOvertime(now time.Time) bool {
	if o.Status != StatusInUse || o.StartAt == nil || o.DurationMinutes <= 0 {
		return false
	}
	return o.ElapsedMinutes(now) > 2*o.DurationMinutes
}
