package rporder

import (
	"context"
	"time"

	"sdp/ordercore/internal/app/domains/entity/etorder"
)

// Filter 订单查询过滤条件
// 各扫描任务均按「状态 + 时间窗口」方式查询
type Filter struct {
	Status        etorder.OrderStatus // 订单状态（空串表示不过滤）
	UserID        int64               // 用户ID（0 表示不过滤）
	MerchantID    int64               // 商户ID（0 表示不过滤）
	DeviceID      int64               // 设备ID（0 表示不过滤）
	CreatedBefore *time.Time          // 创建时间早于
	CreatedAfter  *time.Time          // 创建时间晚于
	PaidBefore    *time.Time          // 支付时间早于
	StartedBefore *time.Time          // 启动时间早于
	Limit         int                 // 返回上限（0 表示不限制）
}

// OrderRepository 订单仓储接口（只定义，不实现）
// 实现在本包 order_repo_impl.go（MySQL）
type OrderRepository interface {
	// Create 创建订单
	Create(ctx context.Context, order *etorder.Order) error

	// GetByID 根据ID查询订单
	GetByID(ctx context.Context, orderID int64) (*etorder.Order, error)

	// GetByOrderNo 根据订单号查询订单
	GetByOrderNo(ctx context.Context, orderNo string) (*etorder.Order, error)

	// Find 按过滤条件查询订单列表
	Find(ctx context.Context, filter Filter) ([]*etorder.Order, error)

	// Update 更新订单字段
	Update(ctx context.Context, orderID int64, updates map[string]interface{}) error

	// UpdateWithVersion 带乐观锁的更新
	// WHERE id = ? AND version = ?，版本过期返回 errorx.ErrVersionConflict
	UpdateWithVersion(ctx context.Context, orderID, version int64, updates map[string]interface{}) error

	// TransitionStatus 条件状态流转
	// WHERE id = ? AND status = from，竞态输掉时返回 false（不报错）
	// 这是扫描幂等性的核心保证：同一触发状态的补救至多生效一次
	TransitionStatus(ctx context.Context, orderID int64, from, to etorder.OrderStatus, updates map[string]interface{}) (bool, error)

	// ListCompletedByMerchant 查询商户在周期内的已完成订单（结算用）
	ListCompletedByMerchant(ctx context.Context, merchantID int64, from, to time.Time) ([]*etorder.Order, error)

	// ListMerchantsWithCompletedOrders 查询周期内有完单的商户ID（结算批次用）
	ListMerchantsWithCompletedOrders(ctx context.Context, from, to time.Time) ([]int64, error)

	// CountByUserSince 统计用户自某时刻起处于指定状态的订单数（派生信号用）
	CountByUserSince(ctx context.Context, userID int64, status etorder.OrderStatus, since time.Time) (int64, error)

	// CountByUserTotalSince 统计用户自某时刻起的订单总数（派生信号用）
	CountByUserTotalSince(ctx context.Context, userID int64, since time.Time) (int64, error)

	// List 分页查询订单列表
	List(ctx context.Context, userID int64, page, limit int) ([]*etorder.Order, int64, error)
}
