package rporder

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"sdp/ordercore/internal/app/domains/entity/etorder"
	"sdp/ordercore/internal/app/infra/entity"
	"sdp/ordercore/internal/app/pkg/errorx"
)

// OrderRepositoryImpl 订单仓储实现（MySQL）
type OrderRepositoryImpl struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓储实例
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &OrderRepositoryImpl{db: db}
}

// Create 创建订单，将领域对象转换为 GORM 模型后存储
func (r *OrderRepositoryImpl) Create(ctx context.Context, order *etorder.Order) error {
	po, err := r.toGormModel(order)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(po).Error
}

// GetByID 根据ID查询订单，将 GORM 模型转换为领域对象
func (r *OrderRepositoryImpl) GetByID(ctx context.Context, orderID int64) (*etorder.Order, error) {
	var po entity.Order
	err := r.db.WithContext(ctx).Where("id = ?", orderID).First(&po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errorx.ErrOrderNotFound
		}
		return nil, err
	}
	return r.toDomainModel(&po)
}

// GetByOrderNo 根据订单号查询订单
func (r *OrderRepositoryImpl) GetByOrderNo(ctx context.Context, orderNo string) (*etorder.Order, error) {
	var po entity.Order
	err := r.db.WithContext(ctx).Where("order_no = ?", orderNo).First(&po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errorx.ErrOrderNotFound
		}
		return nil, err
	}
	return r.toDomainModel(&po)
}

// Find 按过滤条件查询订单列表
func (r *OrderRepositoryImpl) Find(ctx context.Context, filter Filter) ([]*etorder.Order, error) {
	query := r.db.WithContext(ctx).Model(&entity.Order{})

	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.UserID > 0 {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.MerchantID > 0 {
		query = query.Where("merchant_id = ?", filter.MerchantID)
	}
	if filter.DeviceID > 0 {
		query = query.Where("device_id = ?", filter.DeviceID)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at < ?", *filter.CreatedBefore)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at > ?", *filter.CreatedAfter)
	}
	if filter.PaidBefore != nil {
		query = query.Where("paid_at < ?", *filter.PaidBefore)
	}
	if filter.StartedBefore != nil {
		query = query.Where("start_at < ?", *filter.StartedBefore)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var pos []entity.Order
	if err := query.Order("created_at ASC").Find(&pos).Error; err != nil {
		return nil, err
	}

	orders := make([]*etorder.Order, 0, len(pos))
	for i := range pos {
		order, err := r.toDomainModel(&pos[i])
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// Update 更新订单字段
func (r *OrderRepositoryImpl) Update(ctx context.Context, orderID int64, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	result := r.db.WithContext(ctx).
		Model(&entity.Order{}).
		Where("id = ?", orderID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errorx.ErrOrderNotFound
	}
	return nil
}

// UpdateWithVersion 带乐观锁的更新
func (r *OrderRepositoryImpl) UpdateWithVersion(ctx context.Context, orderID, version int64, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	updates["version"] = version + 1
	result := r.db.WithContext(ctx).
		Model(&entity.Order{}).
		Where("id = ? AND version = ?", orderID, version).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errorx.ErrVersionConflict
	}
	return nil
}

// TransitionStatus 条件状态流转（WHERE status = from 保证至多生效一次）
func (r *OrderRepositoryImpl) TransitionStatus(ctx context.Context, orderID int64, from, to etorder.OrderStatus, updates map[string]interface{}) (bool, error) {
	if updates == nil {
		updates = make(map[string]interface{})
	}
	updates["status"] = string(to)
	updates["updated_at"] = time.Now()
	updates["version"] = gorm.Expr("version + 1")

	result := r.db.WithContext(ctx).
		Model(&entity.Order{}).
		Where("id = ? AND status = ?", orderID, string(from)).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListCompletedByMerchant 查询商户在周期内的已完成订单
func (r *OrderRepositoryImpl) ListCompletedByMerchant(ctx context.Context, merchantID int64, from, to time.Time) ([]*etorder.Order, error) {
	var pos []entity.Order
	err := r.db.WithContext(ctx).
		Where("merchant_id = ? AND status = ? AND end_at >= ? AND end_at < ?",
			merchantID, string(etorder.StatusDone), from, to).
		Order("end_at ASC").
		Find(&pos).Error
	if err != nil {
		return nil, err
	}

	orders := make([]*etorder.Order, 0, len(pos))
	for i := range pos {
		order, err := r.toDomainModel(&pos[i])
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// ListMerchantsWithCompletedOrders 查询周期内有完单的商户ID
func (r *OrderRepositoryImpl) ListMerchantsWithCompletedOrders(ctx context.Context, from, to time.Time) ([]int64, error) {
	var merchantIDs []int64
	err := r.db.WithContext(ctx).
		Model(&entity.Order{}).
		Where("status = ? AND end_at >= ? AND end_at < ?", string(etorder.StatusDone), from, to).
		Distinct("merchant_id").
		Pluck("merchant_id", &merchantIDs).Error
	if err != nil {
		return nil, err
	}
	return merchantIDs, nil
}

// CountByUserSince 统计用户自某时刻起处于指定状态的订单数
func (r *OrderRepositoryImpl) CountByUserSince(ctx context.Context, userID int64, status etorder.OrderStatus, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.Order{}).
		Where("user_id = ? AND status = ? AND created_at >= ?", userID, string(status), since).
		Count(&count).Error
	return count, err
}

// CountByUserTotalSince 统计用户自某时刻起的订单总数
func (r *OrderRepositoryImpl) CountByUserTotalSince(ctx context.Context, userID int64, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.Order{}).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Count(&count).Error
	return count, err
}

// List 分页查询订单列表
func (r *OrderRepositoryImpl) List(ctx context.Context, userID int64, page, limit int) ([]*etorder.Order, int64, error) {
	var total int64
	var pos []entity.Order

	query := r.db.WithContext(ctx).Model(&entity.Order{})
	if userID > 0 {
		query = query.Where("user_id = ?", userID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.Offset(offset).Limit(limit).Order("created_at DESC").Find(&pos).Error; err != nil {
		return nil, 0, err
	}

	orders := make([]*etorder.Order, 0, len(pos))
	for i := range pos {
		order, err := r.toDomainModel(&pos[i])
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, order)
	}

	return orders, total, nil
}

// toGormModel 领域对象转换为 GORM 模型
func (r *OrderRepositoryImpl) toGormModel(order *etorder.Order) (*entity.Order, error) {
	po := &entity.Order{
		ID:              order.ID,
		OrderNo:         order.OrderNo,
		UserID:          order.UserID,
		MerchantID:      order.MerchantID,
		DeviceID:        order.DeviceID,
		Status:          string(order.Status),
		Amount:          order.Amount,
		PaidAmount:      order.PaidAmount,
		RefundAmount:    order.RefundAmount,
		PaymentMethod:   order.PaymentMethod,
		DurationMinutes: order.DurationMinutes,
		ActualMinutes:   order.ActualMinutes,
		CancelReason:    order.CancelReason,
		CreatedAt:       order.CreatedAt,
		PaidAt:          order.PaidAt,
		StartAt:         order.StartAt,
		EndAt:           order.EndAt,
		ExpireAt:        order.ExpireAt,
		UpdatedAt:       order.UpdatedAt,
		Version:         order.Version,
	}

	if order.DeviceData != nil {
		data, err := json.Marshal(order.DeviceData)
		if err != nil {
			return nil, err
		}
		po.DeviceData = data
	}
	if order.PaymentInfo != nil {
		data, err := json.Marshal(order.PaymentInfo)
		if err != nil {
			return nil, err
		}
		po.PaymentInfo = data
	}

	return po, nil
}

// toDomainModel GORM 模型转换为领域对象
func (r *OrderRepositoryImpl) toDomainModel(po *entity.Order) (*etorder.Order, error) {
	order := &etorder.Order{
		ID:              po.ID,
		OrderNo:         po.OrderNo,
		UserID:          po.UserID,
		MerchantID:      po.MerchantID,
		DeviceID:        po.DeviceID,
		Status:          etorder.OrderStatus(po.Status),
		Amount:          po.Amount,
		PaidAmount:      po.PaidAmount,
		RefundAmount:    po.RefundAmount,
		PaymentMethod:   po.PaymentMethod,
		DurationMinutes: po.DurationMinutes,
		ActualMinutes:   po.ActualMinutes,
		CancelReason:    po.CancelReason,
		CreatedAt:       po.CreatedAt,
		PaidAt:          po.PaidAt,
		StartAt:         po.StartAt,
		EndAt:           po.EndAt,
		ExpireAt:        po.ExpireAt,
		UpdatedAt:       po.UpdatedAt,
		Version:         po.Version,
	}

	if len(po.DeviceData) > 0 {
		if err := json.Unmarshal(po.DeviceData, &order.DeviceData); err != nil {
			return nil, err
		}
	}
	if len(po.PaymentInfo) > 0 {
		if err := json.Unmarshal(po.PaymentInfo, &order.PaymentInfo); err != nil {
			return nil, err
		}
	}

	return order, nil
}
