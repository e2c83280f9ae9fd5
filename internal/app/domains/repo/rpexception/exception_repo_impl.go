package rpexception

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"sdp/ordercore/internal/app/domains/entity/etexception"
	"sdp/ordercore/internal/app/infra/entity"
	"sdp/ordercore/internal/app/pkg/errorx"
)

// ExceptionRepositoryImpl 异常记录仓储实现（MySQL）
type ExceptionRepositoryImpl struct {
	db *gorm.DB
}

// NewExceptionRepository 创建异常记录仓储实例
func NewExceptionRepository(db *gorm.DB) ExceptionRepository {
	return &ExceptionRepositoryImpl{db: db}
}

// Create 创建异常记录
func (r *ExceptionRepositoryImpl) Create(ctx context.Context, record *etexception.Record) error {
	po, err := r.toGormModel(record)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(po).Error
}

// GetByID 根据ID查询异常记录
func (r *ExceptionRepositoryImpl) GetByID(ctx context.Context, recordID string) (*etexception.Record, error) {
	var po entity.ExceptionRecord
	err := r.db.WithContext(ctx).Where("id = ?", recordID).First(&po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errorx.ErrRecordNotFound
		}
		return nil, err
	}
	return r.toDomainModel(&po)
}

// Find 按条件查询异常记录
func (r *ExceptionRepositoryImpl) Find(ctx context.Context, filter Filter) ([]*etexception.Record, error) {
	query := r.db.WithContext(ctx).Model(&entity.ExceptionRecord{})

	if filter.OrderID > 0 {
		query = query.Where("order_id = ?", filter.OrderID)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", string(filter.Type))
	}
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var pos []entity.ExceptionRecord
	if err := query.Order("detected_at DESC").Find(&pos).Error; err != nil {
		return nil, err
	}

	records := make([]*etexception.Record, 0, len(pos))
	for i := range pos {
		record, err := r.toDomainModel(&pos[i])
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// UpdateStatus 更新记录状态
func (r *ExceptionRepositoryImpl) UpdateStatus(ctx context.Context, recordID string, status etexception.RecordStatus, resolvedAt *time.Time) error {
	updates := map[string]interface{}{
		"status": string(status),
	}
	if resolvedAt != nil {
		updates["resolved_at"] = *resolvedAt
	}
	result := r.db.WithContext(ctx).
		Model(&entity.ExceptionRecord{}).
		Where("id = ?", recordID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", errorx.ErrRecordNotFound, recordID)
	}
	return nil
}

// HasOpenRecord 判断订单是否已有未终结的同类型记录
func (r *ExceptionRepositoryImpl) HasOpenRecord(ctx context.Context, orderID int64, typ etexception.ExceptionType) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.ExceptionRecord{}).
		Where("order_id = ? AND type = ? AND status IN ?",
			orderID, string(typ),
			[]string{string(etexception.RecordStatusDetected), string(etexception.RecordStatusProcessing)}).
		Count(&count).Error
	return count > 0, err
}

// PruneBefore 清理早于保留窗口且已终结的记录
func (r *ExceptionRepositoryImpl) PruneBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("detected_at < ? AND status IN ?",
			before,
			[]string{string(etexception.RecordStatusResolved), string(etexception.RecordStatusEscalated), string(etexception.RecordStatusIgnored)}).
		Delete(&entity.ExceptionRecord{})
	return result.RowsAffected, result.Error
}

// toGormModel 领域对象转换为 GORM 模型
func (r *ExceptionRepositoryImpl) toGormModel(record *etexception.Record) (*entity.ExceptionRecord, error) {
	po := &entity.ExceptionRecord{
		ID:          record.ID,
		OrderID:     record.OrderID,
		Type:        string(record.Type),
		Severity:    string(record.Severity),
		RuleID:      record.RuleID,
		Description: record.Description,
		Status:      string(record.Status),
		DetectedAt:  record.DetectedAt,
		ResolvedAt:  record.ResolvedAt,
	}

	if record.Details != nil {
		data, err := json.Marshal(record.Details)
		if err != nil {
			return nil, err
		}
		po.Details = data
	}

	return po, nil
}

// toDomainModel GORM 模型转换为领域对象
func (r *ExceptionRepositoryImpl) toDomainModel(po *entity.ExceptionRecord) (*etexception.Record, error) {
	record := &etexception.Record{
		ID:          po.ID,
		OrderID:     po.OrderID,
		Type:        etexception.ExceptionType(po.Type),
		Severity:    etexception.Severity(po.Severity),
		RuleID:      po.RuleID,
		Description: po.Description,
		Status:      etexception.RecordStatus(po.Status),
		DetectedAt:  po.DetectedAt,
		ResolvedAt:  po.ResolvedAt,
	}

	if len(po.Details) > 0 {
		if err := json.Unmarshal(po.Details, &record.Details); err != nil {
			return nil, err
		}
	}

	return record, nil
}
