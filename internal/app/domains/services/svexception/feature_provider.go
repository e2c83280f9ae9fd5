package svexception

import (
	"context"
	"fmt"
	"time"

	"sdp/ordercore/internal/app/domains/entity/etorder"
	"sdp/ordercore/internal/app/domains/repo/rporder"
)

// FeatureProvider 派生信号提供方
// 信号属于外部数据科学输入，分类器只把它们当不透明的数值/类别特征；
// 任何实现（启发式、模型、静态默认）都可以替换接入
type FeatureProvider interface {
	// Get 返回订单的某个派生特征
	// 未知字段返回 (nil, false, nil)，调用方当作缺失处理
	Get(ctx context.Context, orderID int64, field string) (interface{}, bool, error)
}

// 启发式默认值
const (
	defaultDeviceFailureRate = 0.05
	defaultUserRiskScore     = 20.0
	signalWindow             = 30 * 24 * time.Hour
)

// HeuristicProvider 基于订单库的启发式信号实现
// 支付成功率 / 取消频率由历史订单统计，设备故障率与用户风险分为静态估计
type HeuristicProvider struct {
	orderRepo rporder.OrderRepository
}

func NewHeuristicProvider(orderRepo rporder.OrderRepository) *HeuristicProvider {
	return &HeuristicProvider{orderRepo: orderRepo}
}

func (p *HeuristicProvider) Get(ctx context.Context, orderID int64, field string) (interface{}, bool, error) {
	switch field {
	case "payment_success_rate":
		v, err := p.paymentSuccessRate(ctx, orderID)
		return v, err == nil, err
	case "cancellation_frequency":
		v, err := p.cancellationFrequency(ctx, orderID)
		return v, err == nil, err
	case "device_failure_rate":
		return defaultDeviceFailureRate, true, nil
	case "user_risk_score":
		return defaultUserRiskScore, true, nil
	default:
		return nil, false, nil
	}
}

// paymentSuccessRate 窗口内非取消非关闭订单占比；无历史时按 1.0 处理
func (p *HeuristicProvider) paymentSuccessRate(ctx context.Context, orderID int64) (float64, error) {
	order, err := p.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return 0, fmt.Errorf("load order for signal failed: %w", err)
	}
	since := time.Now().Add(-signalWindow)

	total, err := p.orderRepo.CountByUserTotalSince(ctx, order.UserID, since)
	if err != nil {
		return 0, fmt.Errorf("count user orders failed: %w", err)
	}
	if total == 0 {
		return 1.0, nil
	}

	cancelled, err := p.orderRepo.CountByUserSince(ctx, order.UserID, etorder.StatusCancelled, since)
	if err != nil {
		return 0, fmt.Errorf("count cancelled orders failed: %w", err)
	}
	closed, err := p.orderRepo.CountByUserSince(ctx, order.UserID, etorder.StatusClosed, since)
	if err != nil {
		return 0, fmt.Errorf("count closed orders failed: %w", err)
	}

	failed := cancelled + closed
	if failed > total {
		failed = total
	}
	return float64(total-failed) / float64(total), nil
}

// cancellationFrequency 近 24 小时取消次数
func (p *HeuristicProvider) cancellationFrequency(ctx context.Context, orderID int64) (int64, error) {
	order, err := p.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return 0, fmt.Errorf("load order for signal failed: %w", err)
	}
	return p.orderRepo.CountByUserSince(ctx, order.UserID, etorder.StatusCancelled, time.Now().Add(-24*time.Hour))
}

// StaticProvider 固定特征表实现（测试与降级用）
type StaticProvider struct {
	Features map[string]interface{}
}

func (p *StaticProvider) Get(_ context.Context, _ int64, field string) (interface{}, bool, error) {
	v, ok := p.Features[field]
	return v, ok, nil
}
