package svsettlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sdp/ordercore/internal/app/domains/entity/etorder"
	"sdp/ordercore/internal/app/domains/repo/rporder"
	"sdp/ordercore/internal/app/pkg/logger"
)

// 错误定义
var (
	ErrEmptyTiers   = errors.New("settlement tiers must not be empty")
	ErrTierGap      = errors.New("settlement tiers must be contiguous from zero")
	ErrInvalidRate  = errors.New("settlement tier rate must be within (0, 1]")
	ErrUnknownCycle = errors.New("unknown settlement cycle")
)

// Tier 分成档位
// Max = -1 表示无上界；Rate 是商户分成比例
type Tier struct {
	Min  int64   // 档位下界（分，含）
	Max  int64   // 档位上界（分，不含；-1 表示无上界）
	Rate float64 // 商户分成比例
}

// Cycle 结算周期
type Cycle string

const (
	CycleDaily   Cycle = "daily"
	CycleWeekly  Cycle = "weekly"
	CycleMonthly Cycle = "monthly"
)

// MerchantTier 商户等级
type MerchantTier string

const (
	MerchantTierStandard MerchantTier = "standard" // 月结
	MerchantTierSilver   MerchantTier = "silver"   // 周结
	MerchantTierGold     MerchantTier = "gold"     // 日结
)

// CycleForMerchant 按商户等级选择结算周期
func CycleForMerchant(tier MerchantTier) Cycle {
	switch tier {
	case MerchantTierGold:
		return CycleDaily
	case MerchantTierSilver:
		return CycleWeekly
	default:
		return CycleMonthly
	}
}

// BonusRule 附加奖励规则
type BonusRule struct {
	Name       string // volume / growth / retention
	Threshold  float64
	BonusRatio float64 // 对商户分成的加成比例
}

// Statement 单商户单周期结算单
type Statement struct {
	MerchantID    int64
	Cycle         Cycle
	PeriodStart   time.Time
	PeriodEnd     time.Time
	OrderCount    int
	TotalRevenue  int64 // 周期完单总流水（分）
	MerchantShare int64 // 阶梯分成后的商户所得（分）
	Bonus         int64 // 附加奖励（分）
	Commission    int64 // 平台佣金（分）
	SettledAt     time.Time
}

// ValidateTiers 校验档位表：从零起步、连续、无上界收尾
func ValidateTiers(tiers []Tier) error {
	if len(tiers) == 0 {
		return ErrEmptyTiers
	}
	expectMin := int64(0)
	for i, t := range tiers {
		if t.Min != expectMin {
			return fmt.Errorf("%w: tier %d starts at %d, want %d", ErrTierGap, i, t.Min, expectMin)
		}
		if t.Rate <= 0 || t.Rate > 1 {
			return fmt.Errorf("%w: tier %d rate %.2f", ErrInvalidRate, i, t.Rate)
		}
		if t.Max == -1 {
			if i != len(tiers)-1 {
				return fmt.Errorf("%w: unbounded tier %d is not last", ErrTierGap, i)
			}
			return nil
		}
		if t.Max <= t.Min {
			return fmt.Errorf("%w: tier %d max %d <= min %d", ErrTierGap, i, t.Max, t.Min)
		}
		expectMin = t.Max
	}
	// 最后一档必须无上界，否则超出部分无人认领
	return fmt.Errorf("%w: last tier must be unbounded", ErrTierGap)
}

// CalculateTieredShare 累进阶梯分成
// 每档费率只作用于落在该档 [Min, Max) 区间内的流水切片，逐档累加；
// 不是对总额套单一费率
func CalculateTieredShare(tiers []Tier, totalRevenue int64) int64 {
	if totalRevenue <= 0 {
		return 0
	}
	var share float64
	for _, t := range tiers {
		if totalRevenue <= t.Min {
			break
		}
		upper := totalRevenue
		if t.Max != -1 && t.Max < upper {
			upper = t.Max
		}
		share += float64(upper-t.Min) * t.Rate
	}
	return int64(share)
}

// DefaultTiers 默认分成档位
func DefaultTiers() []Tier {
	return []Tier{
		{Min: 0, Max: 50000, Rate: 0.65},
		{Min: 50000, Max: 100000, Rate: 0.70},
		{Min: 100000, Max: -1, Rate: 0.75},
	}
}

// DefaultBonusRules 默认奖励规则
func DefaultBonusRules() []BonusRule {
	return []BonusRule{
		{Name: "volume", Threshold: 100, BonusRatio: 0.02},    // 周期完单 ≥ 100 笔
		{Name: "growth", Threshold: 0.2, BonusRatio: 0.03},    // 环比增长 ≥ 20%
		{Name: "retention", Threshold: 0.5, BonusRatio: 0.01}, // 复购率 ≥ 50%
	}
}

// Service 结算服务
// 纯历史完单的计算：读订单库，产出结算单，不改订单状态
type Service struct {
	orderRepo rporder.OrderRepository
	tiers     []Tier
	bonuses   []BonusRule
	logger    logger.Logger
}

func NewService(orderRepo rporder.OrderRepository, tiers []Tier, bonuses []BonusRule, log logger.Logger) (*Service, error) {
	if err := ValidateTiers(tiers); err != nil {
		return nil, fmt.Errorf("settlement service init: %w", err)
	}
	return &Service{
		orderRepo: orderRepo,
		tiers:     tiers,
		bonuses:   bonuses,
		logger:    log,
	}, nil
}

// PeriodFor 计算指定周期的起止时间（end 为开区间上界）
func PeriodFor(cycle Cycle, now time.Time) (time.Time, time.Time, error) {
	switch cycle {
	case CycleDaily:
		end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		return end.AddDate(0, 0, -1), end, nil
	case CycleWeekly:
		end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		// 回退到本周一
		offset := (int(end.Weekday()) + 6) % 7
		end = end.AddDate(0, 0, -offset)
		return end.AddDate(0, 0, -7), end, nil
	case CycleMonthly:
		end := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return end.AddDate(0, -1, 0), end, nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %s", ErrUnknownCycle, cycle)
	}
}

// SettleMerchant 结算单个商户的一个周期
func (s *Service) SettleMerchant(ctx context.Context, merchantID int64, cycle Cycle, now time.Time) (*Statement, error) {
	start, end, err := PeriodFor(cycle, now)
	if err != nil {
		return nil, err
	}

	orders, err := s.orderRepo.ListCompletedByMerchant(ctx, merchantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("settle merchant %d: %w", merchantID, err)
	}

	var revenue int64
	for _, order := range orders {
		revenue += order.PaidAmount - order.RefundAmount
	}

	share := CalculateTieredShare(s.tiers, revenue)
	bonus := s.calculateBonus(ctx, merchantID, orders, revenue, share, start, end)

	stmt := &Statement{
		MerchantID:    merchantID,
		Cycle:         cycle,
		PeriodStart:   start,
		PeriodEnd:     end,
		OrderCount:    len(orders),
		TotalRevenue:  revenue,
		MerchantShare: share,
		Bonus:         bonus,
		Commission:    revenue - share - bonus,
		SettledAt:     time.Now(),
	}

	s.logger.Infof(ctx, "[Settlement] Merchant settled: merchant_id=%d cycle=%s revenue=%d share=%d bonus=%d",
		merchantID, cycle, revenue, share, bonus)
	return stmt, nil
}

// SettleCycle 批量结算一个周期内所有有完单的商户
// 单商户失败只记日志，返回成功部分
func (s *Service) SettleCycle(ctx context.Context, cycle Cycle, now time.Time) ([]*Statement, error) {
	start, end, err := PeriodFor(cycle, now)
	if err != nil {
		return nil, err
	}

	merchantIDs, err := s.orderRepo.ListMerchantsWithCompletedOrders(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("list merchants for %s settlement failed: %w", cycle, err)
	}

	statements := make([]*Statement, 0, len(merchantIDs))
	for _, merchantID := range merchantIDs {
		stmt, err := s.SettleMerchant(ctx, merchantID, cycle, now)
		if err != nil {
			s.logger.Errorf(ctx, "[Settlement] Merchant settlement failed: merchant_id=%d cycle=%s error=%v",
				merchantID, cycle, err)
			continue
		}
		statements = append(statements, stmt)
	}
	return statements, nil
}

// calculateBonus 附加奖励计算
// 各规则独立判断，加成叠加在分成额上
func (s *Service) calculateBonus(ctx context.Context, merchantID int64, orders []*etorder.Order, revenue, share int64, start, end time.Time) int64 {
	stats := buildStats(orders, revenue)

	prevRevenue, err := s.previousRevenue(ctx, merchantID, start, end)
	if err != nil {
		s.logger.Warnf(ctx, "[Settlement] Previous period lookup failed: merchant_id=%d error=%v", merchantID, err)
		prevRevenue = 0
	}

	var bonus float64
	for _, rule := range s.bonuses {
		switch rule.Name {
		case "volume":
			if float64(stats.orderCount) >= rule.Threshold {
				bonus += float64(share) * rule.BonusRatio
			}
		case "growth":
			if prevRevenue > 0 {
				growth := float64(revenue-prevRevenue) / float64(prevRevenue)
				if growth >= rule.Threshold {
					bonus += float64(share) * rule.BonusRatio
				}
			}
		case "retention":
			if stats.retentionRate >= rule.Threshold {
				bonus += float64(share) * rule.BonusRatio
			}
		}
	}
	return int64(bonus)
}

// previousRevenue 上一周期流水（环比用）
func (s *Service) previousRevenue(ctx context.Context, merchantID int64, start, end time.Time) (int64, error) {
	span := end.Sub(start)
	orders, err := s.orderRepo.ListCompletedByMerchant(ctx, merchantID, start.Add(-span), start)
	if err != nil {
		return 0, err
	}
	var revenue int64
	for _, order := range orders {
		revenue += order.PaidAmount - order.RefundAmount
	}
	return revenue, nil
}

type periodStats struct {
	orderCount    int
	retentionRate float64
}

func buildStats(orders []*etorder.Order, _ int64) periodStats {
	users := make(map[int64]int, len(orders))
	for _, order := range orders {
		users[order.UserID]++
	}
	repeat := 0
	for _, n := range users {
		if n > 1 {
			repeat++
		}
	}
	stats := periodStats{orderCount: len(orders)}
	if len(users) > 0 {
		stats.retentionRate = float64(repeat) / float64(len(users))
	}
	return stats
}
