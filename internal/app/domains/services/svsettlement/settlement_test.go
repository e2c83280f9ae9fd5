package svsettlement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sdp/ordercore/internal/app/domains/entity/etorder"
	"sdp/ordercore/internal/app/domains/repo/rporder"
	"sdp/ordercore/internal/app/pkg/logger"
)

// settleOrderRepo 只实现结算路径用到的查询，其余方法不会被调用
type settleOrderRepo struct {
	rporder.OrderRepository
	completed    map[int64][]*etorder.Order // merchantID -> 本周期完单
	previous     map[int64][]*etorder.Order // merchantID -> 上一周期完单
	merchants    []int64
	currentStart time.Time // 本周期起点，早于它的查询窗口归为上期
}

func (r *settleOrderRepo) ListCompletedByMerchant(ctx context.Context, merchantID int64, from, to time.Time) ([]*etorder.Order, error) {
	if !r.currentStart.IsZero() && !to.After(r.currentStart) {
		return r.previous[merchantID], nil
	}
	return r.completed[merchantID], nil
}

func (r *settleOrderRepo) ListMerchantsWithCompletedOrders(ctx context.Context, from, to time.Time) ([]int64, error) {
	return r.merchants, nil
}

func completedOrder(userID int64, paid, refund int64) *etorder.Order {
	endAt := time.Now().Add(-12 * time.Hour)
	return &etorder.Order{
		UserID:       userID,
		Status:       etorder.StatusDone,
		PaidAmount:   paid,
		RefundAmount: refund,
		EndAt:        &endAt,
	}
}

func TestCalculateTieredShare(t *testing.T) {
	tiers := DefaultTiers()

	// 120000 分拆档：50000×0.65 + 50000×0.70 + 20000×0.75
	assert.Equal(t, int64(82500), CalculateTieredShare(tiers, 120000))

	// 落在首档内
	assert.Equal(t, int64(26000), CalculateTieredShare(tiers, 40000))

	// 档位边界：正好到第二档上界
	assert.Equal(t, int64(67500), CalculateTieredShare(tiers, 100000))

	assert.Equal(t, int64(0), CalculateTieredShare(tiers, 0))
	assert.Equal(t, int64(0), CalculateTieredShare(tiers, -100))
}

func TestValidateTiers(t *testing.T) {
	require.NoError(t, ValidateTiers(DefaultTiers()))

	assert.ErrorIs(t, ValidateTiers(nil), ErrEmptyTiers)

	// 档位不连续
	assert.ErrorIs(t, ValidateTiers([]Tier{
		{Min: 0, Max: 50000, Rate: 0.65},
		{Min: 60000, Max: -1, Rate: 0.70},
	}), ErrTierGap)

	// 费率越界
	assert.ErrorIs(t, ValidateTiers([]Tier{
		{Min: 0, Max: -1, Rate: 1.5},
	}), ErrInvalidRate)

	// 最后一档必须无上界
	assert.ErrorIs(t, ValidateTiers([]Tier{
		{Min: 0, Max: 50000, Rate: 0.65},
	}), ErrTierGap)

	// 无上界档位不在末尾
	assert.ErrorIs(t, ValidateTiers([]Tier{
		{Min: 0, Max: -1, Rate: 0.65},
		{Min: 0, Max: -1, Rate: 0.70},
	}), ErrTierGap)
}

func TestPeriodFor(t *testing.T) {
	// 2026-08-19 是周三
	now := time.Date(2026, 8, 19, 10, 30, 0, 0, time.UTC)

	start, end, err := PeriodFor(CycleDaily, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 18, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC), end)

	// 周结：上周一到本周一
	start, end, err = PeriodFor(CycleWeekly, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC), end)

	// 月结：上个自然月
	start, end, err = PeriodFor(CycleMonthly, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), end)

	_, _, err = PeriodFor(Cycle("hourly"), now)
	assert.ErrorIs(t, err, ErrUnknownCycle)
}

func TestCycleForMerchant(t *testing.T) {
	assert.Equal(t, CycleDaily, CycleForMerchant(MerchantTierGold))
	assert.Equal(t, CycleWeekly, CycleForMerchant(MerchantTierSilver))
	assert.Equal(t, CycleMonthly, CycleForMerchant(MerchantTierStandard))
	assert.Equal(t, CycleMonthly, CycleForMerchant(MerchantTier("unknown")))
}

func TestSettleMerchant(t *testing.T) {
	repo := &settleOrderRepo{
		completed: map[int64][]*etorder.Order{
			3001: {
				completedOrder(1, 70000, 0),
				completedOrder(2, 60000, 10000),
			},
		},
	}
	svc, err := NewService(repo, DefaultTiers(), nil, logger.NopLogger{})
	require.NoError(t, err)

	stmt, err := svc.SettleMerchant(context.Background(), 3001, CycleDaily, time.Now())
	require.NoError(t, err)

	// 净流水 120000，阶梯分成 82500，无奖励规则
	assert.Equal(t, int64(3001), stmt.MerchantID)
	assert.Equal(t, 2, stmt.OrderCount)
	assert.Equal(t, int64(120000), stmt.TotalRevenue)
	assert.Equal(t, int64(82500), stmt.MerchantShare)
	assert.Equal(t, int64(0), stmt.Bonus)
	assert.Equal(t, int64(37500), stmt.Commission)
}

func TestSettleMerchantRetentionBonus(t *testing.T) {
	// 用户 1 复购，两个用户中一个复购：复购率 0.5 触发 retention 奖励
	repo := &settleOrderRepo{
		completed: map[int64][]*etorder.Order{
			3001: {
				completedOrder(1, 30000, 0),
				completedOrder(1, 30000, 0),
				completedOrder(2, 60000, 0),
			},
		},
	}
	start, _, err := PeriodFor(CycleDaily, time.Now())
	require.NoError(t, err)
	repo.currentStart = start

	svc, err := NewService(repo, DefaultTiers(), DefaultBonusRules(), logger.NopLogger{})
	require.NoError(t, err)

	stmt, err := svc.SettleMerchant(context.Background(), 3001, CycleDaily, time.Now())
	require.NoError(t, err)

	assert.Equal(t, int64(120000), stmt.TotalRevenue)
	assert.Equal(t, int64(82500), stmt.MerchantShare)
	// retention 奖励 82500 × 0.01；订单数与环比都不达标
	assert.Equal(t, int64(825), stmt.Bonus)
	assert.Equal(t, stmt.TotalRevenue-stmt.MerchantShare-stmt.Bonus, stmt.Commission)
}

func TestSettleMerchantGrowthBonus(t *testing.T) {
	repo := &settleOrderRepo{
		completed: map[int64][]*etorder.Order{
			3001: {
				completedOrder(1, 70000, 0),
				completedOrder(2, 50000, 0),
			},
		},
		previous: map[int64][]*etorder.Order{
			3001: {completedOrder(1, 50000, 0)},
		},
	}
	start, _, err := PeriodFor(CycleDaily, time.Now())
	require.NoError(t, err)
	repo.currentStart = start

	svc, err := NewService(repo, DefaultTiers(), DefaultBonusRules(), logger.NopLogger{})
	require.NoError(t, err)

	stmt, err := svc.SettleMerchant(context.Background(), 3001, CycleDaily, time.Now())
	require.NoError(t, err)

	// 环比 50000 -> 120000 触发 growth 奖励 82500 × 0.03
	assert.Equal(t, int64(82500), stmt.MerchantShare)
	assert.Equal(t, int64(2475), stmt.Bonus)
}

func TestSettleCycle(t *testing.T) {
	repo := &settleOrderRepo{
		completed: map[int64][]*etorder.Order{
			3001: {completedOrder(1, 40000, 0)},
			3002: {completedOrder(2, 20000, 0)},
		},
		merchants: []int64{3001, 3002},
	}
	svc, err := NewService(repo, DefaultTiers(), nil, logger.NopLogger{})
	require.NoError(t, err)

	statements, err := svc.SettleCycle(context.Background(), CycleDaily, time.Now())
	require.NoError(t, err)
	require.Len(t, statements, 2)
	assert.Equal(t, int64(26000), statements[0].MerchantShare)
	assert.Equal(t, int64(13000), statements[1].MerchantShare)
}

func TestNewServiceRejectsBadTiers(t *testing.T) {
	_, err := NewService(&settleOrderRepo{}, []Tier{{Min: 5, Max: -1, Rate: 0.5}}, nil, logger.NopLogger{})
	assert.ErrorIs(t, err, ErrTierGap)
}
