package monitor

import (
	"context"
	"fmt"
	"time"

	"sdp/ordercore/internal/app/domains/entity/etorder"
	"sdp/ordercore/internal/app/domains/repo/rpexception"
	"sdp/ordercore/internal/app/domains/repo/rporder"
	"sdp/ordercore/internal/app/domains/services/svexception"
	"sdp/ordercore/internal/app/domains/services/svsettlement"
	"sdp/ordercore/internal/app/domains/services/svtimeout"
	"sdp/ordercore/internal/app/pkg/logger"
)

// Job 一个命名的周期任务
type Job struct {
	Name       string
	Interval   time.Duration
	RunOnStart bool
	Run        func(ctx context.Context) error
}

// JobConfig 任务周期配置
type JobConfig struct {
	ScanInterval       time.Duration // 超时扫描周期（默认 5m）
	SweepInterval      time.Duration // 异常分类巡检周期（默认 10m）
	SweepBatchSize     int           // 单轮巡检订单上限（默认 200）
	PruneInterval      time.Duration // 记录清理周期（默认 24h）
	RecordRetention    time.Duration // 异常记录保留窗口（默认 30d）
	SettlementInterval time.Duration // 结算触发周期（默认 24h）
}

func (c *JobConfig) withDefaults() {
	if c.ScanInterval <= 0 {
		c.ScanInterval = 5 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 10 * time.Minute
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = 200
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = 24 * time.Hour
	}
	if c.RecordRetention <= 0 {
		c.RecordRetention = 30 * 24 * time.Hour
	}
	if c.SettlementInterval <= 0 {
		c.SettlementInterval = 24 * time.Hour
	}
}

// BuildJobs 组装全部周期任务
func BuildJobs(
	detector *svtimeout.Detector,
	classifier *svexception.Classifier,
	settlement *svsettlement.Service,
	orderRepo rporder.OrderRepository,
	exceptionRepo rpexception.ExceptionRepository,
	cfg JobConfig,
	log logger.Logger,
) []*Job {
	cfg.withDefaults()

	jobs := []*Job{
		{
			Name:     "payment_timeout_scan",
			Interval: cfg.ScanInterval,
			Run: func(ctx context.Context) error {
				_, err := detector.ScanPaymentTimeouts(ctx)
				return err
			},
		},
		{
			Name:     "start_timeout_scan",
			Interval: cfg.ScanInterval,
			Run: func(ctx context.Context) error {
				_, err := detector.ScanStartTimeouts(ctx)
				return err
			},
		},
		{
			Name:     "usage_overtime_scan",
			Interval: cfg.ScanInterval,
			Run: func(ctx context.Context) error {
				_, err := detector.ScanUsageOvertimes(ctx)
				return err
			},
		},
		{
			Name:     "exception_sweep",
			Interval: cfg.SweepInterval,
			Run: func(ctx context.Context) error {
				return sweepActiveOrders(ctx, classifier, orderRepo, cfg.SweepBatchSize)
			},
		},
		{
			Name:     "exception_prune",
			Interval: cfg.PruneInterval,
			Run: func(ctx context.Context) error {
				pruned, err := exceptionRepo.PruneBefore(ctx, time.Now().Add(-cfg.RecordRetention))
				if err != nil {
					return fmt.Errorf("prune exception records failed: %w", err)
				}
				if pruned > 0 {
					log.Infof(ctx, "[Monitor] Exception records pruned: count=%d", pruned)
				}
				return nil
			},
		},
		{
			Name:     "settlement_daily",
			Interval: cfg.SettlementInterval,
			Run: func(ctx context.Context) error {
				_, err := settlement.SettleCycle(ctx, svsettlement.CycleDaily, time.Now())
				return err
			},
		},
		{
			Name:     "settlement_weekly",
			Interval: cfg.SettlementInterval,
			Run: func(ctx context.Context) error {
				// 每天触发，仅周一真正出账
				if time.Now().Weekday() != time.Monday {
					return nil
				}
				_, err := settlement.SettleCycle(ctx, svsettlement.CycleWeekly, time.Now())
				return err
			},
		},
		{
			Name:     "settlement_monthly",
			Interval: cfg.SettlementInterval,
			Run: func(ctx context.Context) error {
				// 每天触发，仅每月 1 号真正出账
				if time.Now().Day() != 1 {
					return nil
				}
				_, err := settlement.SettleCycle(ctx, svsettlement.CycleMonthly, time.Now())
				return err
			},
		},
	}
	return jobs
}

// sweepActiveOrders 对活跃状态订单跑一轮规则分析
var sweepStatuses = []etorder.OrderStatus{
	etorder.StatusPayPending,
	etorder.StatusPaid,
	etorder.StatusStarting,
	etorder.StatusInUse,
}

func sweepActiveOrders(ctx context.Context, classifier *svexception.Classifier, orderRepo rporder.OrderRepository, batchSize int) error {
	var orderIDs []int64
	for _, status := range sweepStatuses {
		orders, err := orderRepo.Find(ctx, rporder.Filter{
			Status: status,
			Limit:  batchSize,
		})
		if err != nil {
			return fmt.Errorf("sweep query failed for %s: %w", status, err)
		}
		for _, order := range orders {
			orderIDs = append(orderIDs, order.ID)
		}
	}
	if len(orderIDs) == 0 {
		return nil
	}
	classifier.BatchAnalyze(ctx, orderIDs)
	return nil
}
