package svtimeout

import (
	"context"
	"fmt"
	"time"

	"sdp/ordercore/internal/app/domains/entity/etorder"
	"sdp/ordercore/internal/app/domains/gateway/device"
	"sdp/ordercore/internal/app/domains/gateway/ledger"
	"sdp/ordercore/internal/app/domains/gateway/notify"
	"sdp/ordercore/internal/app/domains/repo/rporder"
	"sdp/ordercore/internal/app/pkg/logger"
)

// Config 超时阈值配置
type Config struct {
	PaymentTimeout    time.Duration // 支付超时（默认 15m）
	StartTimeout      time.Duration // 设备启动超时（默认 5m）
	ScanBatchSize     int           // 单次扫描上限（默认 200）
	MaxRemedyAttempts int64         // 单笔订单补救重试上限（默认 5）
	AlertOvertimeMin  int           // 实际用时超过这个分钟数额外触发管理员告警（默认 90）
}

func (c *Config) withDefaults() {
	if c.PaymentTimeout <= 0 {
		c.PaymentTimeout = 15 * time.Minute
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = 5 * time.Minute
	}
	if c.ScanBatchSize <= 0 {
		c.ScanBatchSize = 200
	}
	if c.MaxRemedyAttempts <= 0 {
		c.MaxRemedyAttempts = 5
	}
	if c.AlertOvertimeMin <= 0 {
		c.AlertOvertimeMin = 90
	}
}

// RetryCounter 补救重试计数器（Redis INCR + TTL）
type RetryCounter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Del(ctx context.Context, key string) error
}

// Detector 超时检测器
// 三类扫描定时执行；每笔订单的补救以条件状态更新兜底，
// 双实例/重复扫描下同一订单只会被补救一次
type Detector struct {
	orderRepo rporder.OrderRepository
	deviceGW  device.Gateway
	ledgerGW  ledger.Gateway
	notifyGW  notify.Gateway
	counter   RetryCounter
	logger    logger.Logger
	cfg       Config
}

func NewDetector(
	orderRepo rporder.OrderRepository,
	deviceGW device.Gateway,
	ledgerGW ledger.Gateway,
	notifyGW notify.Gateway,
	counter RetryCounter,
	cfg Config,
	log logger.Logger,
) *Detector {
	cfg.withDefaults()
	return &Detector{
		orderRepo: orderRepo,
		deviceGW:  deviceGW,
		ledgerGW:  ledgerGW,
		notifyGW:  notifyGW,
		counter:   counter,
		logger:    log,
		cfg:       cfg,
	}
}

// ScanPaymentTimeouts 支付超时扫描
// PAY_PENDING 且创建超过阈值的订单：取消、释放设备、通知用户
func (d *Detector) ScanPaymentTimeouts(ctx context.Context) (int, error) {
	deadline := time.Now().Add(-d.cfg.PaymentTimeout)
	orders, err := d.orderRepo.Find(ctx, rporder.Filter{
		Status:        etorder.StatusPayPending,
		CreatedBefore: &deadline,
		Limit:         d.cfg.ScanBatchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("scan payment timeouts failed: %w", err)
	}

	remedied := 0
	for _, order := range orders {
		if d.remedyPaymentTimeout(ctx, order) {
			remedied++
		}
	}
	if len(orders) > 0 {
		d.logger.Infof(ctx, "[Timeout] Payment scan done: candidates=%d remedied=%d", len(orders), remedied)
	}
	return remedied, nil
}

func (d *Detector) remedyPaymentTimeout(ctx context.Context, order *etorder.Order) bool {
	if !d.acquireAttempt(ctx, "payment", order.ID) {
		return false
	}

	// 条件更新保证幂等：并发扫描下只有一方拿到 RowsAffected=1
	won, err := d.orderRepo.TransitionStatus(ctx, order.ID, etorder.StatusPayPending, etorder.StatusCancelled, map[string]interface{}{
		"cancel_reason": "payment timeout",
	})
	if err != nil {
		d.surfaceFailure(ctx, order, "payment_timeout", err)
		return false
	}
	if !won {
		return false
	}

	if err := d.deviceGW.Release(ctx, order.DeviceID); err != nil {
		d.logger.Warnf(ctx, "[Timeout] Device release failed: order_id=%d device_id=%d error=%v",
			order.ID, order.DeviceID, err)
	}
	d.notifyUser(ctx, order, "订单已取消", "您的订单因超时未支付已自动取消")
	d.clearAttempts(ctx, "payment", order.ID)

	d.logger.Infof(ctx, "[Timeout] Payment timeout remedied: order_id=%d order_no=%s", order.ID, order.OrderNo)
	return true
}

// ScanStartTimeouts 设备启动超时扫描
// PAID 且支付后超过阈值未进入 STARTING/IN_USE：转退款、发起退款、
// 重复发生的设备打维护标记
func (d *Detector) ScanStartTimeouts(ctx context.Context) (int, error) {
	deadline := time.Now().Add(-d.cfg.StartTimeout)
	orders, err := d.orderRepo.Find(ctx, rporder.Filter{
		Status:     etorder.StatusPaid,
		PaidBefore: &deadline,
		Limit:      d.cfg.ScanBatchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("scan start timeouts failed: %w", err)
	}

	remedied := 0
	for _, order := range orders {
		if d.remedyStartTimeout(ctx, order) {
			remedied++
		}
	}
	if len(orders) > 0 {
		d.logger.Infof(ctx, "[Timeout] Start scan done: candidates=%d remedied=%d", len(orders), remedied)
	}
	return remedied, nil
}

func (d *Detector) remedyStartTimeout(ctx context.Context, order *etorder.Order) bool {
	if !d.acquireAttempt(ctx, "start", order.ID) {
		return false
	}

	// 先发退款再转状态：退款失败时订单仍是 PAID，下一轮扫描可重试（受重试预算约束）
	if err := d.ledgerGW.InitiateRefund(ctx, order.ID, order.RefundableAmount(), "device start timeout"); err != nil {
		d.surfaceFailure(ctx, order, "device_start_timeout", fmt.Errorf("initiate refund failed: %w", err))
		return false
	}

	won, err := d.orderRepo.TransitionStatus(ctx, order.ID, etorder.StatusPaid, etorder.StatusRefunding, nil)
	if err != nil {
		d.surfaceFailure(ctx, order, "device_start_timeout", err)
		return false
	}
	if !won {
		return false
	}

	d.notifyUser(ctx, order, "订单退款中", "设备启动失败，订单金额将原路退回")

	// 同设备重复启动失败：打维护标记
	failKey := fmt.Sprintf("timeout:device_fail:%d", order.DeviceID)
	fails, err := d.counter.Incr(ctx, failKey, 24*time.Hour)
	if err == nil && fails >= 2 {
		if err := d.deviceGW.MarkMaintenance(ctx, order.DeviceID, "repeated start failures"); err != nil {
			d.logger.Warnf(ctx, "[Timeout] Mark maintenance failed: device_id=%d error=%v", order.DeviceID, err)
		}
	}
	d.clearAttempts(ctx, "start", order.ID)

	d.logger.Infof(ctx, "[Timeout] Start timeout remedied: order_id=%d order_no=%s", order.ID, order.OrderNo)
	return true
}

// ScanUsageOvertimes 使用超时扫描
// IN_USE 且实际用时超过购买时长两倍：强制结算（记录实际分钟数）、
// 释放设备、通知用户；实际用时超过告警阈值再发管理员告警
func (d *Detector) ScanUsageOvertimes(ctx context.Context) (int, error) {
	// 粗筛：至少已启动超过最短可能的超时时间
	startedBefore := time.Now()
	orders, err := d.orderRepo.Find(ctx, rporder.Filter{
		Status:        etorder.StatusInUse,
		StartedBefore: &startedBefore,
		Limit:         d.cfg.ScanBatchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("scan usage overtimes failed: %w", err)
	}

	now := time.Now()
	remedied := 0
	for _, order := range orders {
		if !order.IsOvertime(now) {
			continue
		}
		if d.remedyUsageOvertime(ctx, order, now) {
			remedied++
		}
	}
	if remedied > 0 {
		d.logger.Infof(ctx, "[Timeout] Usage scan done: candidates=%d remedied=%d", len(orders), remedied)
	}
	return remedied, nil
}

func (d *Detector) remedyUsageOvertime(ctx context.Context, order *etorder.Order, now time.Time) bool {
	if !d.acquireAttempt(ctx, "usage", order.ID) {
		return false
	}

	actualMinutes := order.ElapsedMinutes(now)
	won, err := d.orderRepo.TransitionStatus(ctx, order.ID, etorder.StatusInUse, etorder.StatusSettling, map[string]interface{}{
		"end_at": now,
	})
	if err != nil {
		d.surfaceFailure(ctx, order, "usage_timeout", err)
		return false
	}
	if !won {
		return false
	}

	// 结算完成：计费时长按实际用时入账
	if _, err := d.orderRepo.TransitionStatus(ctx, order.ID, etorder.StatusSettling, etorder.StatusDone, map[string]interface{}{
		"duration_minutes": actualMinutes,
		"actual_minutes":   actualMinutes,
	}); err != nil {
		d.surfaceFailure(ctx, order, "usage_timeout", fmt.Errorf("settle failed: %w", err))
		return false
	}

	if err := d.deviceGW.Release(ctx, order.DeviceID); err != nil {
		d.logger.Warnf(ctx, "[Timeout] Device release failed: order_id=%d device_id=%d error=%v",
			order.ID, order.DeviceID, err)
	}
	d.notifyUser(ctx, order, "订单已结算",
		fmt.Sprintf("您的使用时长已超出购买时长，订单按实际用时 %d 分钟结算", actualMinutes))

	// 告警阈值对齐 elapsed_minutes：按实际用时判定，不看超出量
	if actualMinutes > d.cfg.AlertOvertimeMin {
		if err := d.notifyGW.SendToAdmins(ctx, &notify.AdminAlert{
			Title:    "严重超时使用",
			Content:  fmt.Sprintf("订单 %s 实际使用 %d 分钟，建议安排设备巡检", order.OrderNo, actualMinutes),
			Type:     "usage_overtime",
			Priority: "high",
			OrderID:  order.ID,
		}); err != nil {
			d.logger.Warnf(ctx, "[Timeout] Admin alert failed: order_id=%d error=%v", order.ID, err)
		}
	}
	d.clearAttempts(ctx, "usage", order.ID)

	d.logger.Infof(ctx, "[Timeout] Usage overtime remedied: order_id=%d actual_minutes=%d", order.ID, actualMinutes)
	return true
}

// acquireAttempt 重试预算检查
// 超过上限的订单不再自动补救，避免坏单拖住每一轮扫描
func (d *Detector) acquireAttempt(ctx context.Context, scan string, orderID int64) bool {
	key := fmt.Sprintf("timeout:attempts:%s:%d", scan, orderID)
	attempts, err := d.counter.Incr(ctx, key, 24*time.Hour)
	if err != nil {
		// 计数器不可用时放行，以条件更新兜底
		d.logger.Warnf(ctx, "[Timeout] Retry counter unavailable: key=%s error=%v", key, err)
		return true
	}
	if attempts > d.cfg.MaxRemedyAttempts {
		if attempts == d.cfg.MaxRemedyAttempts+1 {
			d.logger.Errorf(ctx, "[Timeout] Remedy budget exhausted: scan=%s order_id=%d", scan, orderID)
		}
		return false
	}
	return true
}

func (d *Detector) clearAttempts(ctx context.Context, scan string, orderID int64) {
	key := fmt.Sprintf("timeout:attempts:%s:%d", scan, orderID)
	if err := d.counter.Del(ctx, key); err != nil {
		d.logger.Warnf(ctx, "[Timeout] Clear retry counter failed: key=%s error=%v", key, err)
	}
}

// surfaceFailure 补救失败上抛管理员队列，订单留给下一轮
func (d *Detector) surfaceFailure(ctx context.Context, order *etorder.Order, kind string, cause error) {
	d.logger.Errorf(ctx, "[Timeout] Remedy failed: kind=%s order_id=%d error=%v", kind, order.ID, cause)
	if err := d.notifyGW.SendToAdmins(ctx, &notify.AdminAlert{
		Title:    "超时补救失败",
		Content:  fmt.Sprintf("订单 %s（%s）自动补救失败: %v", order.OrderNo, kind, cause),
		Type:     "remedy_failure",
		Priority: "high",
		OrderID:  order.ID,
	}); err != nil {
		d.logger.Errorf(ctx, "[Timeout] Surface failure alert failed: order_id=%d error=%v", order.ID, err)
	}
}

func (d *Detector) notifyUser(ctx context.Context, order *etorder.Order, title, content string) {
	if err := d.notifyGW.SendToUser(ctx, order.UserID, &notify.UserMessage{
		Title:   title,
		Content: content,
		Type:    "order_remedy",
		Data:    map[string]interface{}{"order_no": order.OrderNo},
	}); err != nil {
		d.logger.Warnf(ctx, "[Timeout] User notify failed: order_id=%d error=%v", order.ID, err)
	}
}
