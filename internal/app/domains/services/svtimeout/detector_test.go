package svtimeout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sdp/ordercore/internal/app/domains/entity/etorder"
	"sdp/ordercore/internal/app/domains/gateway/notify"
	"sdp/ordercore/internal/app/domains/repo/rporder"
	"sdp/ordercore/internal/app/pkg/errorx"
	"sdp/ordercore/internal/app/pkg/logger"
)

// ---- 测试替身 ----

type fakeOrderRepo struct {
	mu     sync.Mutex
	orders map[int64]*etorder.Order
}

func newFakeOrderRepo(orders ...*etorder.Order) *fakeOrderRepo {
	r := &fakeOrderRepo{orders: make(map[int64]*etorder.Order)}
	for _, o := range orders {
		r.orders[o.ID] = o
	}
	return r
}

func (r *fakeOrderRepo) Create(ctx context.Context, order *etorder.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = order
	return nil
}

func (r *fakeOrderRepo) GetByID(ctx context.Context, orderID int64) (*etorder.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return nil, errorx.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *fakeOrderRepo) GetByOrderNo(ctx context.Context, orderNo string) (*etorder.Order, error) {
	return nil, errorx.ErrOrderNotFound
}

// Find 按状态加时间窗口过滤，与 MySQL 实现的查询语义一致
func (r *fakeOrderRepo) Find(ctx context.Context, filter rporder.Filter) ([]*etorder.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*etorder.Order
	for _, o := range r.orders {
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.CreatedBefore != nil && !o.CreatedAt.Before(*filter.CreatedBefore) {
			continue
		}
		if filter.PaidBefore != nil && (o.PaidAt == nil || !o.PaidAt.Before(*filter.PaidBefore)) {
			continue
		}
		if filter.StartedBefore != nil && (o.StartAt == nil || !o.StartAt.Before(*filter.StartedBefore)) {
			continue
		}
		cp := *o
		result = append(result, &cp)
	}
	return result, nil
}

func (r *fakeOrderRepo) Update(ctx context.Context, orderID int64, updates map[string]interface{}) error {
	return nil
}

func (r *fakeOrderRepo) UpdateWithVersion(ctx context.Context, orderID, version int64, updates map[string]interface{}) error {
	return nil
}

func (r *fakeOrderRepo) TransitionStatus(ctx context.Context, orderID int64, from, to etorder.OrderStatus, updates map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	o.Version++
	if reason, ok := updates["cancel_reason"].(string); ok {
		o.CancelReason = reason
	}
	if minutes, ok := updates["actual_minutes"].(int); ok {
		o.ActualMinutes = minutes
	}
	if minutes, ok := updates["duration_minutes"].(int); ok {
		o.DurationMinutes = minutes
	}
	if endAt, ok := updates["end_at"].(time.Time); ok {
		o.EndAt = &endAt
	}
	return true, nil
}

func (r *fakeOrderRepo) ListCompletedByMerchant(ctx context.Context, merchantID int64, from, to time.Time) ([]*etorder.Order, error) {
	return nil, nil
}

func (r *fakeOrderRepo) ListMerchantsWithCompletedOrders(ctx context.Context, from, to time.Time) ([]int64, error) {
	return nil, nil
}

func (r *fakeOrderRepo) CountByUserSince(ctx context.Context, userID int64, status etorder.OrderStatus, since time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeOrderRepo) CountByUserTotalSince(ctx context.Context, userID int64, since time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeOrderRepo) List(ctx context.Context, userID int64, page, limit int) ([]*etorder.Order, int64, error) {
	return nil, 0, nil
}

type fakeDeviceGateway struct {
	mu          sync.Mutex
	released    []int64
	maintenance []int64
}

func (g *fakeDeviceGateway) Release(ctx context.Context, deviceID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.released = append(g.released, deviceID)
	return nil
}

func (g *fakeDeviceGateway) MarkMaintenance(ctx context.Context, deviceID int64, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.maintenance = append(g.maintenance, deviceID)
	return nil
}

func (g *fakeDeviceGateway) RetryStart(ctx context.Context, deviceID int64) (bool, error) {
	return true, nil
}

type fakeLedgerGateway struct {
	mu      sync.Mutex
	refunds []int64 // 每笔退款的金额
	fail    bool
}

func (g *fakeLedgerGateway) InitiateRefund(ctx context.Context, orderID int64, amount int64, reason string) error {
	if g.fail {
		return errors.New("ledger unavailable")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, amount)
	return nil
}

type fakeNotifyGateway struct {
	mu          sync.Mutex
	userMsgs    []*notify.UserMessage
	adminAlerts []*notify.AdminAlert
}

func (g *fakeNotifyGateway) SendToUser(ctx context.Context, userID int64, msg *notify.UserMessage) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.userMsgs = append(g.userMsgs, msg)
	return nil
}

func (g *fakeNotifyGateway) SendToAdmins(ctx context.Context, alert *notify.AdminAlert) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.adminAlerts = append(g.adminAlerts, alert)
	return nil
}

// fakeCounter 内存版 INCR+TTL（TTL 不真正过期）
type fakeCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	broken bool
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{counts: make(map[string]int64)}
}

func (c *fakeCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if c.broken {
		return 0, errors.New("redis unavailable")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]++
	return c.counts[key], nil
}

func (c *fakeCounter) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, key)
	return nil
}

// ---- 组装 ----

type detectorFixture struct {
	detector  *Detector
	orderRepo *fakeOrderRepo
	deviceGW  *fakeDeviceGateway
	ledgerGW  *fakeLedgerGateway
	notifyGW  *fakeNotifyGateway
	counter   *fakeCounter
}

func newDetectorFixture(cfg Config, orders ...*etorder.Order) *detectorFixture {
	orderRepo := newFakeOrderRepo(orders...)
	deviceGW := &fakeDeviceGateway{}
	ledgerGW := &fakeLedgerGateway{}
	notifyGW := &fakeNotifyGateway{}
	counter := newFakeCounter()
	return &detectorFixture{
		detector:  NewDetector(orderRepo, deviceGW, ledgerGW, notifyGW, counter, cfg, logger.NopLogger{}),
		orderRepo: orderRepo,
		deviceGW:  deviceGW,
		ledgerGW:  ledgerGW,
		notifyGW:  notifyGW,
		counter:   counter,
	}
}

func orderWith(id int64, status etorder.OrderStatus) *etorder.Order {
	return &etorder.Order{
		ID:              id,
		OrderNo:         fmt.Sprintf("ORD%d", id),
		UserID:          2001,
		MerchantID:      3001,
		DeviceID:        4001,
		Status:          status,
		Amount:          6000,
		DurationMinutes: 30,
		CreatedAt:       time.Now(),
	}
}

// ---- 支付超时 ----

func TestScanPaymentTimeouts(t *testing.T) {
	stale := orderWith(1, etorder.StatusPayPending)
	stale.CreatedAt = time.Now().Add(-16 * time.Minute)
	fresh := orderWith(2, etorder.StatusPayPending)
	fresh.CreatedAt = time.Now().Add(-3 * time.Minute)

	f := newDetectorFixture(Config{PaymentTimeout: 15 * time.Minute}, stale, fresh)
	ctx := context.Background()

	remedied, err := f.detector.ScanPaymentTimeouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, remedied)

	// 超时的被取消且记录原因，未超时的不动
	cancelled, _ := f.orderRepo.GetByID(ctx, 1)
	assert.Equal(t, etorder.StatusCancelled, cancelled.Status)
	assert.Equal(t, "payment timeout", cancelled.CancelReason)
	untouched, _ := f.orderRepo.GetByID(ctx, 2)
	assert.Equal(t, etorder.StatusPayPending, untouched.Status)

	assert.Equal(t, []int64{4001}, f.deviceGW.released)
	assert.Len(t, f.notifyGW.userMsgs, 1)

	// 再扫一轮：状态已不是 PAY_PENDING，不会二次补救
	remedied, err = f.detector.ScanPaymentTimeouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, remedied)
	assert.Len(t, f.notifyGW.userMsgs, 1)
}

func TestPaymentRemedyLosesRace(t *testing.T) {
	stale := orderWith(1, etorder.StatusPayPending)
	stale.CreatedAt = time.Now().Add(-16 * time.Minute)
	f := newDetectorFixture(Config{}, stale)
	ctx := context.Background()

	// 扫描取到快照后订单被并发支付：条件更新输掉，无任何副作用
	orders, err := f.orderRepo.Find(ctx, rporder.Filter{Status: etorder.StatusPayPending})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	f.orderRepo.orders[1].Status = etorder.StatusPaid

	assert.False(t, f.detector.remedyPaymentTimeout(ctx, orders[0]))
	assert.Empty(t, f.deviceGW.released)
	assert.Empty(t, f.notifyGW.userMsgs)

	current, _ := f.orderRepo.GetByID(ctx, 1)
	assert.Equal(t, etorder.StatusPaid, current.Status)
}

func TestPaymentRemedyBudgetExhausted(t *testing.T) {
	stale := orderWith(1, etorder.StatusPayPending)
	stale.CreatedAt = time.Now().Add(-16 * time.Minute)
	f := newDetectorFixture(Config{MaxRemedyAttempts: 2}, stale)
	ctx := context.Background()

	// 预先耗尽重试预算
	f.counter.counts["timeout:attempts:payment:1"] = 2

	remedied, err := f.detector.ScanPaymentTimeouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, remedied)

	current, _ := f.orderRepo.GetByID(ctx, 1)
	assert.Equal(t, etorder.StatusPayPending, current.Status)
}

func TestPaymentRemedyCounterUnavailable(t *testing.T) {
	stale := orderWith(1, etorder.StatusPayPending)
	stale.CreatedAt = time.Now().Add(-16 * time.Minute)
	f := newDetectorFixture(Config{}, stale)
	f.counter.broken = true
	ctx := context.Background()

	// 计数器不可用时放行，条件更新仍保证幂等
	remedied, err := f.detector.ScanPaymentTimeouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, remedied)
}

// ---- 启动超时 ----

func TestScanStartTimeouts(t *testing.T) {
	paid := orderWith(1, etorder.StatusPaid)
	paid.PaidAmount = 6000
	paidAt := time.Now().Add(-6 * time.Minute)
	paid.PaidAt = &paidAt

	f := newDetectorFixture(Config{StartTimeout: 5 * time.Minute}, paid)
	ctx := context.Background()

	remedied, err := f.detector.ScanStartTimeouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, remedied)

	current, _ := f.orderRepo.GetByID(ctx, 1)
	assert.Equal(t, etorder.StatusRefunding, current.Status)
	assert.Equal(t, []int64{6000}, f.ledgerGW.refunds)
	assert.Len(t, f.notifyGW.userMsgs, 1)
	// 首次失败不打维护标记
	assert.Empty(t, f.deviceGW.maintenance)
}

func TestStartTimeoutRefundFailureSurfaced(t *testing.T) {
	paid := orderWith(1, etorder.StatusPaid)
	paid.PaidAmount = 6000
	paidAt := time.Now().Add(-6 * time.Minute)
	paid.PaidAt = &paidAt

	f := newDetectorFixture(Config{}, paid)
	f.ledgerGW.fail = true
	ctx := context.Background()

	remedied, err := f.detector.ScanStartTimeouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, remedied)

	// 退款未落地时订单保持 PAID，失败上抛管理端；下一轮扫描仍能取到
	current, _ := f.orderRepo.GetByID(ctx, 1)
	assert.Equal(t, etorder.StatusPaid, current.Status)
	require.Len(t, f.notifyGW.adminAlerts, 1)
	assert.Equal(t, "remedy_failure", f.notifyGW.adminAlerts[0].Type)
	assert.Empty(t, f.ledgerGW.refunds)

	// 账务恢复后下一轮扫描补上退款
	f.ledgerGW.fail = false
	remedied, err = f.detector.ScanStartTimeouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, remedied)

	current, _ = f.orderRepo.GetByID(ctx, 1)
	assert.Equal(t, etorder.StatusRefunding, current.Status)
	assert.Equal(t, []int64{6000}, f.ledgerGW.refunds)
}

func TestRepeatedStartFailureMarksMaintenance(t *testing.T) {
	paid := orderWith(1, etorder.StatusPaid)
	paid.PaidAmount = 6000
	paidAt := time.Now().Add(-6 * time.Minute)
	paid.PaidAt = &paidAt

	f := newDetectorFixture(Config{}, paid)
	// 同设备此前已有一次启动失败
	f.counter.counts["timeout:device_fail:4001"] = 1
	ctx := context.Background()

	remedied, err := f.detector.ScanStartTimeouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, remedied)
	assert.Equal(t, []int64{4001}, f.deviceGW.maintenance)
}

// ---- 使用超时 ----

func TestScanUsageOvertimes(t *testing.T) {
	overtime := orderWith(1, etorder.StatusInUse)
	startAt := time.Now().Add(-65 * time.Minute) // 购买 30 分钟，已用 65
	overtime.StartAt = &startAt

	within := orderWith(2, etorder.StatusInUse)
	withinStart := time.Now().Add(-40 * time.Minute) // 未到两倍
	within.StartAt = &withinStart

	f := newDetectorFixture(Config{AlertOvertimeMin: 90}, overtime, within)
	ctx := context.Background()

	remedied, err := f.detector.ScanUsageOvertimes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, remedied)

	// 强制结算：计费时长改按实际用时，状态推进到 DONE
	settled, _ := f.orderRepo.GetByID(ctx, 1)
	assert.Equal(t, etorder.StatusDone, settled.Status)
	assert.Equal(t, 65, settled.ActualMinutes)
	assert.Equal(t, 65, settled.DurationMinutes)
	require.NotNil(t, settled.EndAt)

	inUse, _ := f.orderRepo.GetByID(ctx, 2)
	assert.Equal(t, etorder.StatusInUse, inUse.Status)

	assert.Equal(t, []int64{4001}, f.deviceGW.released)
	assert.Len(t, f.notifyGW.userMsgs, 1)
	// 实际用时 65 分钟未到告警阈值
	assert.Empty(t, f.notifyGW.adminAlerts)
}

func TestSevereOvertimeAlertsAdmins(t *testing.T) {
	overtime := orderWith(1, etorder.StatusInUse)
	// 购买 30 分钟实际用 100：超出量只有 70，但实际用时已过阈值，必须告警
	startAt := time.Now().Add(-100 * time.Minute)
	overtime.StartAt = &startAt

	f := newDetectorFixture(Config{AlertOvertimeMin: 90}, overtime)
	ctx := context.Background()

	remedied, err := f.detector.ScanUsageOvertimes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, remedied)
	require.Len(t, f.notifyGW.adminAlerts, 1)
	assert.Equal(t, "usage_overtime", f.notifyGW.adminAlerts[0].Type)
	assert.Contains(t, f.notifyGW.adminAlerts[0].Content, "100")
}
