package svexception

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sdp/ordercore/internal/app/domains/entity/etexception"
	"sdp/ordercore/internal/app/domains/entity/etorder"
	"sdp/ordercore/internal/app/domains/gateway/notify"
	"sdp/ordercore/internal/app/domains/repo/rpexception"
	"sdp/ordercore/internal/app/domains/repo/rporder"
	"sdp/ordercore/internal/app/pkg/errorx"
	"sdp/ordercore/internal/app/pkg/logger"
)

// ---- 测试替身 ----

type fakeOrderRepo struct {
	rporder.OrderRepository
	mu           sync.Mutex
	orders       map[int64]*etorder.Order
	totalSince   int64                         // CountByUserTotalSince 返回值
	statusCounts map[etorder.OrderStatus]int64 // CountByUserSince 按状态返回值
}

func newFakeOrderRepo(orders ...*etorder.Order) *fakeOrderRepo {
	r := &fakeOrderRepo{orders: make(map[int64]*etorder.Order)}
	for _, o := range orders {
		r.orders[o.ID] = o
	}
	return r
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

func (r *fakeOrderRepo) CountByUserTotalSince(ctx context.Context, userID int64, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalSince, nil
}

func (r *fakeOrderRepo) CountByUserSince(ctx context.Context, userID int64, status etorder.OrderStatus, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusCounts[status], nil
}

type fakeExceptionRepo struct {
	mu      sync.Mutex
	records map[string]*etexception.Record
}

func newFakeExceptionRepo() *fakeExceptionRepo {
	return &fakeExceptionRepo{records: make(map[string]*etexception.Record)}
}

func (r *fakeExceptionRepo) Create(ctx context.Context, record *etexception.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *record
	r.records[record.ID] = &cp
	return nil
}

func (r *fakeExceptionRepo) GetByID(ctx context.Context, recordID string) (*etexception.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[recordID]
	if !ok {
		return nil, errorx.ErrRecordNotFound
	}
	cp := *record
	return &cp, nil
}

func (r *fakeExceptionRepo) Find(ctx context.Context, filter rpexception.Filter) ([]*etexception.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*etexception.Record
	for _, record := range r.records {
		if filter.OrderID != 0 && record.OrderID != filter.OrderID {
			continue
		}
		cp := *record
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeExceptionRepo) UpdateStatus(ctx context.Context, recordID string, status etexception.RecordStatus, resolvedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[recordID]
	if !ok {
		return errorx.ErrRecordNotFound
	}
	record.Status = status
	record.ResolvedAt = resolvedAt
	return nil
}

func (r *fakeExceptionRepo) HasOpenRecord(ctx context.Context, orderID int64, typ etexception.ExceptionType) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range r.records {
		if record.OrderID != orderID || record.Type != typ {
			continue
		}
		if record.Status == etexception.RecordStatusDetected || record.Status == etexception.RecordStatusProcessing {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeExceptionRepo) PruneBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeExceptionRepo) byOrder(orderID int64) []*etexception.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*etexception.Record
	for _, record := range r.records {
		if record.OrderID == orderID {
			cp := *record
			out = append(out, &cp)
		}
	}
	return out
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

func (g *fakeNotifyGateway) alertTypes() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.adminAlerts))
	for _, alert := range g.adminAlerts {
		out = append(out, alert.Type)
	}
	return out
}

type startedWorkflow struct {
	templateID string
	orderID    int64
	variables  map[string]interface{}
}

type fakeWorkflowStarter struct {
	mu      sync.Mutex
	started []startedWorkflow
}

func (s *fakeWorkflowStarter) StartWorkflow(ctx context.Context, templateID string, orderID int64, variables map[string]interface{}) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, startedWorkflow{templateID: templateID, orderID: orderID, variables: variables})
	return fmt.Sprintf("exec-%d", len(s.started)), nil
}

// ---- 组装 ----

type classifierFixture struct {
	classifier    *Classifier
	orderRepo     *fakeOrderRepo
	exceptionRepo *fakeExceptionRepo
	notifyGW      *fakeNotifyGateway
	workflows     *fakeWorkflowStarter
}

func newClassifierFixture(t *testing.T, features map[string]interface{}, orders ...*etorder.Order) *classifierFixture {
	t.Helper()

	rules, err := NewDefaultRuleSet()
	require.NoError(t, err)

	orderRepo := newFakeOrderRepo(orders...)
	exceptionRepo := newFakeExceptionRepo()
	notifyGW := &fakeNotifyGateway{}
	workflows := &fakeWorkflowStarter{}
	provider := &StaticProvider{Features: features}

	return &classifierFixture{
		classifier:    NewClassifier(orderRepo, exceptionRepo, rules, provider, workflows, notifyGW, logger.NopLogger{}),
		orderRepo:     orderRepo,
		exceptionRepo: exceptionRepo,
		notifyGW:      notifyGW,
		workflows:     workflows,
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

// ---- 用例 ----

func TestAnalyzeOrderHighValuePending(t *testing.T) {
	order := orderWith(1, etorder.StatusPayPending)
	order.Amount = 60000
	f := newClassifierFixture(t, nil, order)

	result, err := f.classifier.AnalyzeOrder(context.Background(), 1)
	require.NoError(t, err)

	// HIGH(50) × (1 + 8×0.1) = 90
	assert.Equal(t, []string{"rule_high_value_pending"}, result.FiredRules)
	assert.InDelta(t, 90.0, result.RiskScore, 0.01)

	require.Len(t, result.Records, 1)
	assert.Equal(t, etexception.TypeHighValueException, result.Records[0].Type)
	assert.Equal(t, "rule_high_value_pending", result.Records[0].RuleID)

	// notify 动作：管理端收到提醒
	assert.Equal(t, []string{"exception_notice"}, f.notifyGW.alertTypes())
}

func TestAnalyzeOrderNoRuleFires(t *testing.T) {
	f := newClassifierFixture(t, nil, orderWith(1, etorder.StatusPayPending))

	result, err := f.classifier.AnalyzeOrder(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, result.FiredRules)
	assert.Zero(t, result.RiskScore)
	assert.Empty(t, result.Records)
	assert.Empty(t, f.exceptionRepo.byOrder(1))
}

func TestAnalyzeOrderDedupOpenRecord(t *testing.T) {
	order := orderWith(1, etorder.StatusPayPending)
	order.Amount = 60000
	f := newClassifierFixture(t, nil, order)
	ctx := context.Background()

	first, err := f.classifier.AnalyzeOrder(ctx, 1)
	require.NoError(t, err)
	require.Len(t, first.Records, 1)

	// 重复分析：规则仍命中计分，但不产生第二条未终结记录
	second, err := f.classifier.AnalyzeOrder(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"rule_high_value_pending"}, second.FiredRules)
	assert.Empty(t, second.Records)
	assert.Len(t, f.exceptionRepo.byOrder(1), 1)
}

func TestAnalyzeOrderStartsWorkflow(t *testing.T) {
	order := orderWith(1, etorder.StatusInUse)
	startAt := time.Now().Add(-65 * time.Minute) // 购买 30 分钟，超时比 ≈ 2.17
	order.StartAt = &startAt
	f := newClassifierFixture(t, nil, order)

	result, err := f.classifier.AnalyzeOrder(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"rule_usage_overtime"}, result.FiredRules)

	require.Len(t, f.workflows.started, 1)
	assert.Equal(t, "usage_overtime_settle", f.workflows.started[0].templateID)
	assert.Equal(t, int64(1), f.workflows.started[0].orderID)
	assert.Equal(t, "rule_usage_overtime", f.workflows.started[0].variables["rule_id"])

	// 补救流程已接管：记录推进为处理中
	records := f.exceptionRepo.byOrder(1)
	require.Len(t, records, 1)
	assert.Equal(t, etexception.RecordStatusProcessing, records[0].Status)
}

func TestAnalyzeOrderRefundAnomalyEscalates(t *testing.T) {
	order := orderWith(1, etorder.StatusRefunding)
	order.PaidAmount = 1000
	order.RefundAmount = 1500 // refund_ratio 1.5
	f := newClassifierFixture(t, nil, order)

	result, err := f.classifier.AnalyzeOrder(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"rule_refund_anomaly"}, result.FiredRules)
	// CRITICAL(80) × 1.9 = 152，封顶 100
	assert.Equal(t, 100.0, result.RiskScore)

	// escalate + block 两个动作
	assert.Equal(t, []string{"exception_escalation", "block_request"}, f.notifyGW.alertTypes())

	records := f.exceptionRepo.byOrder(1)
	require.Len(t, records, 1)
	assert.Equal(t, etexception.RecordStatusEscalated, records[0].Status)
}

func TestAnalyzeOrderUsesFeatureProvider(t *testing.T) {
	// 派生信号由特征源注入：24 小时内取消 5 次
	f := newClassifierFixture(t, map[string]interface{}{
		"cancellation_frequency": int64(5),
	}, orderWith(1, etorder.StatusCancelled))

	result, err := f.classifier.AnalyzeOrder(context.Background(), 1)
	require.NoError(t, err)
	assert.Contains(t, result.FiredRules, "rule_frequent_cancellation")
	assert.Equal(t, int64(5), result.Features["cancellation_frequency"])
}

func TestAnalyzeOrderNotFound(t *testing.T) {
	f := newClassifierFixture(t, nil)
	_, err := f.classifier.AnalyzeOrder(context.Background(), 404)
	assert.ErrorIs(t, err, errorx.ErrOrderNotFound)
}

func TestToggleRule(t *testing.T) {
	order := orderWith(1, etorder.StatusPayPending)
	order.Amount = 60000
	f := newClassifierFixture(t, nil, order)
	ctx := context.Background()

	require.NoError(t, f.classifier.ToggleRule("rule_high_value_pending", false))

	result, err := f.classifier.AnalyzeOrder(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, result.FiredRules)

	// 重新启用后恢复命中
	require.NoError(t, f.classifier.ToggleRule("rule_high_value_pending", true))
	result, err = f.classifier.AnalyzeOrder(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"rule_high_value_pending"}, result.FiredRules)

	assert.ErrorIs(t, f.classifier.ToggleRule("rule_missing", true), errorx.ErrRuleNotFound)
}

func TestGetRulesPriorityOrder(t *testing.T) {
	f := newClassifierFixture(t, nil)
	rules := f.classifier.GetRules()
	require.NotEmpty(t, rules)
	for i := 1; i < len(rules); i++ {
		assert.GreaterOrEqual(t, rules[i-1].Priority, rules[i].Priority)
	}
}

func TestBatchAnalyzePartialFailure(t *testing.T) {
	high := orderWith(1, etorder.StatusPayPending)
	high.Amount = 60000
	normal := orderWith(2, etorder.StatusPayPending)
	f := newClassifierFixture(t, nil, high, normal)

	// 订单 3 不存在：跳过，不影响整批
	results := f.classifier.BatchAnalyze(context.Background(), []int64{1, 2, 3})
	require.Len(t, results, 2)

	byID := make(map[int64]*AnalysisResult, len(results))
	for _, r := range results {
		byID[r.OrderID] = r
	}
	assert.Equal(t, []string{"rule_high_value_pending"}, byID[1].FiredRules)
	assert.Empty(t, byID[2].FiredRules)
}
