package svexception

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"sdp/ordercore/internal/app/domains/entity/etexception"
	"sdp/ordercore/internal/app/domains/entity/etorder"
	"sdp/ordercore/internal/app/domains/gateway/notify"
	"sdp/ordercore/internal/app/domains/repo/rpexception"
	"sdp/ordercore/internal/app/domains/repo/rporder"
	"sdp/ordercore/internal/app/pkg/logger"
)

// batchConcurrency 批量分析并发上限
const batchConcurrency = 5

// WorkflowStarter 工作流启动入口（规则动作触发补救流程用）
type WorkflowStarter interface {
	StartWorkflow(ctx context.Context, templateID string, orderID int64, variables map[string]interface{}) (string, error)
}

// AnalysisResult 单笔订单的分析结果
type AnalysisResult struct {
	OrderID    int64                  // 订单ID
	RiskScore  float64                // 累计风险评分 [0, 100]
	Records    []*etexception.Record  // 新增异常记录
	FiredRules []string               // 命中规则ID
	Features   map[string]interface{} // 本次评估用到的上下文快照
	AnalyzedAt time.Time              // 分析时间
}

// Classifier 异常分类器
// 对订单逐条评估启用规则（优先级降序），命中即产出异常记录、
// 累计风险评分并调度规则动作
type Classifier struct {
	orderRepo     rporder.OrderRepository
	exceptionRepo rpexception.ExceptionRepository
	rules         *RuleSet
	provider      FeatureProvider
	workflows     WorkflowStarter
	notifyGW      notify.Gateway
	logger        logger.Logger
}

func NewClassifier(
	orderRepo rporder.OrderRepository,
	exceptionRepo rpexception.ExceptionRepository,
	rules *RuleSet,
	provider FeatureProvider,
	workflows WorkflowStarter,
	notifyGW notify.Gateway,
	log logger.Logger,
) *Classifier {
	return &Classifier{
		orderRepo:     orderRepo,
		exceptionRepo: exceptionRepo,
		rules:         rules,
		provider:      provider,
		workflows:     workflows,
		notifyGW:      notifyGW,
		logger:        log,
	}
}

// GetRules 返回全部规则（优先级降序）
func (c *Classifier) GetRules() []*etexception.Rule {
	return c.rules.List()
}

// ToggleRule 热开关规则
func (c *Classifier) ToggleRule(ruleID string, enabled bool) error {
	return c.rules.Toggle(ruleID, enabled)
}

// AnalyzeOrder 分析单笔订单
func (c *Classifier) AnalyzeOrder(ctx context.Context, orderID int64) (*AnalysisResult, error) {
	order, err := c.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("analyze order %d: %w", orderID, err)
	}

	evalCtx := c.baseContext(order)
	result := &AnalysisResult{
		OrderID:    orderID,
		Features:   evalCtx,
		AnalyzedAt: time.Now(),
	}

	for _, rule := range c.rules.Enabled() {
		c.fillFeatures(ctx, orderID, rule, evalCtx)

		fired, err := etexception.EvaluateAll(rule.Conditions, evalCtx)
		if err != nil {
			c.logger.Warnf(ctx, "[Classifier] Rule evaluation failed: rule=%s order_id=%d error=%v",
				rule.ID, orderID, err)
			continue
		}
		if !fired {
			continue
		}

		result.FiredRules = append(result.FiredRules, rule.ID)
		result.RiskScore += rule.RiskContribution()

		record, err := c.emitRecord(ctx, order, rule, evalCtx)
		if err != nil {
			c.logger.Errorf(ctx, "[Classifier] Emit record failed: rule=%s order_id=%d error=%v",
				rule.ID, orderID, err)
		} else if record != nil {
			result.Records = append(result.Records, record)
		}

		c.scheduleActions(ctx, rule, order, record)
	}

	result.RiskScore = etexception.ClampScore(result.RiskScore)
	if len(result.FiredRules) > 0 {
		c.logger.Infof(ctx, "[Classifier] Order analyzed: order_id=%d fired=%d score=%.1f",
			orderID, len(result.FiredRules), result.RiskScore)
	}
	return result, nil
}

// BatchAnalyze 批量分析
// 并发上限 5，单笔失败只记日志不拖垮整批，返回成功部分
func (c *Classifier) BatchAnalyze(ctx context.Context, orderIDs []int64) []*AnalysisResult {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		sem     = make(chan struct{}, batchConcurrency)
		results = make([]*AnalysisResult, 0, len(orderIDs))
	)

	for _, orderID := range orderIDs {
		wg.Add(1)
		sem <- struct{}{}
		go func(id int64) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					c.logger.Errorf(ctx, "[Classifier] Analyze panic: order_id=%d panic=%v", id, r)
				}
			}()

			result, err := c.AnalyzeOrder(ctx, id)
			if err != nil {
				c.logger.Warnf(ctx, "[Classifier] Analyze failed: order_id=%d error=%v", id, err)
				return
			}
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		}(orderID)
	}

	wg.Wait()
	return results
}

// baseContext 订单字段构成的基础评估上下文
func (c *Classifier) baseContext(order *etorder.Order) map[string]interface{} {
	now := time.Now()
	evalCtx := map[string]interface{}{
		"status":           string(order.Status),
		"amount":           order.Amount,
		"paid_amount":      order.PaidAmount,
		"refund_amount":    order.RefundAmount,
		"payment_method":   order.PaymentMethod,
		"duration_minutes": order.DurationMinutes,
		"user_id":          order.UserID,
		"merchant_id":      order.MerchantID,
		"device_id":        order.DeviceID,
	}
	if order.StartAt != nil {
		elapsed := order.ElapsedMinutes(now)
		evalCtx["elapsed_minutes"] = elapsed
		if order.DurationMinutes > 0 {
			evalCtx["overtime_ratio"] = float64(elapsed) / float64(order.DurationMinutes)
		}
	}
	if order.PaidAmount > 0 {
		evalCtx["refund_ratio"] = float64(order.RefundAmount) / float64(order.PaidAmount)
	}
	return evalCtx
}

// fillFeatures 按规则条件按需拉取派生信号
// 信号拉取失败不阻断评估，对应条件按缺失字段处理（不命中）
func (c *Classifier) fillFeatures(ctx context.Context, orderID int64, rule *etexception.Rule, evalCtx map[string]interface{}) {
	for _, cond := range rule.Conditions {
		if _, exists := evalCtx[cond.Field]; exists {
			continue
		}
		value, ok, err := c.provider.Get(ctx, orderID, cond.Field)
		if err != nil {
			c.logger.Warnf(ctx, "[Classifier] Feature fetch failed: field=%s order_id=%d error=%v",
				cond.Field, orderID, err)
			continue
		}
		if ok {
			evalCtx[cond.Field] = value
		}
	}
}

// emitRecord 产出异常记录
// 同订单同类型已有未终结记录时去重（双扫描/重复分析安全）
func (c *Classifier) emitRecord(ctx context.Context, order *etorder.Order, rule *etexception.Rule, evalCtx map[string]interface{}) (*etexception.Record, error) {
	exists, err := c.exceptionRepo.HasOpenRecord(ctx, order.ID, rule.Type)
	if err != nil {
		return nil, fmt.Errorf("dedup check failed: %w", err)
	}
	if exists {
		return nil, nil
	}

	details := map[string]interface{}{
		"order_no": order.OrderNo,
		"status":   string(order.Status),
	}
	for _, cond := range rule.Conditions {
		if v, ok := evalCtx[cond.Field]; ok {
			details[cond.Field] = v
		}
	}

	record := &etexception.Record{
		ID:          uuid.New().String(),
		OrderID:     order.ID,
		Type:        rule.Type,
		Severity:    rule.Severity,
		RuleID:      rule.ID,
		Description: fmt.Sprintf("规则 %s 命中: %s", rule.ID, rule.Name),
		Details:     details,
		Status:      etexception.RecordStatusDetected,
		DetectedAt:  time.Now(),
	}
	if err := c.exceptionRepo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("persist record failed: %w", err)
	}
	return record, nil
}

// scheduleActions 调度规则动作
// Delay > 0 的动作延迟触发；动作失败只记日志（尽力而为）
func (c *Classifier) scheduleActions(ctx context.Context, rule *etexception.Rule, order *etorder.Order, record *etexception.Record) {
	for _, action := range rule.Actions {
		action := action
		if action.Delay > 0 {
			time.AfterFunc(action.Delay, func() {
				c.dispatchAction(context.Background(), rule, order, record, action)
			})
			continue
		}
		c.dispatchAction(ctx, rule, order, record, action)
	}
}

func (c *Classifier) dispatchAction(ctx context.Context, rule *etexception.Rule, order *etorder.Order, record *etexception.Record, action etexception.Action) {
	var err error

	switch action.Type {
	case etexception.ActionNotify:
		err = c.doNotify(ctx, order, action)

	case etexception.ActionEscalate:
		title, _ := action.Config["title"].(string)
		if title == "" {
			title = rule.Name
		}
		err = c.notifyGW.SendToAdmins(ctx, &notify.AdminAlert{
			Title:    title,
			Content:  fmt.Sprintf("订单 %s 触发规则 %s", order.OrderNo, rule.ID),
			Type:     "exception_escalation",
			Priority: string(rule.Severity),
			OrderID:  order.ID,
		})
		if err == nil && record != nil {
			record.MarkEscalated()
			err = c.exceptionRepo.UpdateStatus(ctx, record.ID, record.Status, record.ResolvedAt)
		}

	case etexception.ActionWorkflow:
		templateID, _ := action.Config["template_id"].(string)
		_, err = c.workflows.StartWorkflow(ctx, templateID, order.ID, map[string]interface{}{
			"rule_id":        rule.ID,
			"exception_type": string(rule.Type),
		})
		if err == nil && record != nil {
			record.MarkProcessing()
			err = c.exceptionRepo.UpdateStatus(ctx, record.ID, record.Status, nil)
		}

	case etexception.ActionAutoResolve:
		if record != nil {
			record.MarkResolved()
			err = c.exceptionRepo.UpdateStatus(ctx, record.ID, record.Status, record.ResolvedAt)
		}

	case etexception.ActionBlock:
		reason, _ := action.Config["reason"].(string)
		err = c.notifyGW.SendToAdmins(ctx, &notify.AdminAlert{
			Title:    "账户拦截请求",
			Content:  fmt.Sprintf("用户 %d 触发拦截规则 %s: %s", order.UserID, rule.ID, reason),
			Type:     "block_request",
			Priority: "critical",
			OrderID:  order.ID,
		})

	default:
		c.logger.Warnf(ctx, "[Classifier] Unknown action type: rule=%s type=%s", rule.ID, action.Type)
		return
	}

	if err != nil {
		c.logger.Errorf(ctx, "[Classifier] Action dispatch failed: rule=%s type=%s order_id=%d error=%v",
			rule.ID, action.Type, order.ID, err)
	}
}

// doNotify 按 target 分发用户/管理员通知
func (c *Classifier) doNotify(ctx context.Context, order *etorder.Order, action etexception.Action) error {
	target, _ := action.Config["target"].(string)
	title, _ := action.Config["title"].(string)
	content, _ := action.Config["content"].(string)

	if target == "admins" {
		return c.notifyGW.SendToAdmins(ctx, &notify.AdminAlert{
			Title:    title,
			Content:  content,
			Type:     "exception_notice",
			Priority: "medium",
			OrderID:  order.ID,
		})
	}
	return c.notifyGW.SendToUser(ctx, order.UserID, &notify.UserMessage{
		Title:   title,
		Content: content,
		Type:    "exception_notice",
		Data:    map[string]interface{}{"order_no": order.OrderNo},
	})
}
