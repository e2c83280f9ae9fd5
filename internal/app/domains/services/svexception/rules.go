package svexception

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"sdp/ordercore/internal/app/domains/entity/etexception"
	"sdp/ordercore/internal/app/pkg/errorx"
)

// RuleSet 规则注册表
// 规则可热开关，评估端按优先级降序遍历启用规则
type RuleSet struct {
	mu    sync.RWMutex
	rules map[string]*etexception.Rule
}

// NewRuleSet 创建空注册表
func NewRuleSet() *RuleSet {
	return &RuleSet{rules: make(map[string]*etexception.Rule)}
}

// NewDefaultRuleSet 创建内置默认规则集
func NewDefaultRuleSet() (*RuleSet, error) {
	rs := NewRuleSet()
	for _, rule := range defaultRules() {
		if err := rs.Register(rule); err != nil {
			return nil, fmt.Errorf("register default rule %s: %w", rule.ID, err)
		}
	}
	return rs, nil
}

// Register 注册规则（先校验）
func (rs *RuleSet) Register(rule *etexception.Rule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid rule %s: %w", rule.ID, err)
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.rules[rule.ID] = rule
	return nil
}

// Get 按 ID 查找规则
func (rs *RuleSet) Get(ruleID string) (*etexception.Rule, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	rule, ok := rs.rules[ruleID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errorx.ErrRuleNotFound, ruleID)
	}
	return rule, nil
}

// List 返回全部规则，优先级降序，同优先级按 ID 稳定排序
func (rs *RuleSet) List() []*etexception.Rule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	out := make([]*etexception.Rule, 0, len(rs.rules))
	for _, rule := range rs.rules {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Enabled 返回启用规则，优先级降序
func (rs *RuleSet) Enabled() []*etexception.Rule {
	all := rs.List()
	out := all[:0:0]
	for _, rule := range all {
		if rule.Enabled {
			out = append(out, rule)
		}
	}
	return out
}

// Toggle 热开关规则
func (rs *RuleSet) Toggle(ruleID string, enabled bool) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rule, ok := rs.rules[ruleID]
	if !ok {
		return fmt.Errorf("%w: %s", errorx.ErrRuleNotFound, ruleID)
	}
	rule.Enabled = enabled
	return nil
}

// defaultRules 内置规则
// 阈值来自运营约定：金额单位为分，时间窗口单位为分钟
func defaultRules() []*etexception.Rule {
	return []*etexception.Rule{
		{
			ID:       "rule_high_value_pending",
			Name:     "大额订单支付挂起",
			Type:     etexception.TypeHighValueException,
			Severity: etexception.SeverityHigh,
			Priority: 8,
			Enabled:  true,
			Conditions: []etexception.Condition{
				{Field: "amount", Operator: etexception.OpGt, Value: 50000},
				{Field: "status", Operator: etexception.OpIn, Value: []interface{}{"PAY_PENDING", "PAID"}},
			},
			Actions: []etexception.Action{
				{Type: etexception.ActionNotify, Config: map[string]interface{}{
					"target": "admins", "title": "大额订单待跟进",
				}},
			},
		},
		{
			ID:       "rule_frequent_cancellation",
			Name:     "用户频繁取消",
			Type:     etexception.TypeFrequentCancellation,
			Severity: etexception.SeverityMedium,
			Priority: 5,
			Enabled:  true,
			Conditions: []etexception.Condition{
				{Field: "cancellation_frequency", Operator: etexception.OpGte, Value: 3, Window: 24 * time.Hour},
			},
			Actions: []etexception.Action{
				{Type: etexception.ActionEscalate, Config: map[string]interface{}{
					"title": "用户 24 小时内取消超限",
				}},
			},
		},
		{
			ID:       "rule_low_payment_success",
			Name:     "用户支付成功率过低",
			Type:     etexception.TypeSuspiciousActivity,
			Severity: etexception.SeverityMedium,
			Priority: 4,
			Enabled:  true,
			Conditions: []etexception.Condition{
				{Field: "payment_success_rate", Operator: etexception.OpLt, Value: 0.5},
				{Field: "cancellation_frequency", Operator: etexception.OpGte, Value: 1},
			},
			Actions: []etexception.Action{
				{Type: etexception.ActionNotify, Config: map[string]interface{}{
					"target": "admins", "title": "疑似异常用户行为",
				}},
			},
		},
		{
			ID:       "rule_device_failure_rate",
			Name:     "设备故障率偏高",
			Type:     etexception.TypeDeviceMalfunction,
			Severity: etexception.SeverityHigh,
			Priority: 7,
			Enabled:  true,
			Conditions: []etexception.Condition{
				{Field: "device_failure_rate", Operator: etexception.OpGt, Value: 0.3},
				{Field: "status", Operator: etexception.OpIn, Value: []interface{}{"STARTING", "IN_USE"}},
			},
			Actions: []etexception.Action{
				{Type: etexception.ActionWorkflow, Config: map[string]interface{}{
					"template_id": "device_start_failure",
				}},
			},
		},
		{
			ID:       "rule_usage_overtime",
			Name:     "使用严重超时",
			Type:     etexception.TypeUsageTimeout,
			Severity: etexception.SeverityHigh,
			Priority: 6,
			Enabled:  true,
			Conditions: []etexception.Condition{
				{Field: "status", Operator: etexception.OpEq, Value: "IN_USE"},
				{Field: "overtime_ratio", Operator: etexception.OpGt, Value: 2.0},
			},
			Actions: []etexception.Action{
				{Type: etexception.ActionWorkflow, Config: map[string]interface{}{
					"template_id": "usage_overtime_settle",
				}},
			},
		},
		{
			ID:       "rule_refund_anomaly",
			Name:     "退款金额异常",
			Type:     etexception.TypeRefundAnomaly,
			Severity: etexception.SeverityCritical,
			Priority: 9,
			Enabled:  true,
			Conditions: []etexception.Condition{
				{Field: "refund_ratio", Operator: etexception.OpGt, Value: 1.0},
			},
			Actions: []etexception.Action{
				{Type: etexception.ActionEscalate, Config: map[string]interface{}{
					"title": "退款金额超出已支付金额",
				}},
				{Type: etexception.ActionBlock, Config: map[string]interface{}{
					"reason": "refund anomaly",
				}},
			},
		},
		{
			ID:       "rule_payment_failure_streak",
			Name:     "用户连续支付失败",
			Type:     etexception.TypePaymentFailure,
			Severity: etexception.SeverityLow,
			Priority: 2,
			Enabled:  true,
			Conditions: []etexception.Condition{
				{Field: "status", Operator: etexception.OpIn, Value: []interface{}{"CLOSED", "CANCELLED"}},
				{Field: "payment_success_rate", Operator: etexception.OpLt, Value: 0.8},
			},
			Actions: []etexception.Action{
				{Type: etexception.ActionNotify, Config: map[string]interface{}{
					"target": "user", "title": "支付遇到问题？",
					"content": "您最近多笔订单未完成支付，如需帮助请联系客服",
				}, Delay: 10 * time.Minute},
			},
		},
	}
}
