package etexception

import (
	"errors"
	"time"
)

// 错误定义
var (
	ErrInvalidRuleID   = errors.New("rule ID cannot be empty")
	ErrNoConditions    = errors.New("rule must have at least one condition")
	ErrUnknownOperator = errors.New("unknown condition operator")
)

// ExceptionType 异常类型
type ExceptionType string

const (
	TypePaymentTimeout       ExceptionType = "payment_timeout"
	TypeDeviceStartTimeout   ExceptionType = "device_start_timeout"
	TypeUsageTimeout         ExceptionType = "usage_timeout"
	TypeSettlementTimeout    ExceptionType = "settlement_timeout"
	TypeHighValueException   ExceptionType = "high_value_exception"
	TypeFrequentCancellation ExceptionType = "frequent_cancellation"
	TypeDeviceMalfunction    ExceptionType = "device_malfunction"
	TypeSuspiciousActivity   ExceptionType = "suspicious_activity"
	TypePaymentFailure       ExceptionType = "payment_failure"
	TypeRefundAnomaly        ExceptionType = "refund_anomaly"
)

// Severity 异常严重程度
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityWeights 风险评分权重
var severityWeights = map[Severity]float64{
	SeverityLow:      10,
	SeverityMedium:   25,
	SeverityHigh:     50,
	SeverityCritical: 80,
}

// SeverityWeight 返回严重程度对应的风险权重
func SeverityWeight(s Severity) float64 {
	return severityWeights[s]
}

// RecordStatus 异常记录状态
type RecordStatus string

const (
	RecordStatusDetected   RecordStatus = "detected"   // 已检出
	RecordStatusProcessing RecordStatus = "processing" // 处理中
	RecordStatusResolved   RecordStatus = "resolved"   // 已解决
	RecordStatusEscalated  RecordStatus = "escalated"  // 已升级
	RecordStatusIgnored    RecordStatus = "ignored"    // 已忽略
)

// Record 异常记录
// 由分类器创建，补救工作流引擎与人工操作推进状态
type Record struct {
	ID          string                 // 记录ID（UUID）
	OrderID     int64                  // 订单ID
	Type        ExceptionType          // 异常类型
	Severity    Severity               // 严重程度
	RuleID      string                 // 触发规则ID
	Description string                 // 描述
	Details     map[string]interface{} // 详情
	Status      RecordStatus           // 记录状态
	DetectedAt  time.Time              // 检出时间
	ResolvedAt  *time.Time             // 解决时间
}

// MarkProcessing 标记为处理中
func (r *Record) MarkProcessing() {
	r.Status = RecordStatusProcessing
}

// MarkResolved 标记为已解决
func (r *Record) MarkResolved() {
	now := time.Now()
	r.Status = RecordStatusResolved
	r.ResolvedAt = &now
}

// MarkEscalated 标记为已升级
func (r *Record) MarkEscalated() {
	now := time.Now()
	r.Status = RecordStatusEscalated
	r.ResolvedAt = &now
}

// MarkIgnored 标记为已忽略
func (r *Record) MarkIgnored() {
	now := time.Now()
	r.Status = RecordStatusIgnored
	r.ResolvedAt = &now
}

// IsClosed 是否已终结（resolved/escalated/ignored）
func (r *Record) IsClosed() bool {
	switch r.Status {
	case RecordStatusResolved, RecordStatusEscalated, RecordStatusIgnored:
		return true
	}
	return false
}

// ActionType 规则动作类型
type ActionType string

const (
	ActionNotify      ActionType = "notify"       // 发送通知
	ActionEscalate    ActionType = "escalate"     // 升级告警
	ActionAutoResolve ActionType = "auto_resolve" // 自动解决
	ActionWorkflow    ActionType = "workflow"     // 触发补救工作流
	ActionBlock       ActionType = "block"        // 拦截（冻结用户/设备）
)

// Action 规则动作
type Action struct {
	Type   ActionType             // 动作类型
	Config map[string]interface{} // 动作配置
	Delay  time.Duration          // 延迟执行时间（0 表示立即）
}

// Rule 异常规则（数据而非代码：可热启停、独立版本化）
type Rule struct {
	ID         string        // 规则ID
	Name       string        // 规则名称
	Type       ExceptionType // 触发的异常类型
	Severity   Severity      // 严重程度
	Priority   int           // 优先级（同分排序用）
	Enabled    bool          // 是否启用
	Conditions []Condition   // 条件列表（AND 组合）
	Actions    []Action      // 动作列表
}

// Validate 校验规则定义
func (r *Rule) Validate() error {
	if r.ID == "" {
		return ErrInvalidRuleID
	}
	if len(r.Conditions) == 0 {
		return ErrNoConditions
	}
	for _, c := range r.Conditions {
		if !IsValidOperator(c.Operator) {
			return ErrUnknownOperator
		}
	}
	return nil
}

// RiskContribution 计算规则命中后的风险评分贡献
// score = severityWeight * (1 + priority * 0.1)
func (r *Rule) RiskContribution() float64 {
	return SeverityWeight(r.Severity) * (1 + float64(r.Priority)*0.1)
}

// ClampScore 将风险评分收敛到 [0, 100]
func ClampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
