package svworkflow

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"sdp/ordercore/internal/app/domains/entity/etexception"
	"sdp/ordercore/internal/app/domains/entity/etworkflow"
)

// 内置模板 ID
const (
	TemplatePaymentTimeout    = "payment_timeout_remediation"
	TemplateDeviceStartFailed = "device_start_failure"
	TemplateUsageOvertime     = "usage_overtime_settle"
	TemplateReviewDecision    = "review_decision"
)

// Registry 工作流模板注册表
// 模板为纯数据，注册时执行图校验（悬空指针/不可达终止边在加载期暴露）
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*etworkflow.Template
}

// NewRegistry 创建模板注册表
func NewRegistry() *Registry {
	return &Registry{
		templates: make(map[string]*etworkflow.Template),
	}
}

// Register 注册模板（校验失败拒绝注册）
func (r *Registry) Register(t *etworkflow.Template) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("template %s validation failed: %w", t.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.ID] = t
	return nil
}

// Get 按 ID 获取模板
func (r *Registry) Get(id string) (*etworkflow.Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	return t, ok
}

// List 列出全部模板（按 ID 排序）
func (r *Registry) List() []*etworkflow.Template {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*etworkflow.Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NewDefaultRegistry 创建并注册内置模板
func NewDefaultRegistry() (*Registry, error) {
	r := NewRegistry()
	for _, t := range []*etworkflow.Template{
		paymentTimeoutTemplate(),
		deviceStartFailureTemplate(),
		usageOvertimeTemplate(),
		reviewDecisionTemplate(),
	} {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// paymentTimeoutTemplate 支付超时补救
// 确认订单仍在待支付态 -> 取消 -> 通知用户
func paymentTimeoutTemplate() *etworkflow.Template {
	return &etworkflow.Template{
		ID:          TemplatePaymentTimeout,
		Name:        "支付超时补救",
		Version:     1,
		Description: "待支付订单超时后取消并释放设备",
		FirstStepID: "check_pay_pending",
		Steps: []etworkflow.Step{
			{
				ID:   "check_pay_pending",
				Name: "确认待支付状态",
				Type: etworkflow.StepCondition,
				Conditions: []etexception.Condition{
					{Field: "status", Operator: etexception.OpEq, Value: "PAY_PENDING"},
				},
				OnSuccess: "cancel_order",
				OnFailure: etworkflow.EndStepID, // 已被用户支付或取消，无需补救
			},
			{
				ID:         "cancel_order",
				Name:       "取消订单",
				Type:       etworkflow.StepAction,
				Config:     map[string]interface{}{"action": "cancel_order", "reason": "payment timeout"},
				RetryCount: 2,
				OnSuccess:  "notify_user",
			},
			{
				ID:   "notify_user",
				Name: "通知用户",
				Type: etworkflow.StepNotification,
				Config: map[string]interface{}{
					"target":  "user",
					"title":   "订单已取消",
					"content": "订单超时未支付，已自动取消",
					"type":    "order_cancelled",
				},
				OnSuccess: etworkflow.EndStepID,
			},
		},
	}
}

// deviceStartFailureTemplate 设备启动失败补救
// 重试启动；失败走退款，并按延迟层层升级：
// supervisor -> manager -> director（图结构，非链式直线）
func deviceStartFailureTemplate() *etworkflow.Template {
	return &etworkflow.Template{
		ID:          TemplateDeviceStartFailed,
		Name:        "设备启动失败处理",
		Version:     2,
		Description: "重试启动设备，失败则退款、标记维护并逐级升级",
		FirstStepID: "check_not_started",
		Variables: map[string]interface{}{
			"escalation_level": "supervisor",
		},
		Steps: []etworkflow.Step{
			{
				ID:   "check_not_started",
				Name: "确认未进入使用",
				Type: etworkflow.StepCondition,
				Conditions: []etexception.Condition{
					{Field: "status", Operator: etexception.OpIn, Value: []string{"PAID", "STARTING"}},
				},
				OnSuccess: "retry_start",
				OnFailure: etworkflow.EndStepID,
			},
			{
				ID:         "retry_start",
				Name:       "重试启动设备",
				Type:       etworkflow.StepAction,
				Config:     map[string]interface{}{"action": "retry_device_start"},
				RetryCount: 2,
				Timeout:    30 * time.Second,
				OnSuccess:  etworkflow.EndStepID,
				OnFailure:  "initiate_refund",
			},
			{
				ID:         "initiate_refund",
				Name:       "发起退款",
				Type:       etworkflow.StepAction,
				Config:     map[string]interface{}{"action": "initiate_refund", "reason": "device start failure"},
				RetryCount: 2,
				OnSuccess:  "mark_maintenance",
				OnFailure:  "notify_supervisor",
			},
			{
				ID:        "mark_maintenance",
				Name:      "标记设备维护",
				Type:      etworkflow.StepAction,
				Config:    map[string]interface{}{"action": "mark_device_maintenance", "reason": "repeated start failure"},
				OnSuccess: "notify_refund",
				OnFailure: "notify_refund", // 维护标记失败不阻断用户侧通知
			},
			{
				ID:   "notify_refund",
				Name: "通知用户退款",
				Type: etworkflow.StepNotification,
				Config: map[string]interface{}{
					"target":  "user",
					"title":   "退款处理中",
					"content": "设备启动失败，已为您发起退款",
					"type":    "refund_initiated",
				},
				OnSuccess: etworkflow.EndStepID,
			},
			// 升级链：每级告警后等待处理，无人处理则升级到下一级
			{
				ID:   "notify_supervisor",
				Name: "升级至值班主管",
				Type: etworkflow.StepNotification,
				Config: map[string]interface{}{
					"target":   "admins",
					"title":    "退款发起失败",
					"content":  "设备启动失败且退款发起失败，请人工介入",
					"type":     "refund_failure",
					"priority": "high",
				},
				OnSuccess: "wait_supervisor",
			},
			{
				ID:        "wait_supervisor",
				Name:      "等待主管处理",
				Type:      etworkflow.StepDelay,
				Config:    map[string]interface{}{"minutes": 15},
				OnSuccess: "check_refund_done",
			},
			{
				ID:   "check_refund_done",
				Name: "确认退款已推进",
				Type: etworkflow.StepCondition,
				Conditions: []etexception.Condition{
					{Field: "status", Operator: etexception.OpIn, Value: []string{"REFUNDING", "CLOSED"}},
				},
				OnSuccess: etworkflow.EndStepID,
				OnFailure: "notify_manager",
			},
			{
				ID:   "notify_manager",
				Name: "升级至经理",
				Type: etworkflow.StepNotification,
				Config: map[string]interface{}{
					"target":   "admins",
					"title":    "退款超时未处理",
					"content":  "主管超时未处理退款失败订单，升级至经理",
					"type":     "refund_failure_escalated",
					"priority": "critical",
				},
				OnSuccess: "wait_manager",
			},
			{
				ID:        "wait_manager",
				Name:      "等待经理处理",
				Type:      etworkflow.StepDelay,
				Config:    map[string]interface{}{"minutes": 30},
				OnSuccess: "check_refund_final",
			},
			{
				ID:   "check_refund_final",
				Name: "最终确认退款",
				Type: etworkflow.StepCondition,
				Conditions: []etexception.Condition{
					{Field: "status", Operator: etexception.OpIn, Value: []string{"REFUNDING", "CLOSED"}},
				},
				OnSuccess: etworkflow.EndStepID,
				OnFailure: "create_review_task",
			},
			{
				ID:   "create_review_task",
				Name: "创建人工审核任务并通报总监",
				Type: etworkflow.StepAction,
				Config: map[string]interface{}{
					"action": "create_manual_review_task",
					"reason": "refund failed after supervisor/manager escalation",
					"notify": "director",
				},
				OnSuccess: etworkflow.EndStepID,
			},
		},
	}
}

// usageOvertimeTemplate 使用超时善后
// 强制结算由超时扫描完成，模板负责通知与极端超时的人工升级，
// elapsed_minutes 由调用方写入执行变量
func usageOvertimeTemplate() *etworkflow.Template {
	return &etworkflow.Template{
		ID:          TemplateUsageOvertime,
		Name:        "使用超时善后",
		Version:     1,
		Description: "超时结算后的用户通知与极端超时升级",
		FirstStepID: "notify_overtime",
		Steps: []etworkflow.Step{
			{
				ID:   "notify_overtime",
				Name: "通知用户超时结算",
				Type: etworkflow.StepNotification,
				Config: map[string]interface{}{
					"target":  "user",
					"title":   "订单已结算",
					"content": "使用时长超出计划，订单已按实际时长结算",
					"type":    "usage_overtime_settled",
				},
				OnSuccess: "check_extreme",
			},
			{
				ID:   "check_extreme",
				Name: "判断极端超时",
				Type: etworkflow.StepCondition,
				Conditions: []etexception.Condition{
					{Field: "elapsed_minutes", Operator: etexception.OpGt, Value: 90},
				},
				OnSuccess: "alert_inspection",
				OnFailure: etworkflow.EndStepID,
			},
			{
				ID:   "alert_inspection",
				Name: "通报人工巡检",
				Type: etworkflow.StepNotification,
				Config: map[string]interface{}{
					"target":   "admins",
					"title":    "设备疑似未正常关停",
					"content":  "订单使用时长远超计划，请安排人工检查设备",
					"type":     "device_inspection",
					"priority": "high",
				},
				OnSuccess: etworkflow.EndStepID,
			},
		},
	}
}

// reviewDecisionTemplate 人工审核结论落地
// 审核接口写入结论后启动：执行结论（通过则退款）并通知用户
func reviewDecisionTemplate() *etworkflow.Template {
	return &etworkflow.Template{
		ID:          TemplateReviewDecision,
		Name:        "人工审核结论执行",
		Version:     1,
		Description: "将人工审核结论落地为订单动作",
		FirstStepID: "apply_decision",
		Steps: []etworkflow.Step{
			{
				ID:         "apply_decision",
				Name:       "执行审核结论",
				Type:       etworkflow.StepAction,
				Config:     map[string]interface{}{"action": "execute_review_decision"},
				RetryCount: 1,
				OnSuccess:  "notify_result",
			},
			{
				ID:   "notify_result",
				Name: "通知用户处理结果",
				Type: etworkflow.StepNotification,
				Config: map[string]interface{}{
					"target":  "user",
					"title":   "订单处理结果",
					"content": "您的订单申诉已处理完成，详情请查看订单页",
					"type":    "review_decided",
				},
				OnSuccess: etworkflow.EndStepID,
			},
		},
	}
}
