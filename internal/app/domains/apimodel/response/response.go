package response

import (
	"time"

	"sdp/ordercore/internal/app/domains/entity/etexception"
	"sdp/ordercore/internal/app/domains/entity/etorder"
	"sdp/ordercore/internal/app/domains/entity/etworkflow"
)

// OrderResponse 订单响应
type OrderResponse struct {
	ID              int64      `json:"id"`
	OrderNo         string     `json:"order_no"`
	UserID          int64      `json:"user_id"`
	MerchantID      int64      `json:"merchant_id"`
	DeviceID        int64      `json:"device_id"`
	Status          string     `json:"status"`
	Amount          int64      `json:"amount"`
	PaidAmount      int64      `json:"paid_amount"`
	RefundAmount    int64      `json:"refund_amount"`
	PaymentMethod   string     `json:"payment_method,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	ActualMinutes   int        `json:"actual_minutes,omitempty"`
	CancelReason    string     `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	StartAt         *time.Time `json:"start_at,omitempty"`
	EndAt           *time.Time `json:"end_at,omitempty"`
}

// FromOrderEntity 订单领域对象转响应
func FromOrderEntity(order *etorder.Order) *OrderResponse {
	return &OrderResponse{
		ID:              order.ID,
		OrderNo:         order.OrderNo,
		UserID:          order.UserID,
		MerchantID:      order.MerchantID,
		DeviceID:        order.DeviceID,
		Status:          string(order.Status),
		Amount:          order.Amount,
		PaidAmount:      order.PaidAmount,
		RefundAmount:    order.RefundAmount,
		PaymentMethod:   order.PaymentMethod,
		DurationMinutes: order.DurationMinutes,
		ActualMinutes:   order.ActualMinutes,
		CancelReason:    order.CancelReason,
		CreatedAt:       order.CreatedAt,
		PaidAt:          order.PaidAt,
		StartAt:         order.StartAt,
		EndAt:           order.EndAt,
	}
}

// StepRunResponse 单步执行历史响应
type StepRunResponse struct {
	StepID     string      `json:"step_id"`
	Status     string      `json:"status"`
	RetryCount int         `json:"retry_count"`
	Output     interface{} `json:"output,omitempty"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// ExecutionResponse 工作流执行响应
type ExecutionResponse struct {
	ID            string                 `json:"id"`
	TemplateID    string                 `json:"template_id"`
	OrderID       int64                  `json:"order_id"`
	Status        string                 `json:"status"`
	CurrentStepID string                 `json:"current_step_id,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	StepRuns      []StepRunResponse      `json:"step_runs"`
	Error         string                 `json:"error,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	FinishedAt    *time.Time             `json:"finished_at,omitempty"`
}

// FromExecutionEntity 执行领域对象转响应
func FromExecutionEntity(exec *etworkflow.Execution) *ExecutionResponse {
	runs := make([]StepRunResponse, 0, len(exec.StepRuns))
	for _, run := range exec.StepRuns {
		runs = append(runs, StepRunResponse{
			StepID:     run.StepID,
			Status:     string(run.Status),
			RetryCount: run.RetryCount,
			Output:     run.Output,
			Error:      run.Error,
			StartedAt:  run.StartedAt,
			FinishedAt: run.FinishedAt,
		})
	}
	return &ExecutionResponse{
		ID:            exec.ID,
		TemplateID:    exec.TemplateID,
		OrderID:       exec.OrderID,
		Status:        string(exec.Status),
		CurrentStepID: exec.CurrentStepID,
		Variables:     exec.Variables,
		StepRuns:      runs,
		Error:         exec.Error,
		CreatedAt:     exec.CreatedAt,
		FinishedAt:    exec.FinishedAt,
	}
}

// TemplateResponse 工作流模板响应（摘要）
type TemplateResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     int    `json:"version"`
	Description string `json:"description,omitempty"`
	StepCount   int    `json:"step_count"`
}

// FromTemplateEntity 模板领域对象转响应
func FromTemplateEntity(tmpl *etworkflow.Template) *TemplateResponse {
	return &TemplateResponse{
		ID:          tmpl.ID,
		Name:        tmpl.Name,
		Version:     tmpl.Version,
		Description: tmpl.Description,
		StepCount:   len(tmpl.Steps),
	}
}

// RecordResponse 异常记录响应
type RecordResponse struct {
	ID          string                 `json:"id"`
	OrderID     int64                  `json:"order_id"`
	Type        string                 `json:"type"`
	Severity    string                 `json:"severity"`
	RuleID      string                 `json:"rule_id"`
	Description string                 `json:"description"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Status      string                 `json:"status"`
	DetectedAt  time.Time              `json:"detected_at"`
	ResolvedAt  *time.Time             `json:"resolved_at,omitempty"`
}

// FromRecordEntity 异常记录领域对象转响应
func FromRecordEntity(record *etexception.Record) *RecordResponse {
	return &RecordResponse{
		ID:          record.ID,
		OrderID:     record.OrderID,
		Type:        string(record.Type),
		Severity:    string(record.Severity),
		RuleID:      record.RuleID,
		Description: record.Description,
		Details:     record.Details,
		Status:      string(record.Status),
		DetectedAt:  record.DetectedAt,
		ResolvedAt:  record.ResolvedAt,
	}
}

// RuleResponse 规则响应
type RuleResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Priority int    `json:"priority"`
	Enabled  bool   `json:"enabled"`
}

// FromRuleEntity 规则领域对象转响应
func FromRuleEntity(rule *etexception.Rule) *RuleResponse {
	return &RuleResponse{
		ID:       rule.ID,
		Name:     rule.Name,
		Type:     string(rule.Type),
		Severity: string(rule.Severity),
		Priority: rule.Priority,
		Enabled:  rule.Enabled,
	}
}

// AnalysisResponse 分析结果响应
type AnalysisResponse struct {
	OrderID    int64             `json:"order_id"`
	RiskScore  float64           `json:"risk_score"`
	FiredRules []string          `json:"fired_rules"`
	Records    []*RecordResponse `json:"records"`
	AnalyzedAt time.Time         `json:"analyzed_at"`
}
