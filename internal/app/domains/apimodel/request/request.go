package request

// CreateOrderRequest 创建订单请求
type CreateOrderRequest struct {
	UserID          int64  `json:"user_id" binding:"required,gt=0"`
	MerchantID      int64  `json:"merchant_id" binding:"required,gt=0"`
	DeviceID        int64  `json:"device_id" binding:"required,gt=0"`
	Amount          int64  `json:"amount" binding:"required,gt=0"`
	DurationMinutes int    `json:"duration_minutes" binding:"required,gt=0"`
	PaymentMethod   string `json:"payment_method"`
}

// StartWorkflowRequest 启动工作流请求
type StartWorkflowRequest struct {
	TemplateID string                 `json:"template_id" binding:"required"`
	OrderID    int64                  `json:"order_id" binding:"required,gt=0"`
	Variables  map[string]interface{} `json:"variables"`
}

// AnalyzeOrderRequest 单笔订单分析请求
type AnalyzeOrderRequest struct {
	OrderID int64 `json:"order_id" binding:"required,gt=0"`
}

// BatchAnalyzeRequest 批量分析请求
type BatchAnalyzeRequest struct {
	OrderIDs []int64 `json:"order_ids" binding:"required,min=1,max=100,dive,gt=0"`
}

// ToggleRuleRequest 规则开关请求
type ToggleRuleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// ReviewDecisionRequest 人工审核决策请求
type ReviewDecisionRequest struct {
	TaskID   string `json:"task_id" binding:"required"`
	Decision string `json:"decision" binding:"required,oneof=approve_refund reject"`
	Reviewer string `json:"reviewer" binding:"required"`
	Comment  string `json:"comment"`
}
