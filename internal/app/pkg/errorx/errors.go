package errorx

import "errors"

// 定义业务错误
var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrExecutionNotFound   = errors.New("workflow execution not found")
	ErrTemplateNotFound    = errors.New("workflow template not found")
	ErrRuleNotFound        = errors.New("exception rule not found")
	ErrRecordNotFound      = errors.New("exception record not found")
	ErrVersionConflict     = errors.New("order version conflict")
	ErrOverRefund          = errors.New("refund amount exceeds refundable balance")
	ErrExecutionNotRunning = errors.New("workflow execution is not running")
)

// BusinessError 业务错误结构
type BusinessError struct {
	Code    int
	Message string
	Details []ErrorDetail
}

// ErrorDetail 错误详情
type ErrorDetail struct {
	Path string
	Info string
}

// Error 实现 error 接口
func (e *BusinessError) Error() string {
	return e.Message
}

// NewBusinessError 创建业务错误
func NewBusinessError(code int, message string) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
	}
}
