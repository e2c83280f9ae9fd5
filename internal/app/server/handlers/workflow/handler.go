package workflow

import (
	"sdp/ordercore/internal/app/domains/services/svworkflow"
	"sdp/ordercore/internal/app/pkg/logger"
)

// WorkflowHandler 工作流 HTTP 处理器
type WorkflowHandler struct {
	engine *svworkflow.Engine
	logger logger.Logger
}

// NewWorkflowHandler 创建工作流处理器实例
func NewWorkflowHandler(engine *svworkflow.Engine, log logger.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		engine: engine,
		logger: log,
	}
}
