package workflow

import (
	"errors"

	"github.com/gin-gonic/gin"

	"sdp/ordercore/internal/app/domains/apimodel/request"
	"sdp/ordercore/internal/app/domains/services/svworkflow"
	"sdp/ordercore/internal/app/pkg/errorx"
	"sdp/ordercore/internal/app/pkg/ginx"
)

// Start 启动工作流接口
// POST /api/v1/workflows
func (h *WorkflowHandler) Start(c *gin.Context) {
	var req request.StartWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ginx.BadRequestWithValidation(c, err)
		return
	}

	executionID, err := h.engine.StartWorkflow(c.Request.Context(), req.TemplateID, req.OrderID, req.Variables)
	if err != nil {
		switch {
		case errors.Is(err, errorx.ErrTemplateNotFound), errors.Is(err, errorx.ErrOrderNotFound):
			ginx.NotFound(c, err.Error())
		case errors.Is(err, svworkflow.ErrActiveExecutionExists):
			ginx.Conflict(c, err.Error())
		default:
			h.logger.Errorf(c.Request.Context(), "[Handler] Start workflow failed: %v", err)
			ginx.InternalError(c, "start workflow failed")
		}
		return
	}

	ginx.Success(c, gin.H{"execution_id": executionID})
}
