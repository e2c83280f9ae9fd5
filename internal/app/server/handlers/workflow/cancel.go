package workflow

import (
	"github.com/gin-gonic/gin"

	"sdp/ordercore/internal/app/pkg/ginx"
)

// Cancel 取消执行接口
// POST /api/v1/workflows/:id/cancel
// 仅 RUNNING 状态可取消；取消是协作式的，在途步骤不会被强行中断
func (h *WorkflowHandler) Cancel(c *gin.Context) {
	executionID := c.Param("id")
	if executionID == "" {
		ginx.BadRequest(c, "execution id required")
		return
	}

	if !h.engine.CancelWorkflow(c.Request.Context(), executionID) {
		ginx.Conflict(c, "execution is not running")
		return
	}
	ginx.Success(c, gin.H{"cancelled": true})
}
