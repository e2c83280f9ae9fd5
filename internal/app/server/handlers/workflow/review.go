package workflow

import (
	"github.com/gin-gonic/gin"

	"sdp/ordercore/internal/app/domains/apimodel/request"
	"sdp/ordercore/internal/app/domains/repo/rpworkflow"
	"sdp/ordercore/internal/app/domains/services/svworkflow"
	"sdp/ordercore/internal/app/pkg/ginx"
)

// ReviewHandler 人工审核 HTTP 处理器
type ReviewHandler struct {
	reviewRepo rpworkflow.ReviewTaskRepository
	engine     *svworkflow.Engine
}

// NewReviewHandler 创建审核处理器实例
func NewReviewHandler(reviewRepo rpworkflow.ReviewTaskRepository, engine *svworkflow.Engine) *ReviewHandler {
	return &ReviewHandler{
		reviewRepo: reviewRepo,
		engine:     engine,
	}
}

// Decide 提交审核结论接口
// POST /api/v1/reviews/decide
// 写入结论后启动结论执行工作流（通过则触发退款）
func (h *ReviewHandler) Decide(c *gin.Context) {
	var req request.ReviewDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ginx.BadRequestWithValidation(c, err)
		return
	}

	ctx := c.Request.Context()
	task, err := h.reviewRepo.GetByID(ctx, req.TaskID)
	if err != nil {
		ginx.NotFound(c, "review task not found")
		return
	}
	if task.Status == rpworkflow.ReviewStatusDecided {
		ginx.Conflict(c, "review task already decided")
		return
	}

	if err := h.reviewRepo.Decide(ctx, req.TaskID, req.Decision); err != nil {
		ginx.InternalError(c, "record decision failed")
		return
	}

	executionID, err := h.engine.StartWorkflow(ctx, svworkflow.TemplateReviewDecision, task.OrderID, map[string]interface{}{
		"task_id":  req.TaskID,
		"decision": req.Decision,
		"reviewer": req.Reviewer,
		"comment":  req.Comment,
	})
	if err != nil {
		ginx.InternalError(c, "apply decision failed")
		return
	}

	ginx.Success(c, gin.H{"task_id": req.TaskID, "execution_id": executionID})
}
