package workflow

import (
	"errors"

	"github.com/gin-gonic/gin"

	"sdp/ordercore/internal/app/domains/apimodel/response"
	"sdp/ordercore/internal/app/pkg/errorx"
	"sdp/ordercore/internal/app/pkg/ginx"
)

// Get 查询执行详情接口
// GET /api/v1/workflows/:id
func (h *WorkflowHandler) Get(c *gin.Context) {
	executionID := c.Param("id")
	if executionID == "" {
		ginx.BadRequest(c, "execution id required")
		return
	}

	execution, err := h.engine.GetExecution(c.Request.Context(), executionID)
	if err != nil {
		if errors.Is(err, errorx.ErrExecutionNotFound) {
			ginx.NotFound(c, "execution not found")
			return
		}
		h.logger.Errorf(c.Request.Context(), "[Handler] Get execution failed: %v", err)
		ginx.InternalError(c, "get execution failed")
		return
	}

	ginx.Success(c, response.FromExecutionEntity(execution))
}

// ListTemplates 列出可用模板接口
// GET /api/v1/workflows/templates
func (h *WorkflowHandler) ListTemplates(c *gin.Context) {
	templates := h.engine.ListTemplates()

	out := make([]*response.TemplateResponse, 0, len(templates))
	for _, tmpl := range templates {
		out = append(out, response.FromTemplateEntity(tmpl))
	}
	ginx.Success(c, out)
}
