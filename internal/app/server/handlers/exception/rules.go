package exception

import (
	"errors"

	"github.com/gin-gonic/gin"

	"sdp/ordercore/internal/app/domains/apimodel/request"
	"sdp/ordercore/internal/app/domains/apimodel/response"
	"sdp/ordercore/internal/app/pkg/errorx"
	"sdp/ordercore/internal/app/pkg/ginx"
)

// ListRules 规则列表接口
// GET /api/v1/exceptions/rules
func (h *ExceptionHandler) ListRules(c *gin.Context) {
	rules := h.classifier.GetRules()

	out := make([]*response.RuleResponse, 0, len(rules))
	for _, rule := range rules {
		out = append(out, response.FromRuleEntity(rule))
	}
	ginx.Success(c, out)
}

// ToggleRule 规则热开关接口
// PUT /api/v1/exceptions/rules/:id/toggle
func (h *ExceptionHandler) ToggleRule(c *gin.Context) {
	ruleID := c.Param("id")
	if ruleID == "" {
		ginx.BadRequest(c, "rule id required")
		return
	}

	var req request.ToggleRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ginx.BadRequestWithValidation(c, err)
		return
	}

	if err := h.classifier.ToggleRule(ruleID, *req.Enabled); err != nil {
		if errors.Is(err, errorx.ErrRuleNotFound) {
			ginx.NotFound(c, "rule not found")
			return
		}
		h.logger.Errorf(c.Request.Context(), "[Handler] Toggle rule failed: %v", err)
		ginx.InternalError(c, "toggle rule failed")
		return
	}
	ginx.Success(c, gin.H{"rule_id": ruleID, "enabled": *req.Enabled})
}
