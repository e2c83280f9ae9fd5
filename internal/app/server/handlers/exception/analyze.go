package exception

import (
	"errors"

	"github.com/gin-gonic/gin"

	"sdp/ordercore/internal/app/domains/apimodel/request"
	"sdp/ordercore/internal/app/domains/apimodel/response"
	"sdp/ordercore/internal/app/domains/services/svexception"
	"sdp/ordercore/internal/app/pkg/errorx"
	"sdp/ordercore/internal/app/pkg/ginx"
)

// Analyze 单笔订单分析接口
// POST /api/v1/exceptions/analyze
func (h *ExceptionHandler) Analyze(c *gin.Context) {
	var req request.AnalyzeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ginx.BadRequestWithValidation(c, err)
		return
	}

	result, err := h.classifier.AnalyzeOrder(c.Request.Context(), req.OrderID)
	if err != nil {
		if errors.Is(err, errorx.ErrOrderNotFound) {
			ginx.NotFound(c, "order not found")
			return
		}
		h.logger.Errorf(c.Request.Context(), "[Handler] Analyze order failed: %v", err)
		ginx.InternalError(c, "analyze order failed")
		return
	}

	ginx.Success(c, toAnalysisResponse(result))
}

// BatchAnalyze 批量分析接口
// POST /api/v1/exceptions/batch-analyze
// 单笔失败不阻断整批，返回成功部分
func (h *ExceptionHandler) BatchAnalyze(c *gin.Context) {
	var req request.BatchAnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ginx.BadRequestWithValidation(c, err)
		return
	}

	results := h.classifier.BatchAnalyze(c.Request.Context(), req.OrderIDs)

	out := make([]*response.AnalysisResponse, 0, len(results))
	for _, result := range results {
		out = append(out, toAnalysisResponse(result))
	}
	ginx.Success(c, gin.H{
		"requested": len(req.OrderIDs),
		"analyzed":  len(out),
		"results":   out,
	})
}

func toAnalysisResponse(result *svexception.AnalysisResult) *response.AnalysisResponse {
	records := make([]*response.RecordResponse, 0, len(result.Records))
	for _, record := range result.Records {
		records = append(records, response.FromRecordEntity(record))
	}
	fired := result.FiredRules
	if fired == nil {
		fired = []string{}
	}
	return &response.AnalysisResponse{
		OrderID:    result.OrderID,
		RiskScore:  result.RiskScore,
		FiredRules: fired,
		Records:    records,
		AnalyzedAt: result.AnalyzedAt,
	}
}
