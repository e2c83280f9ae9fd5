package exception

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"sdp/ordercore/internal/app/domains/apimodel/response"
	"sdp/ordercore/internal/app/domains/entity/etexception"
	"sdp/ordercore/internal/app/domains/repo/rpexception"
	"sdp/ordercore/internal/app/pkg/ginx"
)

// ListRecords 异常记录查询接口
// GET /api/v1/exceptions/records?order_id=&type=&status=&limit=
func (h *ExceptionHandler) ListRecords(c *gin.Context) {
	filter := rpexception.Filter{
		Type:   etexception.ExceptionType(c.Query("type")),
		Status: etexception.RecordStatus(c.Query("status")),
		Limit:  50,
	}
	if orderIDStr := c.Query("order_id"); orderIDStr != "" {
		orderID, err := strconv.ParseInt(orderIDStr, 10, 64)
		if err != nil {
			ginx.BadRequest(c, "invalid order_id")
			return
		}
		filter.OrderID = orderID
	}
	if limitStr := c.Query("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 && limit <= 200 {
			filter.Limit = limit
		}
	}

	records, err := h.exceptionRepo.Find(c.Request.Context(), filter)
	if err != nil {
		h.logger.Errorf(c.Request.Context(), "[Handler] List records failed: %v", err)
		ginx.InternalError(c, "list records failed")
		return
	}

	out := make([]*response.RecordResponse, 0, len(records))
	for _, record := range records {
		out = append(out, response.FromRecordEntity(record))
	}
	ginx.Success(c, out)
}
