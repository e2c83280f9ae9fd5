package order

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"sdp/ordercore/internal/app/domains/apimodel/response"
	"sdp/ordercore/internal/app/pkg/ginx"
)

// List 订单分页列表接口
// GET /api/v1/orders?user_id=&page=&limit=
func (h *OrderHandler) List(c *gin.Context) {
	var userID int64
	if userIDStr := c.Query("user_id"); userIDStr != "" {
		parsed, err := strconv.ParseInt(userIDStr, 10, 64)
		if err != nil {
			ginx.BadRequest(c, "invalid user_id")
			return
		}
		userID = parsed
	}

	page := 1
	if pageStr := c.Query("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}
	limit := 20
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	orders, total, err := h.orderRepo.List(c.Request.Context(), userID, page, limit)
	if err != nil {
		h.logger.Errorf(c.Request.Context(), "[Handler] List orders failed: %v", err)
		ginx.InternalError(c, "list orders failed")
		return
	}

	out := make([]*response.OrderResponse, 0, len(orders))
	for _, order := range orders {
		out = append(out, response.FromOrderEntity(order))
	}
	ginx.Success(c, gin.H{
		"total": total,
		"page":  page,
		"limit": limit,
		"items": out,
	})
}
