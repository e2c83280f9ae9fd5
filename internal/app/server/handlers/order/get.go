package order

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"sdp/ordercore/internal/app/domains/apimodel/response"
	"sdp/ordercore/internal/app/domains/entity/etorder"
	"sdp/ordercore/internal/app/pkg/errorx"
	"sdp/ordercore/internal/app/pkg/ginx"
)

// Get 订单详情接口
// GET /api/v1/orders/:id
// id 为数字时按订单ID查询，否则按订单号查询
func (h *OrderHandler) Get(c *gin.Context) {
	idParam := c.Param("id")
	if idParam == "" {
		ginx.BadRequest(c, "order id required")
		return
	}

	ctx := c.Request.Context()

	var (
		order *etorder.Order
		err   error
	)
	if orderID, parseErr := strconv.ParseInt(idParam, 10, 64); parseErr == nil {
		order, err = h.orderRepo.GetByID(ctx, orderID)
	} else {
		order, err = h.orderRepo.GetByOrderNo(ctx, idParam)
	}

	if err != nil {
		if errors.Is(err, errorx.ErrOrderNotFound) {
			ginx.NotFound(c, "order not found")
			return
		}
		h.logger.Errorf(ctx, "[Handler] Get order failed: %v", err)
		ginx.InternalError(c, "get order failed")
		return
	}

	ginx.Success(c, response.FromOrderEntity(order))
}
