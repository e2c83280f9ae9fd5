package order

import (
	"github.com/gin-gonic/gin"

	"sdp/ordercore/internal/app/domains/apimodel/request"
	"sdp/ordercore/internal/app/domains/apimodel/response"
	"sdp/ordercore/internal/app/domains/entity/etorder"
	"sdp/ordercore/internal/app/pkg/ginx"
	"sdp/ordercore/internal/app/pkg/idgen"
)

// Create 创建订单接口
// POST /api/v1/orders
// 订单以 INIT 状态落库，支付链路由外部收银台驱动
func (h *OrderHandler) Create(c *gin.Context) {
	var req request.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ginx.BadRequestWithValidation(c, err)
		return
	}

	order, err := etorder.NewOrder(
		idgen.GenerateID(),
		idgen.NextOrderNo(),
		req.UserID,
		req.MerchantID,
		req.DeviceID,
		req.Amount,
		req.DurationMinutes,
	)
	if err != nil {
		ginx.BadRequest(c, err.Error())
		return
	}
	order.PaymentMethod = req.PaymentMethod

	if err := h.orderRepo.Create(c.Request.Context(), order); err != nil {
		h.logger.Errorf(c.Request.Context(), "[Handler] Create order failed: %v", err)
		ginx.InternalError(c, "create order failed")
		return
	}

	ginx.Success(c, response.FromOrderEntity(order))
}
