package order

import (
	"sdp/ordercore/internal/app/domains/repo/rporder"
	"sdp/ordercore/internal/app/pkg/logger"
)

// OrderHandler 订单 HTTP 处理器（只读巡检入口）
type OrderHandler struct {
	orderRepo rporder.OrderRepository
	logger    logger.Logger
}

// NewOrderHandler 创建订单处理器实例
func NewOrderHandler(orderRepo rporder.OrderRepository, log logger.Logger) *OrderHandler {
	return &OrderHandler{
		orderRepo: orderRepo,
		logger:    log,
	}
}
