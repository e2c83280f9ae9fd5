package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"sdp/ordercore/internal/app/infra/mq/lmstfy"
)

// Gateway 账务/支付网关接口
type Gateway interface {
	// InitiateRefund 发起退款
	// 金额为分，reason 用于对账与用户侧展示
	InitiateRefund(ctx context.Context, orderID int64, amount int64, reason string) error
}

// refundJob 退款任务消息
type refundJob struct {
	RequestID string `json:"request_id"`
	OrderID   int64  `json:"order_id"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
}

// QueueGateway 基于 Lmstfy 队列的账务网关实现
// 实际退款由支付服务消费执行，对账以支付服务为准
type QueueGateway struct {
	mqClient    *lmstfy.Client
	refundQueue string
}

// NewQueueGateway 创建账务网关实例
func NewQueueGateway(mqClient *lmstfy.Client, refundQueue string) *QueueGateway {
	return &QueueGateway{
		mqClient:    mqClient,
		refundQueue: refundQueue,
	}
}

// InitiateRefund 发起退款
func (g *QueueGateway) InitiateRefund(ctx context.Context, orderID int64, amount int64, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("refund amount must be positive, got %d", amount)
	}

	job := refundJob{
		RequestID: uuid.New().String(),
		OrderID:   orderID,
		Amount:    amount,
		Reason:    reason,
	}
	if err := g.mqClient.Publish(ctx, g.refundQueue, job, 0); err != nil {
		return fmt.Errorf("publish refund job failed: %w", err)
	}
	return nil
}
