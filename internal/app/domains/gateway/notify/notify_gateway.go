package notify

import (
	"context"

	"github.com/google/uuid"

	"sdp/ordercore/internal/app/infra/mq/lmstfy"
	"sdp/ordercore/internal/app/pkg/logger"
)

// UserMessage 用户通知
type UserMessage struct {
	Title   string                 `json:"title"`
	Content string                 `json:"content"`
	Type    string                 `json:"type"` // order_cancelled / refund_initiated / ...
	Data    map[string]interface{} `json:"data,omitempty"`
}

// AdminAlert 管理端告警
type AdminAlert struct {
	Title    string                 `json:"title"`
	Content  string                 `json:"content"`
	Type     string                 `json:"type"`
	Priority string                 `json:"priority"` // low / medium / high / critical
	OrderID  int64                  `json:"order_id,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// Gateway 通知网关接口
// 引擎视角为 fire-and-forget：渠道扇出（App/短信/IM）由下游通知服务负责，
// 部分渠道失败由下游记录日志继续，不回传给引擎
type Gateway interface {
	// SendToUser 发送用户通知
	SendToUser(ctx context.Context, userID int64, msg *UserMessage) error

	// SendToAdmins 发送管理端告警
	SendToAdmins(ctx context.Context, alert *AdminAlert) error
}

// notifyJob 通知任务消息（队列标准格式）
type notifyJob struct {
	Payload notifyPayload `json:"payload"`
}

type notifyPayload struct {
	Data notifyData `json:"data"`
}

type notifyData struct {
	RequestID  string      `json:"request_id"`
	ActionType string      `json:"action_type"`
	UserID     int64       `json:"user_id,omitempty"`
	Data       interface{} `json:"data"`
}

// QueueGateway 基于 Lmstfy 队列的通知网关实现
type QueueGateway struct {
	mqClient   *lmstfy.Client
	userQueue  string
	adminQueue string
	logger     logger.Logger
}

// NewQueueGateway 创建通知网关实例
func NewQueueGateway(mqClient *lmstfy.Client, userQueue, adminQueue string, log logger.Logger) *QueueGateway {
	return &QueueGateway{
		mqClient:   mqClient,
		userQueue:  userQueue,
		adminQueue: adminQueue,
		logger:     log,
	}
}

// SendToUser 发送用户通知
func (g *QueueGateway) SendToUser(ctx context.Context, userID int64, msg *UserMessage) error {
	job := notifyJob{
		Payload: notifyPayload{
			Data: notifyData{
				RequestID:  uuid.New().String(),
				ActionType: "notify_user",
				UserID:     userID,
				Data:       msg,
			},
		},
	}

	if err := g.mqClient.Publish(ctx, g.userQueue, job, 0); err != nil {
		g.logger.Errorf(ctx, "[Notify] publish user notification failed: user_id=%d, error=%v", userID, err)
		return err
	}
	return nil
}

// SendToAdmins 发送管理端告警
func (g *QueueGateway) SendToAdmins(ctx context.Context, alert *AdminAlert) error {
	job := notifyJob{
		Payload: notifyPayload{
			Data: notifyData{
				RequestID:  uuid.New().String(),
				ActionType: "notify_admins",
				Data:       alert,
			},
		},
	}

	if err := g.mqClient.Publish(ctx, g.adminQueue, job, 0); err != nil {
		g.logger.Errorf(ctx, "[Notify] publish admin alert failed: error=%v", err)
		return err
	}
	return nil
}
