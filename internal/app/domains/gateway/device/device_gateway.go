package device

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sdp/ordercore/internal/app/infra/mq/lmstfy"
	"sdp/ordercore/internal/app/infra/persistence/redis"
	"sdp/ordercore/internal/app/pkg/logger"
)

// Gateway 设备网关接口
type Gateway interface {
	// Release 释放设备（解除订单占用）
	Release(ctx context.Context, deviceID int64) error

	// MarkMaintenance 标记设备待维护
	MarkMaintenance(ctx context.Context, deviceID int64, reason string) error

	// RetryStart 重试启动设备，返回启动是否成功
	RetryStart(ctx context.Context, deviceID int64) (bool, error)
}

// command 设备指令消息（队列标准格式）
type command struct {
	RequestID string                 `json:"request_id"`
	Action    string                 `json:"action"` // release / mark_maintenance / retry_start
	DeviceID  int64                  `json:"device_id"`
	Params    map[string]interface{} `json:"params,omitempty"`
}

// startResult 设备启动结果（设备服务经 Redis 频道回传）
type startResult struct {
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// QueueGateway 基于 Lmstfy 指令队列 + Redis 结果频道的设备网关实现
type QueueGateway struct {
	mqClient     *lmstfy.Client
	redisClient  *redis.Client
	commandQueue string
	startTimeout time.Duration
	logger       logger.Logger
}

// NewQueueGateway 创建设备网关实例
func NewQueueGateway(mqClient *lmstfy.Client, redisClient *redis.Client, commandQueue string, startTimeout time.Duration, log logger.Logger) *QueueGateway {
	if startTimeout <= 0 {
		startTimeout = 10 * time.Second
	}
	return &QueueGateway{
		mqClient:     mqClient,
		redisClient:  redisClient,
		commandQueue: commandQueue,
		startTimeout: startTimeout,
		logger:       log,
	}
}

// Release 释放设备
func (g *QueueGateway) Release(ctx context.Context, deviceID int64) error {
	cmd := command{
		RequestID: uuid.New().String(),
		Action:    "release",
		DeviceID:  deviceID,
	}
	if err := g.mqClient.Publish(ctx, g.commandQueue, cmd, 0); err != nil {
		return fmt.Errorf("publish release command failed: %w", err)
	}
	return nil
}

// MarkMaintenance 标记设备待维护
func (g *QueueGateway) MarkMaintenance(ctx context.Context, deviceID int64, reason string) error {
	cmd := command{
		RequestID: uuid.New().String(),
		Action:    "mark_maintenance",
		DeviceID:  deviceID,
		Params: map[string]interface{}{
			"reason": reason,
		},
	}
	if err := g.mqClient.Publish(ctx, g.commandQueue, cmd, 0); err != nil {
		return fmt.Errorf("publish maintenance command failed: %w", err)
	}
	return nil
}

// RetryStart 重试启动设备（Smart Wait：发指令后订阅结果频道）
// 频道命名规则：device:start_result:{request_id}
func (g *QueueGateway) RetryStart(ctx context.Context, deviceID int64) (bool, error) {
	requestID := uuid.New().String()
	cmd := command{
		RequestID: requestID,
		Action:    "retry_start",
		DeviceID:  deviceID,
	}
	if err := g.mqClient.Publish(ctx, g.commandQueue, cmd, 0); err != nil {
		return false, fmt.Errorf("publish retry_start command failed: %w", err)
	}

	channel := fmt.Sprintf("device:start_result:%s", requestID)
	payload, err := g.redisClient.WaitForMessage(ctx, channel, g.startTimeout)
	if err != nil {
		// 超时视为启动失败，交由上层重试或走失败分支
		g.logger.Warnf(ctx, "[Device] retry_start result timeout: device_id=%d, request_id=%s", deviceID, requestID)
		return false, nil
	}

	var result startResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return false, fmt.Errorf("unmarshal start result failed: %w", err)
	}
	return result.Success, nil
}
