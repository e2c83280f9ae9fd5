package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client Redis 客户端封装
// 职责：
// 1. 工作流完成通知的发布/订阅（Smart Wait）
// 2. 退款幂等键（SETNX）
// 3. 补救重试计数（INCR + TTL）
type Client struct {
	client *redis.Client
}

// NewClient 创建 Redis 客户端实例
func NewClient(addr, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// 测试连接
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{client: client}, nil
}

// WorkflowNotification 工作流完成通知消息
type WorkflowNotification struct {
	ExecutionID string `json:"execution_id"`
	OrderID     int64  `json:"order_id"`
	Status      string `json:"status"` // completed/failed/cancelled
	Timestamp   int64  `json:"timestamp"`
}

// PublishWorkflowComplete 发布工作流完成通知
func (c *Client) PublishWorkflowComplete(ctx context.Context, channel string, notification *WorkflowNotification) error {
	msgJSON, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	if err := c.client.Publish(ctx, channel, msgJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// WaitForMessage 订阅频道并等待第一条消息（带超时）
func (c *Client) WaitForMessage(ctx context.Context, channel string, timeout time.Duration) (string, error) {
	sub := c.client.Subscribe(ctx, channel)
	defer sub.Close()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := sub.ReceiveMessage(waitCtx)
	if err != nil {
		return "", fmt.Errorf("wait for message on %s failed: %w", channel, err)
	}
	return msg.Payload, nil
}

// SetNX 设置幂等键，返回是否首次设置成功
func (c *Client) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s failed: %w", key, err)
	}
	return ok, nil
}

// Incr 计数器自增，首次自增时设置 TTL，返回自增后的值
func (c *Client) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s failed: %w", key, err)
	}
	if count == 1 && ttl > 0 {
		// 仅首次设置过期，避免计数窗口被不断顺延
		_ = c.client.Expire(ctx, key, ttl).Err()
	}
	return count, nil
}

// Del 删除键
func (c *Client) Del(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// Close 关闭 Redis 连接
func (c *Client) Close() error {
	return c.client.Close()
}
