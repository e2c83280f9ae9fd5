package lmstfy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bitleak/lmstfy/client"
)

// Client Lmstfy 客户端封装
type Client struct {
	cli       *client.LmstfyClient
	namespace string
}

// NewClient 创建 Lmstfy 客户端
func NewClient(host string, port int, namespace string, token string) (*Client, error) {
	cli := client.NewLmstfyClient(host, port, namespace, token)
	return &Client{
		cli:       cli,
		namespace: namespace,
	}, nil
}

// Publish 发布消息到指定队列
// ttl=0 表示永不过期，delay 为延迟投递秒数
func (c *Client) Publish(ctx context.Context, queue string, message interface{}, delay uint32) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message failed: %w", err)
	}

	// tries=3：投递失败由队列侧重试
	_, err = c.cli.Publish(queue, data, 0, 3, delay)
	if err != nil {
		return fmt.Errorf("lmstfy publish failed: %w", err)
	}
	return nil
}

// Message 消费到的消息
type Message struct {
	JobID string
	Queue string
	Data  []byte
}

// Consume 消费消息（阻塞，直到拉取到消息或超时）
// 超时未拉到消息时返回 (nil, nil)
func (c *Client) Consume(ctx context.Context, queue string, timeoutSec, ttrSec uint32) (*Message, error) {
	job, err := c.cli.Consume(queue, ttrSec, timeoutSec)
	if err != nil {
		return nil, fmt.Errorf("lmstfy consume failed: %w", err)
	}
	if job == nil {
		return nil, nil
	}
	return &Message{
		JobID: job.ID,
		Queue: job.Queue,
		Data:  job.Data,
	}, nil
}

// Ack 确认消息
func (c *Client) Ack(ctx context.Context, queue string, jobID string) error {
	if err := c.cli.Ack(queue, jobID); err != nil {
		return fmt.Errorf("lmstfy ack failed: %w", err)
	}
	return nil
}
