package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const (
	ChannelGenerationProgress = "generation_progress"
)

// 消息类型
const (
	TypeProgress  = "generation_progress"
	TypeCompleted = "generation_completed"
	TypeFailed    = "generation_failed"
)

// ProgressMessage 进度消息，由 worker 发布，API 进程转发给 websocket 客户端
type ProgressMessage struct {
	Type       string `json:"type"`
	UserID     int64  `json:"user_id"`
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
	Provider   string `json:"provider,omitempty"`
	Progress   int    `json:"progress"`
	Message    string `json:"message,omitempty"`
	ArtifactID string `json:"artifact_id,omitempty"`
	AudioURL   string `json:"audio_url,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Publisher Redis 发布者
type Publisher struct {
	client *redis.Client
}

// NewPublisher 创建发布者
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishProgress 发布进度消息
func (p *Publisher) PublishProgress(ctx context.Context, msg *ProgressMessage) error {
	if msg.Type == "" {
		msg.Type = TypeProgress
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal progress message: %w", err)
	}

	return p.client.Publish(ctx, ChannelGenerationProgress, data).Err()
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client *redis.Client
}

// NewSubscriber 创建订阅者
func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 订阅进度消息，阻塞直到 ctx 结束
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*ProgressMessage)) error {
	sub := s.client.Subscribe(ctx, ChannelGenerationProgress)
	defer sub.Close()

	// 等待订阅确认，确保之后发布的消息不会丢
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	ch := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var progressMsg ProgressMessage
			if err := json.Unmarshal([]byte(msg.Payload), &progressMsg); err != nil {
				continue // 忽略解析错误
			}

			handler(&progressMsg)
		}
	}
}
