package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"chatrelay-backend/internal/models"
)

// ChatChannel is the redis pub/sub channel carrying events for one chat.
func ChatChannel(chatID string) string {
	return "chat_updates:" + chatID
}

type EventPublisher interface {
	Publish(ctx context.Context, event models.ChatEvent) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, models.ChatEvent) error { return nil }

// NoopPublisher drops events; used when redis is not configured.
var NoopPublisher EventPublisher = noopPublisher{}

type RedisEventPublisher struct {
	client *redis.Client
}

func NewRedisEventPublisher(client *redis.Client) *RedisEventPublisher {
	return &RedisEventPublisher{client: client}
}

func (p *RedisEventPublisher) Publish(ctx context.Context, event models.ChatEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal chat event: %w", err)
	}
	if err := p.client.Publish(ctx, ChatChannel(event.ChatID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish chat event: %w", err)
	}
	return nil
}
