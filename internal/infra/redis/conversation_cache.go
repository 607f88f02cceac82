package redis

import (
	"context"
	"encoding/json"
	"time"

	"report-orchestrator/internal/domain/model"
)

type ConversationCache struct {
	client *redClient
	ttl    time.Duration
}

func NewConversationCache(client *redClient, ttl time.Duration) *ConversationCache {
	return &ConversationCache{
		client: client,
		ttl:    ttl,
	}
}

func (c *ConversationCache) Store(ctx context.Context, rec *model.Conversation) error {
	key := "conversation:" + rec.ID
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl)
}

func (c *ConversationCache) Get(ctx context.Context, id string) (*model.Conversation, error) {
	key := "conversation:" + id
	data, err := c.client.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var rec model.Conversation
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *ConversationCache) Delete(ctx context.Context, id string) error {
	return c.client.Del(ctx, "conversation:"+id)
}

func (c *ConversationCache) Extend(ctx context.Context, id string) error {
	return c.client.Expire(ctx, "conversation:"+id, c.ttl)
}
