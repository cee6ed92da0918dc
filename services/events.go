package services

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type ChatChangedEvent struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	ChatID string `json:"chat_id"`
}

// UserChannel is the Redis pub/sub channel carrying one user's events.
func UserChannel(userID uuid.UUID) string {
	return "ws:user:" + userID.String()
}

// ChatEvents publishes chat changes so other sessions of the same user
// can refresh. A nil Redis client makes it a no-op.
type ChatEvents struct {
	rdb *redis.Client
}

func NewChatEvents(rdb *redis.Client) *ChatEvents {
	return &ChatEvents{rdb: rdb}
}

func (e *ChatEvents) Enabled() bool { return e != nil && e.rdb != nil }

func (e *ChatEvents) Publish(ctx context.Context, userID uuid.UUID, action, chatID string) {
	if !e.Enabled() {
		return
	}
	data, _ := json.Marshal(ChatChangedEvent{Type: "chat_changed", Action: action, ChatID: chatID})
	if err := e.rdb.Publish(ctx, UserChannel(userID), string(data)).Err(); err != nil {
		slog.Warn("publish chat event failed", "userId", userID, "action", action, "error", err)
	}
}

// Subscribe returns the pub/sub handle for a user's channel, or nil when
// Redis is disabled.
func (e *ChatEvents) Subscribe(ctx context.Context, userID uuid.UUID) *redis.PubSub {
	if !e.Enabled() {
		return nil
	}
	return e.rdb.Subscribe(ctx, UserChannel(userID))
}
