package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonathan/onboarding-verifier/internal/db"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NotificationStore persists in-app notifications.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *db.Notification) error
}

// PostgresChannel writes notifications as in-app rows.
type PostgresChannel struct {
	store NotificationStore
}

// NewPostgresChannel creates a channel backed by the notifications table.
func NewPostgresChannel(store NotificationStore) *PostgresChannel {
	return &PostgresChannel{store: store}
}

// Notify implements Notifier.
func (c *PostgresChannel) Notify(ctx context.Context, n Notification) error {
	row := &db.Notification{
		Audience: string(n.Audience),
		Kind:     n.Kind,
		Message:  n.Message,
		Priority: string(n.Priority),
	}
	if n.UserID != uuid.Nil {
		id := n.UserID
		row.UserID = &id
	}
	if n.DocumentID != uuid.Nil {
		id := n.DocumentID
		row.DocumentID = &id
	}
	return c.store.CreateNotification(ctx, row)
}

// Publisher is the subset of the redis client used for realtime push.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisChannel publishes notifications for realtime delivery to connected clients.
type RedisChannel struct {
	client Publisher
	prefix string
}

// NewRedisChannel creates a channel publishing on <prefix>:<user id> and <prefix>:operators.
func NewRedisChannel(client Publisher, prefix string) *RedisChannel {
	if prefix == "" {
		prefix = "notifications"
	}
	return &RedisChannel{client: client, prefix: prefix}
}

// Topic returns the pub/sub channel a notification is published on.
func (c *RedisChannel) Topic(n Notification) string {
	if n.Audience == AudienceOperators {
		return c.prefix + ":operators"
	}
	return fmt.Sprintf("%s:%s", c.prefix, n.UserID)
}

// Notify implements Notifier.
func (c *RedisChannel) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := c.client.Publish(ctx, c.Topic(n), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// LogChannel writes notifications to the structured log.
type LogChannel struct {
	logger *zap.Logger
}

// NewLogChannel creates a channel that logs every notification.
func NewLogChannel(logger *zap.Logger) *LogChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogChannel{logger: logger.With(zap.String("system", "notify"))}
}

// Notify implements Notifier.
func (c *LogChannel) Notify(ctx context.Context, n Notification) error {
	fields := []zap.Field{
		zap.String("kind", n.Kind),
		zap.String("audience", string(n.Audience)),
		zap.String("priority", string(n.Priority)),
		zap.String("user_id", n.UserID.String()),
		zap.String("document_id", n.DocumentID.String()),
		zap.String("message", n.Message),
	}
	if n.Priority == PriorityHigh && n.Audience == AudienceOperators {
		c.logger.Error("operator alert", fields...)
		return nil
	}
	c.logger.Info("notification", fields...)
	return nil
}
