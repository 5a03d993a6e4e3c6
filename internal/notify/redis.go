package notify

import (
	"context"
	"encoding/json"
	"time"

	"sachet/internal/config"
	"sachet/internal/events"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	statusChannel = "sachet:events:status"
	syncChannel   = "sachet:events:sync"

	publishTimeout = 2 * time.Second
)

// NewRedisClient creates a Redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// RedisMirror republishes bus events to Redis pub/sub channels so detached
// dashboard frontends can follow queue depth and sync progress. Publishing is
// best-effort: a Redis outage never affects a sync pass.
type RedisMirror struct {
	client *redis.Client
	logger *zerolog.Logger
}

// NewRedisMirror wires a mirror; a nil client yields a no-op mirror.
func NewRedisMirror(client *redis.Client, logger *zerolog.Logger) *RedisMirror {
	return &RedisMirror{client: client, logger: logger}
}

// Attach subscribes the mirror to both event shapes on the bus.
func (m *RedisMirror) Attach(bus *events.Bus) {
	if m == nil || m.client == nil {
		return
	}
	bus.SubscribeStatus(func(event events.StatusChanged) {
		m.publish(statusChannel, event)
	})
	bus.SubscribeNotifications(func(event events.SyncNotification) {
		m.publish(syncChannel, event)
	})
}

func (m *RedisMirror) publish(channel string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		m.logger.Error().Err(err).Str("channel", channel).Msg("failed to encode event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := m.client.Publish(ctx, channel, data).Err(); err != nil {
		m.logger.Warn().Err(err).Str("channel", channel).Msg("failed to publish event to redis")
	}
}

// StatusChannel exposes the status channel name for subscribers.
func StatusChannel() string { return statusChannel }

// SyncChannel exposes the sync notification channel name for subscribers.
func SyncChannel() string { return syncChannel }
