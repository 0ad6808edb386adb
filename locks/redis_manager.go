package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const redisKeyPrefix = "hnsfs:lock:"

// releaseScript deletes the key only while this owner still holds it.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisManager shares path locks between server instances through Redis.
// Locks expire after ttl so a crashed holder cannot block a path forever.
type RedisManager struct {
	client  redis.UniversalClient
	logger  *zap.Logger
	ttl     time.Duration
	ownerID string
}

// NewRedisManager connects to Redis and creates a lock manager
func NewRedisManager(redisAddr, redisPassword string, ttl time.Duration, logger *zap.Logger) (*RedisManager, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         redisAddr,
		Password:     redisPassword,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisManager(client, ttl, logger), nil
}

func newRedisManager(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *RedisManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisManager{
		client:  client,
		logger:  logger,
		ttl:     ttl,
		ownerID: uuid.NewString(),
	}
}

// Acquire sets the lock key if it is absent
func (m *RedisManager) Acquire(ctx context.Context, key string) (bool, error) {
	acquired, err := m.client.SetNX(ctx, redisKeyPrefix+key, m.ownerID, m.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock for key %s: %w", key, err)
	}

	if acquired {
		m.logger.Debug("Lock acquired",
			zap.String("key", key),
			zap.String("owner", m.ownerID),
			zap.Duration("ttl", m.ttl))
	} else {
		m.logger.Debug("Lock already held", zap.String("key", key))
	}
	return acquired, nil
}

// Release deletes the lock key if this manager owns it
func (m *RedisManager) Release(ctx context.Context, key string) error {
	deleted, err := releaseScript.Run(ctx, m.client, []string{redisKeyPrefix + key}, m.ownerID).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock for key %s: %w", key, err)
	}

	if deleted == 1 {
		m.logger.Debug("Lock released",
			zap.String("key", key),
			zap.String("owner", m.ownerID))
	} else {
		m.logger.Warn("Lock not owned or already expired",
			zap.String("key", key),
			zap.String("owner", m.ownerID))
	}
	return nil
}

// Close closes the Redis client connection
func (m *RedisManager) Close() error {
	return m.client.Close()
}
