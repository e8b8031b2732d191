package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pepkit/pephub-sub000/internal/auth/models"
)

// DefaultKeyPrefix namespaces exchange codes in a shared Redis.
const DefaultKeyPrefix = "pephub:auth:code:"

// RedisLedger stores codes in Redis so several broker replicas can share
// in-flight logins. Expiry is Redis TTL; Take is GETDEL.
type RedisLedger struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisLedger creates a ledger over an existing client. Tests pass a
// client pointed at miniredis.
func NewRedisLedger(client redis.UniversalClient, keyPrefix string) *RedisLedger {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisLedger{client: client, keyPrefix: keyPrefix}
}

func (l *RedisLedger) key(code string) string {
	return l.keyPrefix + code
}

// Put stores record under code with a TTL. SET NX keeps an existing code
// from being overwritten.
func (l *RedisLedger) Put(ctx context.Context, code string, record models.ExchangeRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal exchange record: %w", err)
	}

	ok, err := l.client.SetNX(ctx, l.key(code), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store exchange code: %w", err)
	}
	if !ok {
		return ErrDuplicate
	}
	return nil
}

// Take atomically fetches and deletes code.
func (l *RedisLedger) Take(ctx context.Context, code string) (models.ExchangeRecord, error) {
	data, err := l.client.GetDel(ctx, l.key(code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.ExchangeRecord{}, ErrNotFound
		}
		return models.ExchangeRecord{}, fmt.Errorf("failed to take exchange code: %w", err)
	}

	var record models.ExchangeRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return models.ExchangeRecord{}, fmt.Errorf("failed to unmarshal exchange record: %w", err)
	}
	return record, nil
}

// Ping checks Redis connectivity (health check).
func (l *RedisLedger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (l *RedisLedger) Close() error {
	return l.client.Close()
}
