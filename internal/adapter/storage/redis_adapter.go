package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/cart-sync/internal/core/domain"
)

const (
	sessionKeyPrefix     = "session:"
	storageChannelPrefix = "storage:"
	guardKeyPrefix       = "submit:"
	eventBuffer          = 256
)

// setItemScript writes a field of the session hash and publishes a storage
// event only when the value really changed, the way browsers do.
var setItemScript = redis.NewScript(`
local key = KEYS[1]
local field = ARGV[1]
local value = ARGV[2]
local ttl = tonumber(ARGV[4])

local current = redis.call('HGET', key, field)
if ttl > 0 then
	redis.call('PEXPIRE', key, ttl)
end
if current == value then
	return 0
end

redis.call('HSET', key, field, value)
if ttl > 0 then
	redis.call('PEXPIRE', key, ttl)
end
redis.call('PUBLISH', ARGV[3], ARGV[5])
return 1
`)

var removeItemScript = redis.NewScript(`
local removed = redis.call('HDEL', KEYS[1], ARGV[1])
if removed == 1 then
	redis.call('PUBLISH', ARGV[2], ARGV[3])
end
return removed
`)

type RedisAdapter struct {
	client     *redis.Client
	sessionTTL time.Duration
	log        *zap.Logger
}

func NewRedisAdapter(client *redis.Client, sessionTTL time.Duration, log *zap.Logger) *RedisAdapter {
	return &RedisAdapter{client: client, sessionTTL: sessionTTL, log: log}
}

func sessionKey(session string) string {
	return sessionKeyPrefix + session
}

func storageChannel(session string) string {
	return storageChannelPrefix + session
}

func (r *RedisAdapter) GetItem(ctx context.Context, session, key string) (string, bool, error) {
	value, err := r.client.HGet(ctx, sessionKey(session), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (r *RedisAdapter) SetItem(ctx context.Context, scope domain.Scope, key, value string) error {
	payload, err := json.Marshal(domain.StorageEvent{Session: scope.Session, Tab: scope.Tab, Key: key})
	if err != nil {
		return err
	}

	return setItemScript.Run(ctx, r.client,
		[]string{sessionKey(scope.Session)},
		key, value, storageChannel(scope.Session), r.sessionTTL.Milliseconds(), payload,
	).Err()
}

func (r *RedisAdapter) RemoveItem(ctx context.Context, scope domain.Scope, key string) error {
	payload, err := json.Marshal(domain.StorageEvent{Session: scope.Session, Tab: scope.Tab, Key: key})
	if err != nil {
		return err
	}

	return removeItemScript.Run(ctx, r.client,
		[]string{sessionKey(scope.Session)},
		key, storageChannel(scope.Session), payload,
	).Err()
}

func (r *RedisAdapter) Events(ctx context.Context) (<-chan domain.StorageEvent, error) {
	ps := r.client.PSubscribe(ctx, storageChannelPrefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("psubscribe: %w", err)
	}

	out := make(chan domain.StorageEvent, eventBuffer)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev domain.StorageEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					r.log.Warn("malformed storage event", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (r *RedisAdapter) LoadSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	data, err := r.client.Get(ctx, domain.InventoryCacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func (r *RedisAdapter) SaveSnapshot(ctx context.Context, snapshot domain.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, domain.InventoryCacheKey, data, 0).Err()
}

func (r *RedisAdapter) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, guardKeyPrefix+key, 1, ttl).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, guardKeyPrefix+key).Err()
}
