package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// KV stores one device's session entries under a key prefix. Entries carry their
// own expiry; the Redis TTL only bounds how long abandoned keys linger.
type KV struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewKV(client *redis.Client, deviceID string, ttl time.Duration) *KV {
	return &KV{client: client, prefix: "session:" + deviceID + ":", ttl: ttl}
}

func (k *KV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := k.client.Get(ctx, k.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (k *KV) Set(ctx context.Context, key, value string) error {
	return k.client.Set(ctx, k.prefix+key, value, k.ttl).Err()
}

func (k *KV) Delete(ctx context.Context, key string) error {
	return k.client.Del(ctx, k.prefix+key).Err()
}
