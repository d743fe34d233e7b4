package middleware

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const revokedPrefix = "oracle:revoked:"

// RedisTokenBlacklist keeps revoked bearer tokens in redis until they would
// have expired anyway.
type RedisTokenBlacklist struct {
	client *redis.Client
}

func NewRedisTokenBlacklist(client *redis.Client) *RedisTokenBlacklist {
	return &RedisTokenBlacklist{client: client}
}

func (b *RedisTokenBlacklist) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return b.client.Set(ctx, revokedPrefix+token, time.Now().UTC().Format(time.RFC3339), ttl).Err()
}

func (b *RedisTokenBlacklist) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	n, err := b.client.Exists(ctx, revokedPrefix+token).Result()
	return n > 0, err
}
