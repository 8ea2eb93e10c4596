package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type RedisMarker struct {
	client *redis.Client
}

func NewRedisMarker(addr string, password string, db int) *RedisMarker {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisMarker{client: client}
}

func (m *RedisMarker) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

func (m *RedisMarker) Close() error {
	return m.client.Close()
}

func (m *RedisMarker) Seen(ctx context.Context, key string) (bool, error) {
	_, err := m.client.Get(ctx, "seen:"+key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *RedisMarker) MarkSeen(ctx context.Context, key string, ttl time.Duration) error {
	return m.client.Set(ctx, "seen:"+key, "1", ttl).Err()
}
