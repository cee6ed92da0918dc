package services

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"quantumchat/chat"
)

const snapshotTTL = 7 * 24 * time.Hour

// RedisKV backs the registry snapshot cache with Redis.
type RedisKV struct {
	rdb *redis.Client
}

func NewRedisKV(rdb *redis.Client) *RedisKV {
	return &RedisKV{rdb: rdb}
}

// NewKV picks Redis when available and process memory otherwise.
func NewKV(rdb *redis.Client) chat.KV {
	if rdb == nil {
		return chat.NewMemoryKV()
	}
	return NewRedisKV(rdb)
}

func (k *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := k.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (k *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	return k.rdb.Set(ctx, key, value, snapshotTTL).Err()
}

func (k *RedisKV) Remove(ctx context.Context, key string) error {
	return k.rdb.Del(ctx, key).Err()
}
