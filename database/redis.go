package database

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"quantumchat/config"
)

// ConnectRedis returns nil when REDIS_URL is empty or the server does not
// answer. Callers treat a nil client as "Redis disabled".
func ConnectRedis(cfg *config.Config) *redis.Client {
	if cfg.RedisURL == "" {
		slog.Info("redis disabled")
		return nil
	}

	opts := &redis.Options{Addr: cfg.RedisURL}
	if strings.Contains(cfg.RedisURL, "://") {
		parsed, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Warn("invalid REDIS_URL, redis disabled", "error", err)
			return nil
		}
		opts = parsed
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unreachable, continuing without it", "addr", opts.Addr, "error", err)
		rdb.Close()
		return nil
	}

	slog.Info("redis connected", "addr", opts.Addr)
	return rdb
}
