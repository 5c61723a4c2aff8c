package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"threatlens/internal/config"
)

// RedisConsumer pops prediction records from a Redis list.
type RedisConsumer struct {
	client       *redis.Client
	key          string
	blockTimeout time.Duration
}

func NewRedisConsumer(cfg config.RedisConfig) (*RedisConsumer, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis key is required")
	}
	if cfg.BlockTimeout == 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisConsumer{client: client, key: cfg.Key, blockTimeout: cfg.BlockTimeout}, nil
}

// Pop returns nil, nil when the block timeout expires with an empty list.
func (c *RedisConsumer) Pop(ctx context.Context) ([]byte, error) {
	res, err := c.client.BLPop(ctx, c.blockTimeout, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

func (c *RedisConsumer) Close() error {
	return c.client.Close()
}

func StartRedis(ctx context.Context, cfg *config.Manager, sink *Sink, logger *slog.Logger) error {
	current := cfg.Get().Ingest.Redis
	if !current.Enabled {
		if logger != nil {
			logger.Info("redis ingest disabled")
		}
		return nil
	}
	consumer, err := NewRedisConsumer(current)
	if err != nil {
		return err
	}
	if logger != nil {
		logger.Info("redis ingest enabled", "addr", current.Addr, "key", current.Key)
	}
	go func() {
		defer consumer.Close()
		parser := NewParser()
		for {
			data, err := consumer.Pop(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("redis pop error", "err", err)
				}
				if !BackoffSleep(ctx, time.Second) {
					return
				}
				continue
			}
			if data == nil {
				continue
			}
			sink.HandleLine(ctx, "redis", parser, string(data))
		}
	}()
	return nil
}
