package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"threatlens/internal/config"
	"threatlens/internal/model"
)

// redisStore keeps the latest state as one JSON document plus a short list
// of save times.
type redisStore struct {
	client *redis.Client
	prefix string
}

func NewRedis(cfg config.StorageRedisConfig) (Store, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "threatlens"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &redisStore{client: client, prefix: strings.TrimSpace(cfg.KeyPrefix)}, nil
}

func (s *redisStore) stateKey() string   { return s.prefix + ":state" }
func (s *redisStore) historyKey() string { return s.prefix + ":saves" }

func (s *redisStore) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis storage: %w", err)
	}
	return nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

func (s *redisStore) SaveState(ctx context.Context, state model.State) error {
	state.Stats.Windows = nil
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.stateKey(), data, 0)
		pipe.LPush(ctx, s.historyKey(), state.SavedAt.UTC().Format(time.RFC3339Nano))
		pipe.LTrim(ctx, s.historyKey(), 0, 99)
		return nil
	})
	return err
}

func (s *redisStore) LoadState(ctx context.Context) (model.State, bool, error) {
	data, err := s.client.Get(ctx, s.stateKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.State{}, false, nil
	}
	if err != nil {
		return model.State{}, false, err
	}
	var state model.State
	if err := json.Unmarshal(data, &state); err != nil {
		return model.State{}, false, fmt.Errorf("decode state: %w", err)
	}
	return state, true, nil
}
