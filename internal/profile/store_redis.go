package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	id "idledger/pkg/domain"
	"idledger/pkg/platform/sentinel"
)

const redisKeyPrefix = "idledger:profile:"

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Put(ctx context.Context, p Profile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+p.Principal.String(), raw, 0).Err(); err != nil {
		return fmt.Errorf("put profile: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, principal id.Principal) (Profile, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+principal.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return Profile{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("get profile: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	return p, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
