package dbkv

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store against a real Redis (or Redis-protocol
// compatible) server via redis/go-redis/v9 — the concrete "commanded
// external store" spec.md's Out-of-scope section treats as a black box.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	return s.rdb.Set(ctx, key, value, 0).Err()
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string) (bool, error) {
	return s.rdb.SetNX(ctx, key, value, 0).Result()
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	return s.rdb.Incr(ctx, key).Result()
}

func (s *RedisStore) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := s.rdb.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) HSet(ctx context.Context, key, field, value string) error {
	return s.rdb.HSet(ctx, key, field, value).Err()
}

func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, key).Result()
}

func (s *RedisStore) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return s.rdb.HDel(ctx, key, fields...).Err()
}

func (s *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.rdb.SAdd(ctx, key, args...).Err()
}

func (s *RedisStore) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.rdb.SRem(ctx, key, args...).Err()
}

func (s *RedisStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return s.rdb.SIsMember(ctx, key, member).Result()
}

func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.rdb.SMembers(ctx, key).Result()
}

func (s *RedisStore) LPush(ctx context.Context, key, value string) error {
	return s.rdb.LPush(ctx, key, value).Err()
}

func (s *RedisStore) LRem(ctx context.Context, key, value string) error {
	return s.rdb.LRem(ctx, key, 0, value).Err()
}

func (s *RedisStore) RPop(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.RPop(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) LLen(ctx context.Context, key string) (int64, error) {
	return s.rdb.LLen(ctx, key).Result()
}

var _ Store = (*RedisStore)(nil)
