package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "media-relay:"

// RedisStore keeps records as plain string keys so several relay processes
// can share one dedup index.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to addr and verifies the connection.
func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "",
		DB:       0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return NewRedisStoreFromClient(client), nil
}

// NewRedisStoreFromClient wraps an existing client. Close closes the client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: redisKeyPrefix}
}

func (s *RedisStore) handleKey(handle string) string {
	return s.prefix + "file:" + handle
}

func (s *RedisStore) hashKey(hash string, size int64) string {
	return s.prefix + "hash:" + FingerprintKey(hash, size)
}

func (s *RedisStore) LookupByHandle(ctx context.Context, handle string) (int, bool, error) {
	return s.get(ctx, s.handleKey(handle))
}

func (s *RedisStore) LookupByHash(ctx context.Context, hash string, size int64) (int, bool, error) {
	return s.get(ctx, s.hashKey(hash, size))
}

func (s *RedisStore) get(ctx context.Context, key string) (int, bool, error) {
	ref, err := s.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("GET %s: %w", key, err)
	}
	return ref, true, nil
}

func (s *RedisStore) Record(ctx context.Context, rec Record) error {
	var handleErr error
	key := s.handleKey(rec.Handle)
	ok, err := s.client.SetNX(ctx, key, rec.Ref, 0).Result()
	switch {
	case err != nil:
		handleErr = fmt.Errorf("SETNX %s: %w", key, err)
	case !ok:
		handleErr = ErrAlreadyExists
	}

	var hashErr error
	if rec.HasFingerprint() {
		key := s.hashKey(rec.Hash, rec.Size)
		if err := s.client.SetNX(ctx, key, rec.Ref, 0).Err(); err != nil {
			hashErr = fmt.Errorf("SETNX %s: %w", key, err)
		}
	}
	return joinRecordErrors(handleErr, hashErr)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
