package memory

import (
	"context"
	"errors"
	"fmt"

	backend "github.com/redis/go-redis/v9"

	"wordchat/internal/domain"
)

// RedisBlobs implements domain.BlobStore on plain Redis string keys.
type RedisBlobs struct {
	client *backend.Client
	prefix string
}

type RedisOption func(*RedisBlobs)

// WithRedisPrefix namespaces every key.
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *RedisBlobs) {
		r.prefix = prefix
	}
}

func NewRedisBlobs(addr, password string, db int, opts ...RedisOption) *RedisBlobs {
	return NewRedisBlobsFromClient(backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), opts...)
}

func NewRedisBlobsFromClient(client *backend.Client, opts ...RedisOption) *RedisBlobs {
	r := &RedisBlobs{client: client, prefix: "wordchat:"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisBlobs) key(k string) string {
	return r.prefix + k
}

// Ping checks connectivity, used at startup to fail fast.
func (r *RedisBlobs) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, backend.Nil) {
		return nil, domain.ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

func (r *RedisBlobs) Put(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisBlobs) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (r *RedisBlobs) Close() error {
	return r.client.Close()
}
