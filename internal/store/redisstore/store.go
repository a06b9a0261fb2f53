package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const runtimeTokenKey = "runtime:token"

type Store struct {
	client *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// GetRuntimeToken returns redis.Nil when no cached token exists.
func (s *Store) GetRuntimeToken(ctx context.Context) (string, error) {
	return s.client.Get(ctx, runtimeTokenKey).Result()
}

func (s *Store) SetRuntimeToken(ctx context.Context, token string, ttl time.Duration) error {
	return s.client.Set(ctx, runtimeTokenKey, token, ttl).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}
