// Package redis 基于 Redis Streams 的事件总线实现
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store Redis 事件总线
type Store struct {
	client *redis.Client
}

// NewStoreFromURL 从 URL 创建并校验连接
func NewStoreFromURL(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client}, nil
}

// NewStoreFromClient 复用已有连接
func NewStoreFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Client 底层连接
func (s *Store) Client() *redis.Client {
	return s.client
}

// Close 关闭 Redis 连接
func (s *Store) Close() error {
	return s.client.Close()
}
