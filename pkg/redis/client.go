package redis

import (
	"context"
	"fmt"

	"homewatch/internal/config"

	"github.com/go-redis/redis/v8"
)

// Client Redis客户端类型别名
type Client = redis.Client

// Connect 创建 Redis 客户端并验证连通性
// 快照缓存和事件流都走这一个连接池
func Connect(ctx context.Context, cfg *config.RedisConfig) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// Close 关闭Redis连接
func Close(client *Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
