package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisherConfig 描述 Redis 事件流的连接参数。
type RedisPublisherConfig struct {
	Address  string
	Password string
	DB       int
	List     string
}

// RedisPublisher 将账本事件以 JSON 形式写入 Redis list。
type RedisPublisher struct {
	client *redis.Client
	list   string
}

// NewRedisPublisher 创建 Redis 事件发布器。
func NewRedisPublisher(cfg RedisPublisherConfig) (*RedisPublisher, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	list := cfg.List
	if list == "" {
		list = "provchain:events"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisPublisher{client: client, list: list}, nil
}

// Publish 将事件投递到 Redis。
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("编码账本事件失败: %w", err)
	}
	if err := p.client.LPush(ctx, p.list, payload).Err(); err != nil {
		return fmt.Errorf("Redis 发布事件失败: %w", err)
	}
	return nil
}

// Close 关闭 Redis 连接。
func (p *RedisPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

// ensure interface compliance at compile time
var _ Publisher = (*RedisPublisher)(nil)
