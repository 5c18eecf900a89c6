// Package redis 提供存活链的 Redis 读缓存。
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quantfold/optionvault/internal/optionchain/domain"
	"github.com/redis/go-redis/v9"
)

// ChainCache application.ChainCache 的 Redis 实现。
type ChainCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewChainCache 创建链缓存
func NewChainCache(client redis.UniversalClient, ttl time.Duration) *ChainCache {
	return &ChainCache{
		client: client,
		prefix: "optionchain:live:",
		ttl:    ttl,
	}
}

// Get 缓存未命中时返回 (nil, nil)
func (c *ChainCache) Get(ctx context.Context, symbol string) ([]*domain.OptionContract, error) {
	data, err := c.client.Get(ctx, c.prefix+symbol).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get chain from redis: %w", err)
	}

	var contracts []*domain.OptionContract
	if err := json.Unmarshal(data, &contracts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached chain: %w", err)
	}
	return contracts, nil
}

// Set 写入整链快照
func (c *ChainCache) Set(ctx context.Context, symbol string, contracts []*domain.OptionContract) error {
	data, err := json.Marshal(contracts)
	if err != nil {
		return fmt.Errorf("failed to marshal chain: %w", err)
	}
	return c.client.Set(ctx, c.prefix+symbol, data, c.ttl).Err()
}

// Invalidate 删除缓存键
func (c *ChainCache) Invalidate(ctx context.Context, symbol string) error {
	return c.client.Del(ctx, c.prefix+symbol).Err()
}
