package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"riplimit/internal/config"
	"riplimit/internal/service"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

// NewRedisClient 创建客户端并 Ping 确认连通
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", client.Options().Addr, err)
	}

	log.Printf("[Redis] 连接成功: %s", client.Options().Addr)
	return client, nil
}

const statsKey = "ledger:stats:system"

// StatsCache 管理后台系统统计的短期缓存
type StatsCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewStatsCache(client redis.UniversalClient, ttl time.Duration) *StatsCache {
	return &StatsCache{client: client, ttl: ttl}
}

// Get 未命中返回 (nil, nil)
func (c *StatsCache) Get(ctx context.Context) (*service.SystemStats, error) {
	raw, err := c.client.Get(ctx, statsKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	stats := &service.SystemStats{}
	if err := json.Unmarshal(raw, stats); err != nil {
		return nil, fmt.Errorf("decode cached stats: %w", err)
	}
	return stats, nil
}

func (c *StatsCache) Set(ctx context.Context, stats *service.SystemStats) error {
	if c.ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, statsKey, raw, c.ttl).Err()
}
