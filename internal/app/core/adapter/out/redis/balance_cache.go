package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/usecase"
)

// DefaultTTL session 餘額在 Redis 中的存活時間
const DefaultTTL = 30 * time.Minute

// applyScript key 存在才套用變動量，不存在回傳 nil (視為 cache miss)
// 避免在過期的 session 上憑空長出一個從 0 開始的餘額
var applyScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return false
end
local v = redis.call("INCRBY", KEYS[1], ARGV[1])
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return v
`)

// Config Redis 連線設定
type Config struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// BalanceCache 以 Redis 保存 session 餘額，數值是以分為單位的整數
type BalanceCache struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewBalanceCache 連線並 Ping 一次，失敗時關閉 client
func NewBalanceCache(ctx context.Context, cfg Config) (*BalanceCache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return NewBalanceCacheWithClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewBalanceCacheWithClient 使用既有的 client (單機或 cluster 都可以)
func NewBalanceCacheWithClient(client goredis.UniversalClient, prefix string, ttl time.Duration) *BalanceCache {
	if prefix == "" {
		prefix = "ledger:session:"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &BalanceCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *BalanceCache) key(sessionID string) string {
	return c.prefix + sessionID + ":balance"
}

func (c *BalanceCache) Get(ctx context.Context, sessionID string) (decimal.Decimal, error) {
	minor, err := c.client.Get(ctx, c.key(sessionID)).Int64()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return decimal.Zero, usecase.ErrCacheMiss
		}
		return decimal.Zero, err
	}
	return domain.FromMinor(minor), nil
}

func (c *BalanceCache) Set(ctx context.Context, sessionID string, balance decimal.Decimal) error {
	return c.client.Set(ctx, c.key(sessionID), domain.ToMinor(balance), c.ttl).Err()
}

func (c *BalanceCache) Apply(ctx context.Context, sessionID string, delta decimal.Decimal) error {
	err := applyScript.Run(ctx, c.client,
		[]string{c.key(sessionID)},
		domain.ToMinor(delta),
		c.ttl.Milliseconds(),
	).Err()
	if errors.Is(err, goredis.Nil) {
		return usecase.ErrCacheMiss
	}
	return err
}

func (c *BalanceCache) Invalidate(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, c.key(sessionID)).Err()
}

// Close 關閉連線
func (c *BalanceCache) Close() error {
	return c.client.Close()
}

var _ usecase.BalanceCache = (*BalanceCache)(nil)
