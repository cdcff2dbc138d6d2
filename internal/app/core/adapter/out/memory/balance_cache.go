package memory

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/usecase"
)

// BalanceCache 單一程序內的 session 餘額快取
type BalanceCache struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
}

func NewBalanceCache() *BalanceCache {
	return &BalanceCache{balances: make(map[string]decimal.Decimal)}
}

func (c *BalanceCache) Get(ctx context.Context, sessionID string) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	balance, ok := c.balances[sessionID]
	if !ok {
		return decimal.Zero, usecase.ErrCacheMiss
	}
	return balance, nil
}

func (c *BalanceCache) Set(ctx context.Context, sessionID string, balance decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[sessionID] = balance
	return nil
}

func (c *BalanceCache) Apply(ctx context.Context, sessionID string, delta decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	balance, ok := c.balances[sessionID]
	if !ok {
		return usecase.ErrCacheMiss
	}
	c.balances[sessionID] = balance.Add(delta)
	return nil
}

func (c *BalanceCache) Invalidate(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.balances, sessionID)
	return nil
}

var _ usecase.BalanceCache = (*BalanceCache)(nil)
