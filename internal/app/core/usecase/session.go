package usecase

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
)

// ErrCacheMiss 快取中沒有該 session 的餘額
var ErrCacheMiss = errors.New("balance cache miss")

// BalanceCache 呼叫端 session 持有的餘額副本
//
// 這份資料不是權威來源：可能落後於儲存層，任何驗證都不能讀它。
type BalanceCache interface {
	Get(ctx context.Context, sessionID string) (decimal.Decimal, error)
	Set(ctx context.Context, sessionID string, balance decimal.Decimal) error
	// Apply 套用帶號變動量，session 不存在時回傳 ErrCacheMiss
	Apply(ctx context.Context, sessionID string, delta decimal.Decimal) error
	Invalidate(ctx context.Context, sessionID string) error
}

// Session 一個登入中的呼叫端，包裝交易處理並同步快取餘額
type Session struct {
	ID         string
	AccountKey string

	processor *Processor
	accounts  AccountReader
	cache     BalanceCache
	logger    *zap.Logger
}

// OpenSession 建立 session，並直接從儲存層讀取餘額重建快取
func (p *Processor) OpenSession(ctx context.Context, sessionID, accountKey string, cache BalanceCache) (*Session, error) {
	s := p.AttachSession(sessionID, accountKey, cache)
	if _, err := s.Resync(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// AttachSession 接上一個已存在的 session，不重建快取
// 快取不存在時，下一次交易或讀取會自己重建
func (p *Processor) AttachSession(sessionID, accountKey string, cache BalanceCache) *Session {
	return &Session{
		ID:         sessionID,
		AccountKey: accountKey,
		processor:  p,
		accounts:   p.store,
		cache:      cache,
		logger:     p.logger.With(zap.String("session", sessionID)),
	}
}

// Deposit 存款並同步快取
func (s *Session) Deposit(ctx context.Context, amount decimal.Decimal) (*domain.Transaction, error) {
	return s.Post(ctx, domain.TransactionKindDeposit, amount, uuid.Nil)
}

// Withdraw 提款並同步快取
func (s *Session) Withdraw(ctx context.Context, amount decimal.Decimal) (*domain.Transaction, error) {
	return s.Post(ctx, domain.TransactionKindWithdrawal, amount, uuid.Nil)
}

// Post 送出交易，成功後把相同的變動量套到快取上
func (s *Session) Post(ctx context.Context, kind domain.TransactionKind, amount decimal.Decimal, refID uuid.UUID) (*domain.Transaction, error) {
	tran, err := s.processor.Post(ctx, Intent{
		AccountKey: s.AccountKey,
		Kind:       kind,
		Amount:     amount,
		RefID:      refID,
	})
	if err != nil {
		return nil, err
	}
	// 帶 RefID 的請求可能是重送，變動量已經套用過，直接以儲存層為準
	if refID != uuid.Nil {
		if _, err := s.Resync(ctx); err != nil {
			s.logger.Warn("balance cache resync failed, invalidating", zap.String("transaction", tran.ID), zap.Error(err))
			_ = s.cache.Invalidate(ctx, s.ID)
		}
		return tran, nil
	}
	s.sync(ctx, tran)
	return tran, nil
}

// Handle 與 Processor.Handle 相同的邊界格式，成功時同步快取
// 請求中的 AccountKey 一律以 session 為準
func (s *Session) Handle(ctx context.Context, req domain.Request) domain.Response {
	req.AccountKey = s.AccountKey
	in, err := ParseRequest(req)
	if err != nil {
		return domain.ErrorResponse(err)
	}
	tran, err := s.Post(ctx, in.Kind, in.Amount, in.RefID)
	if err != nil {
		return domain.ErrorResponse(err)
	}
	return domain.SuccessResponse(tran)
}

// sync 快取同步失敗不影響交易結果，只讓下一次讀取時重建
func (s *Session) sync(ctx context.Context, tran *domain.Transaction) {
	err := s.cache.Apply(ctx, s.ID, tran.Kind.Delta(tran.Amount))
	if err == nil {
		return
	}
	if errors.Is(err, ErrCacheMiss) {
		if _, err := s.Resync(ctx); err == nil {
			return
		}
	}
	s.logger.Warn("balance cache out of sync, invalidating", zap.String("transaction", tran.ID), zap.Error(err))
	_ = s.cache.Invalidate(ctx, s.ID)
}

// CachedBalance 讀取快取中的餘額 (可能過期)，沒有快取時重建
func (s *Session) CachedBalance(ctx context.Context) (decimal.Decimal, error) {
	balance, err := s.cache.Get(ctx, s.ID)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		s.logger.Warn("balance cache read failed", zap.Error(err))
	}
	return s.Resync(ctx)
}

// Resync 以儲存層的餘額覆蓋快取
func (s *Session) Resync(ctx context.Context) (decimal.Decimal, error) {
	account, err := s.accounts.GetAccount(ctx, s.AccountKey)
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.cache.Set(ctx, s.ID, account.Balance); err != nil {
		s.logger.Warn("balance cache write failed", zap.Error(err))
	}
	return account.Balance, nil
}

// Close 結束 session 並清除快取
func (s *Session) Close(ctx context.Context) error {
	return s.cache.Invalidate(ctx, s.ID)
}
