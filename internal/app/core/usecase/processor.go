package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
)

// DefaultTimeout 單筆交易的預設逾時
const DefaultTimeout = 5 * time.Second

// Recorder 交易結果的觀測點 (metrics)
type Recorder interface {
	ObserveTransaction(kind domain.TransactionKind, outcome string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveTransaction(domain.TransactionKind, string, time.Duration) {}

// Publisher 交易寫入後對外發出事件，失敗只記錄，不影響交易結果
type Publisher interface {
	PublishTransaction(ctx context.Context, tran domain.Transaction) error
}

// Intent 一筆交易意圖
type Intent struct {
	AccountKey string
	Kind       domain.TransactionKind
	Amount     decimal.Decimal
	// RefID 呼叫端追蹤號，重送同一個 RefID 會拿回原本的交易；uuid.Nil 代表不需要冪等
	RefID uuid.UUID
}

// Processor 交易處理核心：驗證 -> 發號 -> 原子寫入
type Processor struct {
	store     LedgerStore
	issuer    *Issuer
	logger    *zap.Logger
	recorder  Recorder
	publisher Publisher
	timeout   time.Duration
	now       func() time.Time
}

// ProcessorOption 定義 Processor 的配置選項函數
type ProcessorOption func(*Processor)

// WithLogger 設定 logger
func WithLogger(logger *zap.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithRecorder 設定 metrics 紀錄器
func WithRecorder(recorder Recorder) ProcessorOption {
	return func(p *Processor) {
		p.recorder = recorder
	}
}

// WithPublisher 設定交易事件的發送端
func WithPublisher(publisher Publisher) ProcessorOption {
	return func(p *Processor) {
		p.publisher = publisher
	}
}

// WithTimeout 設定單筆交易逾時，<= 0 時使用預設值
func WithTimeout(timeout time.Duration) ProcessorOption {
	return func(p *Processor) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// WithClock 替換時間來源 (測試用)
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		p.now = now
	}
}

func NewProcessor(store LedgerStore, issuer *Issuer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store:    store,
		issuer:   issuer,
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
		timeout:  DefaultTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Deposit 存款 (recarga)
func (p *Processor) Deposit(ctx context.Context, accountKey string, amount decimal.Decimal) (*domain.Transaction, error) {
	return p.Post(ctx, Intent{AccountKey: accountKey, Kind: domain.TransactionKindDeposit, Amount: amount})
}

// Withdraw 提款 (retiro)
func (p *Processor) Withdraw(ctx context.Context, accountKey string, amount decimal.Decimal) (*domain.Transaction, error) {
	return p.Post(ctx, Intent{AccountKey: accountKey, Kind: domain.TransactionKindWithdrawal, Amount: amount})
}

// Post 處理一筆交易
//
// 參數:
//
//	ctx: 上下文 (呼叫端取消時，尚未提交的交易不會留下任何變動)
//	in: 交易意圖
//
// 回傳:
//
//	*domain.Transaction: 已寫入的交易 (含交易後餘額)
//	error: 驗證錯誤或內部錯誤
func (p *Processor) Post(ctx context.Context, in Intent) (*domain.Transaction, error) {
	start := p.now()
	tran, err := p.post(ctx, in)
	elapsed := p.now().Sub(start)

	outcome := "success"
	switch {
	case err == nil:
		p.logger.Info("transaction committed",
			zap.String("id", tran.ID),
			zap.String("account", tran.AccountKey),
			zap.String("kind", string(tran.Kind)),
			zap.String("amount", tran.Amount.String()),
			zap.String("balance_after", tran.BalanceAfter.String()),
		)
	case domain.IsInternal(err):
		outcome = "internal_error"
		p.logger.Error("transaction failed",
			zap.String("account", in.AccountKey),
			zap.String("kind", string(in.Kind)),
			zap.Error(err),
		)
	default:
		outcome = "rejected"
		p.logger.Info("transaction rejected",
			zap.String("account", in.AccountKey),
			zap.String("kind", string(in.Kind)),
			zap.String("reason", err.Error()),
		)
	}
	p.recorder.ObserveTransaction(in.Kind, outcome, elapsed)
	return tran, err
}

func (p *Processor) post(ctx context.Context, in Intent) (*domain.Transaction, error) {
	if !in.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidKind, in.Kind)
	}
	if err := domain.ValidateAmount(in.Amount); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// 1. 帳戶檢查
	account, err := p.store.GetAccount(ctx, in.AccountKey)
	if err != nil {
		return nil, err
	}

	// 2. 冪等檢查，已提交的交易重送時不看目前的餘額與狀態
	if in.RefID != uuid.Nil {
		prev, err := p.store.FindByRefID(ctx, in.RefID)
		if err == nil {
			return replay(prev, in)
		}
		if !errors.Is(err, domain.ErrTransactionNotFound) {
			return nil, err
		}
	} else {
		in.RefID = uuid.New()
	}

	if !account.Active() {
		return nil, domain.ErrAccountDisabled
	}
	// 預檢餘額，避免被拒絕的提款也消耗一個編號；真正的檢查在 AppendTransaction 內
	if in.Kind == domain.TransactionKindWithdrawal && !account.CanWithdraw(in.Amount) {
		return nil, domain.ErrInsufficientFunds
	}

	// 3. 發號
	id, seq, err := p.issuer.Issue(ctx, in.Kind)
	if err != nil {
		return nil, err
	}

	// 4. 原子寫入 (餘額檢查 + 扣款/入帳 + 交易紀錄)
	tran := &domain.Transaction{
		ID:         id,
		Seq:        seq,
		RefID:      in.RefID,
		Kind:       in.Kind,
		AccountKey: in.AccountKey,
		Amount:     in.Amount,
		CreatedAt:  p.now().UTC().Truncate(time.Millisecond),
	}
	if err := p.store.AppendTransaction(ctx, tran); err != nil {
		if errors.Is(err, domain.ErrTransactionAlreadyProcessed) {
			// 同一個 RefID 並行送進來，另一個請求先完成
			prev, findErr := p.store.FindByRefID(ctx, in.RefID)
			if findErr != nil {
				return nil, findErr
			}
			return replay(prev, in)
		}
		return nil, err
	}
	p.publish(ctx, tran)
	return tran, nil
}

// publish 只在真正寫入時發送，重送不會再發一次
func (p *Processor) publish(ctx context.Context, tran *domain.Transaction) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishTransaction(ctx, *tran); err != nil {
		p.logger.Warn("publish transaction event failed", zap.String("id", tran.ID), zap.Error(err))
	}
}

// replay 重送時回傳原交易，但 RefID 不能被拿去做另一筆不同的交易
func replay(prev *domain.Transaction, in Intent) (*domain.Transaction, error) {
	if prev.AccountKey != in.AccountKey || prev.Kind != in.Kind || !prev.Amount.Equal(in.Amount) {
		return nil, fmt.Errorf("%w: ref_id %s belongs to %s", domain.ErrTransactionAlreadyProcessed, in.RefID, prev.ID)
	}
	return prev, nil
}

// Handle 對外邊界：把原始請求轉成交易並回傳統一格式
func (p *Processor) Handle(ctx context.Context, req domain.Request) domain.Response {
	in, err := ParseRequest(req)
	if err != nil {
		return domain.ErrorResponse(err)
	}
	tran, err := p.Post(ctx, in)
	if err != nil {
		return domain.ErrorResponse(err)
	}
	return domain.SuccessResponse(tran)
}

// ParseRequest 驗證並轉換外部請求的欄位
func ParseRequest(req domain.Request) (Intent, error) {
	kind, err := domain.ParseKind(req.Kind)
	if err != nil {
		return Intent{}, err
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		return Intent{}, err
	}
	refID := uuid.Nil
	if raw := strings.TrimSpace(req.RefID); raw != "" {
		refID, err = uuid.Parse(raw)
		if err != nil {
			return Intent{}, domain.ErrInvalidReference
		}
	}
	return Intent{
		AccountKey: req.AccountKey,
		Kind:       kind,
		Amount:     amount,
		RefID:      refID,
	}, nil
}

// Balance 讀取權威餘額 (永遠以儲存層為準)
func (p *Processor) Balance(ctx context.Context, accountKey string) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	account, err := p.store.GetAccount(ctx, accountKey)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance, nil
}
