package usecase

import (
	"context"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
)

// CounterStore 持久化的流水號
type CounterStore interface {
	// NextCounter 原子遞增並回傳該類型的流水號，同一個值不會回傳兩次
	NextCounter(ctx context.Context, kind domain.TransactionKind) (int64, error)
}

// AccountReader 讀取帳戶
type AccountReader interface {
	// GetAccount 取得帳戶，不存在時回傳 domain.ErrAccountNotFound
	GetAccount(ctx context.Context, key string) (*domain.Account, error)
}

// LedgerStore 是帳本儲存層的介面
//
// 所有寫入操作都必須對並行呼叫者保持原子性；失敗時不能留下部分狀態。
type LedgerStore interface {
	AccountReader
	CounterStore

	// UpsertAccount 依 Key 合併帳戶資料，沒帶的欄位保留原值；餘額只在建立時寫入
	UpsertAccount(ctx context.Context, account domain.Account) (*domain.Account, error)

	// AppendTransaction 寫入交易並在同一個原子操作內更新帳戶餘額
	// 成功時會填入 tran.BalanceAfter
	AppendTransaction(ctx context.Context, tran *domain.Transaction) error

	// FindByRefID 依 RefID 找已處理的交易，不存在時回傳 domain.ErrTransactionNotFound
	FindByRefID(ctx context.Context, refID uuid.UUID) (*domain.Transaction, error)

	// ListTransactions 依條件列出交易，依時間遞增排序
	ListTransactions(ctx context.Context, query domain.TransactionQuery) ([]domain.Transaction, error)
}
