package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionKind 交易類型
type TransactionKind string

const (
	// 存款 (recarga)
	TransactionKindDeposit TransactionKind = "deposit"
	// 提款 (retiro)
	TransactionKindWithdrawal TransactionKind = "withdrawal"
)

// CounterSeed 每種交易類型的流水號起始值
const CounterSeed int64 = 1000

// Kinds 回傳所有交易類型 (固定順序)
func Kinds() []TransactionKind {
	return []TransactionKind{TransactionKindDeposit, TransactionKindWithdrawal}
}

// ParseKind 解析外部傳入的交易類型，接受單複數與西文別名
func ParseKind(raw string) (TransactionKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "deposit", "deposits", "recarga", "recargas":
		return TransactionKindDeposit, nil
	case "withdrawal", "withdrawals", "withdraw", "retiro", "retiros":
		return TransactionKindWithdrawal, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, raw)
	}
}

// Valid 是否為已知類型
func (k TransactionKind) Valid() bool {
	return k == TransactionKindDeposit || k == TransactionKindWithdrawal
}

// Prefix 交易編號前綴
func (k TransactionKind) Prefix() string {
	switch k {
	case TransactionKindDeposit:
		return "REC"
	case TransactionKindWithdrawal:
		return "RET"
	default:
		return ""
	}
}

// FormatID 依流水號組出交易編號，例如 REC-1000
func (k TransactionKind) FormatID(seq int64) string {
	return fmt.Sprintf("%s-%d", k.Prefix(), seq)
}

// Delta 交易對餘額造成的帶號變動量
func (k TransactionKind) Delta(amount decimal.Decimal) decimal.Decimal {
	if k == TransactionKindWithdrawal {
		return amount.Neg()
	}
	return amount
}

// Transaction 交易紀錄，建立後不可修改 (append-only ledger)
type Transaction struct {
	// ID: 對外的交易編號 (REC-1000 / RET-1000)，同類型內唯一
	ID string `json:"id"`
	// Seq: ID 背後的流水號，用於同一時間戳的排序
	Seq int64 `json:"seq"`
	// RefID: 呼叫端的追蹤號，重送時用來做冪等
	RefID      uuid.UUID       `json:"ref_id"`
	Kind       TransactionKind `json:"kind"`
	AccountKey string          `json:"account_key"`
	Amount     decimal.Decimal `json:"amount"`
	CreatedAt  time.Time       `json:"created_at"`
	// BalanceAfter: 交易完成後的餘額快照 (稽核用)
	BalanceAfter decimal.Decimal `json:"balance_after"`
}

// TransactionQuery 查詢條件，From/To 皆為包含邊界
type TransactionQuery struct {
	Kind       TransactionKind
	From       time.Time
	To         time.Time
	AccountKey string // 空字串代表所有帳戶
}

// Match 判斷交易是否符合查詢條件
func (q TransactionQuery) Match(tran *Transaction) bool {
	if q.Kind != "" && tran.Kind != q.Kind {
		return false
	}
	if q.AccountKey != "" && tran.AccountKey != q.AccountKey {
		return false
	}
	if !q.From.IsZero() && tran.CreatedAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && tran.CreatedAt.After(q.To) {
		return false
	}
	return true
}

// Less 帳本排序：先依時間，再依流水號
func Less(a, b *Transaction) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	return a.Seq < b.Seq
}
