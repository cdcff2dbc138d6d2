package usecase

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
)

// Reconciliation 帳本重建結果
type Reconciliation struct {
	AccountKey  string          `json:"account_key"`
	Stored      decimal.Decimal `json:"stored"`
	Expected    decimal.Decimal `json:"expected"`
	Deposits    int             `json:"deposits"`
	Withdrawals int             `json:"withdrawals"`
}

// Drift 儲存的餘額與帳本推算值的差
func (r Reconciliation) Drift() decimal.Decimal {
	return r.Stored.Sub(r.Expected)
}

// Consistent 餘額是否等於期初 + 存款 - 提款
func (r Reconciliation) Consistent() bool {
	return r.Drift().IsZero()
}

// Auditor 稽核帳本
type Auditor struct {
	store LedgerStore
}

func NewAuditor(store LedgerStore) *Auditor {
	return &Auditor{store: store}
}

// reconcileAttempts 帳戶在讀取期間一直有新交易時的重試次數
const reconcileAttempts = 3

// Reconcile 由帳本重算帳戶餘額
//
// 帳戶與交易分兩次讀取，中間若有交易提交 (前後兩次讀到的餘額不同) 就重讀；
// 重試用盡時以列出的最後一筆交易的 BalanceAfter 當作比對基準
func (a *Auditor) Reconcile(ctx context.Context, accountKey string) (*Reconciliation, error) {
	var (
		account *domain.Account
		trans   []domain.Transaction
	)
	for attempt := 1; ; attempt++ {
		before, err := a.store.GetAccount(ctx, accountKey)
		if err != nil {
			return nil, err
		}
		trans, err = a.store.ListTransactions(ctx, domain.TransactionQuery{AccountKey: accountKey})
		if err != nil {
			return nil, err
		}
		account, err = a.store.GetAccount(ctx, accountKey)
		if err != nil {
			return nil, err
		}
		if before.Balance.Equal(account.Balance) {
			break
		}
		if attempt >= reconcileAttempts {
			if n := len(trans); n > 0 {
				account.Balance = trans[n-1].BalanceAfter
			}
			break
		}
	}

	rec := &Reconciliation{
		AccountKey: accountKey,
		Stored:     account.Balance,
		Expected:   account.OpeningBalance,
	}
	for i := range trans {
		rec.Expected = rec.Expected.Add(trans[i].Kind.Delta(trans[i].Amount))
		switch trans[i].Kind {
		case domain.TransactionKindDeposit:
			rec.Deposits++
		case domain.TransactionKindWithdrawal:
			rec.Withdrawals++
		}
	}
	return rec, nil
}
