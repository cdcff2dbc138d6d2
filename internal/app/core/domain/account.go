package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountStatus 帳戶狀態 (只做軟停用，不刪除)
type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusDisabled AccountStatus = "disabled"
)

// Account 帳戶
type Account struct {
	Key      string `json:"key"`
	Document string `json:"document"`
	Email    string `json:"email"`
	// Balance 目前餘額，只有 AppendTransaction 會改動
	Balance decimal.Decimal `json:"balance"`
	// OpeningBalance 註冊時帶入的餘額，帳本重建時的起點
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	RegisteredAt   time.Time       `json:"registered_at"`
	Status         AccountStatus   `json:"status"`
}

// NewAccount 建立一個啟用中的帳戶
func NewAccount(key string, balance decimal.Decimal) *Account {
	return &Account{
		Key:            key,
		Balance:        balance,
		OpeningBalance: balance,
		RegisteredAt:   time.Now().UTC(),
		Status:         AccountStatusActive,
	}
}

// Active 帳戶是否可交易
func (a *Account) Active() bool {
	return a.Status != AccountStatusDisabled
}

// Merge 以 patch 中有值的欄位覆蓋現有資料，餘額不經由 Merge 改動
func (a *Account) Merge(patch Account) {
	if patch.Document != "" {
		a.Document = patch.Document
	}
	if patch.Email != "" {
		a.Email = patch.Email
	}
	if !patch.RegisteredAt.IsZero() {
		a.RegisteredAt = patch.RegisteredAt
	}
	if patch.Status != "" {
		a.Status = patch.Status
	}
}

// Apply 套用一筆交易到餘額上
//
// 參數:
//
//	kind: 交易類型
//	amount: 金額 (必須為正數)
//
// 回傳:
//
//	decimal.Decimal: 交易後餘額
//	error: ErrInvalidAmount / ErrAccountDisabled / ErrInsufficientFunds
func (a *Account) Apply(kind TransactionKind, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := ValidateAmount(amount); err != nil {
		return a.Balance, err
	}
	if !a.Active() {
		return a.Balance, ErrAccountDisabled
	}
	switch kind {
	case TransactionKindDeposit:
		a.Balance = a.Balance.Add(amount)
	case TransactionKindWithdrawal:
		if a.Balance.LessThan(amount) {
			return a.Balance, ErrInsufficientFunds
		}
		a.Balance = a.Balance.Sub(amount)
	default:
		return a.Balance, ErrInvalidKind
	}
	return a.Balance, nil
}

// CanWithdraw 餘額是否足夠 (只是預檢，真正的檢查在儲存層的原子操作裡)
func (a *Account) CanWithdraw(amount decimal.Decimal) bool {
	return !a.Balance.LessThan(amount)
}
