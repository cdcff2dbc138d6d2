package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout 報表日期格式
const DateLayout = "2006-01-02"

// ReportRequest 報表請求，日期為 YYYY-MM-DD，空字串代表使用預設區間
type ReportRequest struct {
	Kind     TransactionKind `json:"kind"`
	DateFrom string          `json:"date_from,omitempty"`
	DateTo   string          `json:"date_fin,omitempty"`
}

// ReportRow 報表中的一列
type ReportRow struct {
	TransactionID string          `json:"transaction_id"`
	AccountKey    string          `json:"account_key"`
	Document      string          `json:"document"`
	Email         string          `json:"email"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ReportRecord 報表結果
type ReportRecord struct {
	Kind        TransactionKind `json:"kind"`
	From        time.Time       `json:"from"`
	To          time.Time       `json:"to"`
	GeneratedAt time.Time       `json:"generated_at"`
	Rows        []ReportRow     `json:"rows"`
	Count       int             `json:"count"`
	Total       decimal.Decimal `json:"total"`
}
