package domain

import "errors"

var (
	// ErrInvalidAmount 金額不是正數或格式錯誤
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientFunds 餘額不足
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAccountNotFound 找不到帳戶
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountDisabled 帳戶已停用
	ErrAccountDisabled = errors.New("account disabled")

	// ErrDuplicateID 交易編號重複 (發號器與儲存層不一致，屬內部錯誤)
	ErrDuplicateID = errors.New("duplicate transaction id")

	// ErrTransactionAlreadyProcessed 交易已處理 (同一個 RefID)
	ErrTransactionAlreadyProcessed = errors.New("transaction already processed")

	// ErrTransactionNotFound 找不到交易
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrNoData 報表沒有資料可匯出
	ErrNoData = errors.New("no data")

	// ErrStoreUnavailable 儲存層無法使用
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidKind 未知的交易類型
	ErrInvalidKind = errors.New("invalid transaction kind")

	// ErrInvalidDate 日期格式錯誤或區間顛倒
	ErrInvalidDate = errors.New("invalid date")

	// ErrInvalidReference RefID 不是合法的 UUID
	ErrInvalidReference = errors.New("invalid reference id")
)

// Message 把錯誤轉成對外的分類訊息，不暴露儲存層細節
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidAmount):
		return "the amount must be a positive number with at most two decimals"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient funds for this withdrawal"
	case errors.Is(err, ErrAccountNotFound):
		return "account not found"
	case errors.Is(err, ErrAccountDisabled):
		return "account is disabled"
	case errors.Is(err, ErrInvalidKind):
		return "unknown transaction kind"
	case errors.Is(err, ErrInvalidDate):
		return "invalid date range"
	case errors.Is(err, ErrInvalidReference):
		return "ref_id must be a valid UUID"
	case errors.Is(err, ErrNoData):
		return "no data to export"
	case errors.Is(err, ErrTransactionNotFound):
		return "transaction not found"
	case errors.Is(err, ErrTransactionAlreadyProcessed):
		return "ref_id was already used for a different transaction"
	default:
		return "internal error, please try again later"
	}
}

// IsInternal 是否為內部錯誤 (呼叫端無法修正)
func IsInternal(err error) bool {
	if err == nil {
		return false
	}
	for _, known := range []error{
		ErrInvalidAmount,
		ErrInsufficientFunds,
		ErrAccountNotFound,
		ErrAccountDisabled,
		ErrInvalidKind,
		ErrInvalidDate,
		ErrInvalidReference,
		ErrNoData,
		ErrTransactionNotFound,
		ErrTransactionAlreadyProcessed,
	} {
		if errors.Is(err, known) {
			return false
		}
	}
	return true
}
