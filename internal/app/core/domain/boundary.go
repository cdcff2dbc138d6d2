package domain

// 對外邊界 (HTTP / gRPC) 共用的請求與回應格式

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Request 交易請求
type Request struct {
	AccountKey string `json:"-"` // 由認證層提供，不從 body 讀
	Kind       string `json:"kind"`
	Amount     string `json:"amount"`
	RefID      string `json:"ref_id,omitempty"`
}

// Response 交易回應
type Response struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id,omitempty"`
	NewBalance    string `json:"new_balance,omitempty"`
	Message       string `json:"message,omitempty"`
}

// SuccessResponse 由完成的交易組出成功回應
func SuccessResponse(tran *Transaction) Response {
	return Response{
		Status:        StatusSuccess,
		TransactionID: tran.ID,
		NewBalance:    tran.BalanceAfter.StringFixed(AmountScale),
	}
}

// ErrorResponse 由錯誤組出失敗回應 (只帶分類訊息)
func ErrorResponse(err error) Response {
	return Response{
		Status:  StatusError,
		Message: Message(err),
	}
}
