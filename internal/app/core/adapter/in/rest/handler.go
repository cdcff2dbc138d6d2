package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-wallet-ledger/pkg/jwt"
)

// maxBodyBytes 請求 body 上限
const maxBodyBytes = 1 << 20

// Observer HTTP 層用到的 metrics
type Observer interface {
	ObserveRequest(transport, method, route string, status int, elapsed time.Duration)
	ObserveReport(kind domain.TransactionKind, action string)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, string, string, int, time.Duration) {}
func (nopObserver) ObserveReport(domain.TransactionKind, string)                {}

// HealthCheck 回傳 nil 代表可以服務
type HealthCheck func(ctx context.Context) error

// Handler HTTP 處理器
type Handler struct {
	processor *usecase.Processor
	reports   *usecase.ReportGenerator
	auditor   *usecase.Auditor
	cache     usecase.BalanceCache
	observer  Observer
	health    HealthCheck
	logger    *zap.Logger
}

// BalanceResponse 餘額回應
// Balance 來自儲存層；CachedBalance 是 session 快取的值，只供顯示
type BalanceResponse struct {
	AccountKey    string `json:"account_key"`
	Balance       string `json:"balance"`
	CachedBalance string `json:"cached_balance,omitempty"`
}

// ExportRequest 匯出請求
type ExportRequest struct {
	DateFrom string `json:"date_from,omitempty"`
	DateTo   string `json:"date_fin,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// ExportResponse 匯出結果
type ExportResponse struct {
	Path  string `json:"path"`
	Count int    `json:"count"`
	Total string `json:"total"`
}

type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// PostTransaction POST /v1/transactions
func (h *Handler) PostTransaction(w http.ResponseWriter, r *http.Request) {
	var req domain.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	session := h.session(r)
	req.AccountKey = session.AccountKey
	in, err := usecase.ParseRequest(req)
	if err != nil {
		writeJSON(w, statusFor(err), domain.ErrorResponse(err))
		return
	}
	tran, err := session.Post(r.Context(), in.Kind, in.Amount, in.RefID)
	if err != nil {
		writeJSON(w, statusFor(err), domain.ErrorResponse(err))
		return
	}
	writeJSON(w, http.StatusOK, domain.SuccessResponse(tran))
}

// GetBalance GET /v1/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	session := h.session(r)
	balance, err := h.processor.Balance(r.Context(), session.AccountKey)
	if err != nil {
		h.fail(w, err)
		return
	}
	resp := BalanceResponse{
		AccountKey: session.AccountKey,
		Balance:    balance.StringFixed(domain.AmountScale),
	}
	if cached, err := session.CachedBalance(r.Context()); err == nil {
		resp.CachedBalance = cached.StringFixed(domain.AmountScale)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetReport GET /v1/reports/{kind}?date_from=&date_fin=
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		h.fail(w, err)
		return
	}
	record, err := h.reports.Generate(r.Context(), domain.ReportRequest{
		Kind:     kind,
		DateFrom: r.URL.Query().Get("date_from"),
		DateTo:   r.URL.Query().Get("date_fin"),
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	h.observer.ObserveReport(kind, "generate")
	writeJSON(w, http.StatusOK, record)
}

// ExportReport POST /v1/reports/{kind}/export
func (h *Handler) ExportReport(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		h.fail(w, err)
		return
	}
	var req ExportRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	record, err := h.reports.Generate(r.Context(), domain.ReportRequest{
		Kind:     kind,
		DateFrom: req.DateFrom,
		DateTo:   req.DateTo,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	path, err := h.reports.Export(record, req.Filename)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.observer.ObserveReport(kind, "export")
	writeJSON(w, http.StatusCreated, ExportResponse{
		Path:  path,
		Count: record.Count,
		Total: record.Total.StringFixed(domain.AmountScale),
	})
}

// Reconcile GET /v1/accounts/{key}/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	rec, err := h.auditor.Reconcile(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		*usecase.Reconciliation
		Drift      decimal.Decimal `json:"drift"`
		Consistent bool            `json:"consistent"`
	}{rec, rec.Drift(), rec.Consistent()})
}

// Healthz GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.health(ctx); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// session 依 token 接上 session，沒有 sid 時一個帳戶共用一份快取
func (h *Handler) session(r *http.Request) *usecase.Session {
	claims, _ := jwt.FromContext(r.Context())
	sessionID := claims.SessionID
	if sessionID == "" {
		sessionID = claims.AccountKey()
	}
	return h.processor.AttachSession(sessionID, claims.AccountKey(), h.cache)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if domain.IsInternal(err) {
		h.logger.Error("request failed", zap.Error(err))
	}
	writeError(w, statusFor(err), domain.Message(err))
}

// statusFor 錯誤對應的 HTTP 狀態碼
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidKind),
		errors.Is(err, domain.ErrInvalidDate),
		errors.Is(err, domain.ErrInvalidReference):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrTransactionNotFound),
		errors.Is(err, domain.ErrNoData):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAccountDisabled):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrTransactionAlreadyProcessed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Status: domain.StatusError, Message: message})
}
