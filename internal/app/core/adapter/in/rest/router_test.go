package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-wallet-ledger/pkg/jwt"
)

const testSecret = "test-secret"

type testServer struct {
	handler http.Handler
	cache   *memory.BalanceCache
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := memory.NewLedgerStore(nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	for _, key := range []string{"acc-1", "acc-2"} {
		_, err := store.UpsertAccount(ctx, domain.Account{Key: key, Document: "DOC-" + key, Email: key + "@example.com"})
		if err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}

	cache := memory.NewBalanceCache()
	processor := usecase.NewProcessor(store, usecase.NewIssuer(store))
	reports := usecase.NewReportGenerator(store, usecase.ReportConfig{ExportDir: t.TempDir()}, nil)
	handler := NewRouter(Deps{
		Processor: processor,
		Reports:   reports,
		Auditor:   usecase.NewAuditor(store),
		Cache:     cache,
		JWTSecret: testSecret,
	})
	return &testServer{handler: handler, cache: cache}
}

func token(t *testing.T, accountKey, role string) string {
	t.Helper()
	tok, err := jwt.GenerateToken(accountKey, "", role, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return tok
}

func (s *testServer) do(t *testing.T, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestTransactionFlow(t *testing.T) {
	srv := newTestServer(t)
	tok := token(t, "acc-1", "")

	rec := srv.do(t, http.MethodPost, "/v1/transactions", tok, map[string]string{"kind": "recarga", "amount": "100"})
	if rec.Code != http.StatusOK {
		t.Fatalf("deposit status = %d body = %s", rec.Code, rec.Body)
	}
	resp := decode[domain.Response](t, rec)
	if resp.Status != domain.StatusSuccess || resp.TransactionID != "REC-1000" || resp.NewBalance != "100.00" {
		t.Fatalf("deposit response = %+v", resp)
	}

	rec = srv.do(t, http.MethodPost, "/v1/transactions", tok, map[string]string{"kind": "retiro", "amount": "200"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("overdraw status = %d", rec.Code)
	}
	resp = decode[domain.Response](t, rec)
	if resp.Status != domain.StatusError || resp.Message != domain.Message(domain.ErrInsufficientFunds) {
		t.Fatalf("overdraw response = %+v", resp)
	}

	rec = srv.do(t, http.MethodPost, "/v1/transactions", tok, map[string]string{"kind": "retiro", "amount": "30.5"})
	resp = decode[domain.Response](t, rec)
	if resp.TransactionID != "RET-1000" || resp.NewBalance != "69.50" {
		t.Fatalf("withdraw response = %+v", resp)
	}

	rec = srv.do(t, http.MethodGet, "/v1/balance", tok, nil)
	balance := decode[BalanceResponse](t, rec)
	if balance.Balance != "69.50" || balance.CachedBalance != "69.50" || balance.AccountKey != "acc-1" {
		t.Fatalf("balance = %+v", balance)
	}

	cached, err := srv.cache.Get(context.Background(), "acc-1")
	if err != nil || !cached.Equal(decimal.RequireFromString("69.5")) {
		t.Fatalf("session cache = %s, %v", cached, err)
	}
}

func TestTransactionValidation(t *testing.T) {
	srv := newTestServer(t)
	tok := token(t, "acc-1", "")

	cases := []struct {
		name string
		body any
		code int
	}{
		{"negative amount", map[string]string{"kind": "deposit", "amount": "-5"}, http.StatusBadRequest},
		{"three decimals", map[string]string{"kind": "deposit", "amount": "1.005"}, http.StatusBadRequest},
		{"unknown kind", map[string]string{"kind": "transfer", "amount": "5"}, http.StatusBadRequest},
		{"bad ref", map[string]string{"kind": "deposit", "amount": "5", "ref_id": "nope"}, http.StatusBadRequest},
		{"unknown field", map[string]string{"kind": "deposit", "amount": "5", "account_key": "acc-2"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := srv.do(t, http.MethodPost, "/v1/transactions", tok, tc.body)
			if rec.Code != tc.code {
				t.Fatalf("status = %d, want %d body = %s", rec.Code, tc.code, rec.Body)
			}
		})
	}

	rec := srv.do(t, http.MethodPost, "/v1/transactions", token(t, "ghost", ""), map[string]string{"kind": "deposit", "amount": "5"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown account status = %d", rec.Code)
	}
}

func TestIdempotentRetry(t *testing.T) {
	srv := newTestServer(t)
	tok := token(t, "acc-1", "")
	body := map[string]string{"kind": "deposit", "amount": "10", "ref_id": "6f1c2a56-7d0e-4f0a-9d7c-1f7f2a2b3c4d"}

	first := decode[domain.Response](t, srv.do(t, http.MethodPost, "/v1/transactions", tok, body))
	second := decode[domain.Response](t, srv.do(t, http.MethodPost, "/v1/transactions", tok, body))
	if first.TransactionID != second.TransactionID || second.NewBalance != "10.00" {
		t.Fatalf("replay = %+v, first = %+v", second, first)
	}

	body["amount"] = "11"
	rec := srv.do(t, http.MethodPost, "/v1/transactions", tok, body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("reused ref status = %d", rec.Code)
	}
}

func TestAuth(t *testing.T) {
	srv := newTestServer(t)

	if rec := srv.do(t, http.MethodGet, "/v1/balance", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodGet, "/v1/balance", "garbage", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodGet, "/v1/reports/deposits", token(t, "acc-1", ""), nil); rec.Code != http.StatusForbidden {
		t.Fatalf("non operator report status = %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
}

func TestReportsAndExport(t *testing.T) {
	srv := newTestServer(t)
	user := token(t, "acc-1", "")
	operator := token(t, "ops", jwt.RoleOperator)

	for _, amount := range []string{"10", "20.25"} {
		srv.do(t, http.MethodPost, "/v1/transactions", user, map[string]string{"kind": "deposit", "amount": amount})
	}

	today := time.Now().UTC().Format(domain.DateLayout)
	rec := srv.do(t, http.MethodGet, "/v1/reports/recargas?date_from="+today+"&date_fin="+today, operator, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("report status = %d body = %s", rec.Code, rec.Body)
	}
	report := decode[domain.ReportRecord](t, rec)
	if report.Count != 2 || !report.Total.Equal(decimal.RequireFromString("30.25")) {
		t.Fatalf("report = %+v", report)
	}
	if report.Rows[0].Email != "acc-1@example.com" {
		t.Fatalf("row = %+v", report.Rows[0])
	}

	if rec := srv.do(t, http.MethodGet, "/v1/reports/deposits?date_from=2026-13-01", operator, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date status = %d", rec.Code)
	}

	rec = srv.do(t, http.MethodPost, "/v1/reports/deposits/export", operator, ExportRequest{Filename: "../../etc/deposits"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("export status = %d body = %s", rec.Code, rec.Body)
	}
	exported := decode[ExportResponse](t, rec)
	if exported.Count != 2 || exported.Total != "30.25" {
		t.Fatalf("export = %+v", exported)
	}
	if _, err := os.Stat(exported.Path); err != nil {
		t.Fatalf("exported file: %v", err)
	}

	rec = srv.do(t, http.MethodPost, "/v1/reports/withdrawals/export", operator, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("empty export status = %d", rec.Code)
	}

	rec = srv.do(t, http.MethodGet, "/v1/accounts/acc-1/reconcile", operator, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reconcile status = %d", rec.Code)
	}
	recon := decode[map[string]any](t, rec)
	if recon["consistent"] != true {
		t.Fatalf("reconcile = %+v", recon)
	}
}

func TestRouterCORSPreflight(t *testing.T) {
	store, err := memory.NewLedgerStore(nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	processor := usecase.NewProcessor(store, usecase.NewIssuer(store))
	handler := NewRouter(Deps{
		Processor:   processor,
		Reports:     usecase.NewReportGenerator(store, usecase.ReportConfig{ExportDir: t.TempDir()}, nil),
		Auditor:     usecase.NewAuditor(store),
		Cache:       memory.NewBalanceCache(),
		JWTSecret:   testSecret,
		CORSOrigins: []string{"http://localhost:3000"},
	})

	req := httptest.NewRequest(http.MethodOptions, "/v1/transactions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("allow origin = %q (status %d)", got, rec.Code)
	}

	// 不在清單內的來源不回 CORS header
	req = httptest.NewRequest(http.MethodOptions, "/v1/transactions", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}
