package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
)

func newTestProcessor(store *stubStore, opts ...ProcessorOption) *Processor {
	return NewProcessor(store, NewIssuer(store), opts...)
}

func TestProcessorDepositAndWithdraw(t *testing.T) {
	store := newStubStore(account("acc-1", "0"))
	rec := &stubRecorder{}
	p := newTestProcessor(store, WithRecorder(rec))
	ctx := context.Background()

	dep, err := p.Deposit(ctx, "acc-1", amount("100.00"))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if dep.ID != "REC-1000" || !dep.BalanceAfter.Equal(amount("100")) {
		t.Fatalf("deposit = %s balance %s", dep.ID, dep.BalanceAfter)
	}

	// 餘額不足不能消耗編號
	if _, err := p.Withdraw(ctx, "acc-1", amount("150")); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if store.counters[domain.TransactionKindWithdrawal] != domain.CounterSeed {
		t.Fatalf("rejected withdrawal consumed a counter: %d", store.counters[domain.TransactionKindWithdrawal])
	}

	wd, err := p.Withdraw(ctx, "acc-1", amount("30.50"))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if wd.ID != "RET-1000" || !wd.BalanceAfter.Equal(amount("69.50")) {
		t.Fatalf("withdraw = %s balance %s", wd.ID, wd.BalanceAfter)
	}

	dep2, err := p.Deposit(ctx, "acc-1", amount("0.5"))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if dep2.ID != "REC-1001" {
		t.Fatalf("second deposit id = %s", dep2.ID)
	}

	balance, err := p.Balance(ctx, "acc-1")
	if err != nil || !balance.Equal(amount("70")) {
		t.Fatalf("balance = %s, %v", balance, err)
	}

	want := []string{"success", "rejected", "success", "success"}
	if fmt.Sprint(rec.outcomes) != fmt.Sprint(want) {
		t.Fatalf("outcomes = %v, want %v", rec.outcomes, want)
	}
}

func TestProcessorRejectsInvalidIntent(t *testing.T) {
	disabled := account("acc-off", "100")
	disabled.Status = domain.AccountStatusDisabled

	cases := []struct {
		name string
		in   Intent
		want error
	}{
		{"zero amount", Intent{AccountKey: "acc-1", Kind: domain.TransactionKindDeposit, Amount: decimal.Zero}, domain.ErrInvalidAmount},
		{"negative amount", Intent{AccountKey: "acc-1", Kind: domain.TransactionKindDeposit, Amount: amount("-5")}, domain.ErrInvalidAmount},
		{"three decimals", Intent{AccountKey: "acc-1", Kind: domain.TransactionKindWithdrawal, Amount: amount("1.005")}, domain.ErrInvalidAmount},
		{"unknown kind", Intent{AccountKey: "acc-1", Kind: "transfer", Amount: amount("1")}, domain.ErrInvalidKind},
		{"unknown account", Intent{AccountKey: "ghost", Kind: domain.TransactionKindDeposit, Amount: amount("1")}, domain.ErrAccountNotFound},
		{"disabled account", Intent{AccountKey: "acc-off", Kind: domain.TransactionKindDeposit, Amount: amount("1")}, domain.ErrAccountDisabled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newStubStore(account("acc-1", "100"), disabled)
			p := newTestProcessor(store)

			tran, err := p.Post(context.Background(), tc.in)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if tran != nil {
				t.Fatalf("unexpected transaction %+v", tran)
			}
			if store.appends != 0 || len(store.trans) != 0 {
				t.Fatalf("rejected intent reached the store")
			}
			for kind, v := range store.counters {
				if v != domain.CounterSeed {
					t.Fatalf("counter %s advanced to %d", kind, v)
				}
			}
		})
	}
}

func TestProcessorIdempotentReplay(t *testing.T) {
	store := newStubStore(account("acc-1", "0"))
	p := newTestProcessor(store)
	ctx := context.Background()
	ref := uuid.New()

	in := Intent{AccountKey: "acc-1", Kind: domain.TransactionKindDeposit, Amount: amount("10"), RefID: ref}
	first, err := p.Post(ctx, in)
	if err != nil {
		t.Fatalf("first post: %v", err)
	}
	second, err := p.Post(ctx, in)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if second.ID != first.ID || len(store.trans) != 1 {
		t.Fatalf("replay created a new transaction: %s vs %s (%d stored)", second.ID, first.ID, len(store.trans))
	}
	if balance, _ := p.Balance(ctx, "acc-1"); !balance.Equal(amount("10")) {
		t.Fatalf("balance after replay = %s", balance)
	}

	in.Amount = amount("11")
	if _, err := p.Post(ctx, in); !errors.Is(err, domain.ErrTransactionAlreadyProcessed) {
		t.Fatalf("expected already processed, got %v", err)
	}
}

func TestProcessorStoreFailures(t *testing.T) {
	ctx := context.Background()
	unavailable := fmt.Errorf("%w: connection refused", domain.ErrStoreUnavailable)

	t.Run("counter", func(t *testing.T) {
		store := newStubStore(account("acc-1", "10"))
		store.counterErr = unavailable
		rec := &stubRecorder{}
		p := newTestProcessor(store, WithRecorder(rec))

		if _, err := p.Deposit(ctx, "acc-1", amount("1")); !errors.Is(err, domain.ErrStoreUnavailable) {
			t.Fatalf("expected store unavailable, got %v", err)
		}
		if store.appends != 0 {
			t.Fatal("append attempted without an id")
		}
		if rec.outcomes[0] != "internal_error" {
			t.Fatalf("outcome = %s", rec.outcomes[0])
		}
	})

	t.Run("append", func(t *testing.T) {
		store := newStubStore(account("acc-1", "10"))
		store.appendErr = unavailable
		p := newTestProcessor(store)

		resp := p.Handle(ctx, domain.Request{AccountKey: "acc-1", Kind: "recarga", Amount: "1"})
		if resp.Status != domain.StatusError || resp.Message != domain.Message(unavailable) {
			t.Fatalf("response = %+v", resp)
		}
		if balance, _ := p.Balance(ctx, "acc-1"); !balance.Equal(amount("10")) {
			t.Fatalf("balance changed to %s", balance)
		}
	})
}

func TestProcessorHandle(t *testing.T) {
	cases := []struct {
		name string
		req  domain.Request
		want domain.Response
	}{
		{
			name: "deposit",
			req:  domain.Request{AccountKey: "acc-1", Kind: "recarga", Amount: "100.00"},
			want: domain.Response{Status: domain.StatusSuccess, TransactionID: "REC-1000", NewBalance: "150.00"},
		},
		{
			name: "withdrawal",
			req:  domain.Request{AccountKey: "acc-1", Kind: "retiro", Amount: "20.5"},
			want: domain.Response{Status: domain.StatusSuccess, TransactionID: "RET-1000", NewBalance: "29.50"},
		},
		{
			name: "overdraw",
			req:  domain.Request{AccountKey: "acc-1", Kind: "retiro", Amount: "50.01"},
			want: domain.ErrorResponse(domain.ErrInsufficientFunds),
		},
		{
			name: "bad amount",
			req:  domain.Request{AccountKey: "acc-1", Kind: "recarga", Amount: "abc"},
			want: domain.ErrorResponse(domain.ErrInvalidAmount),
		},
		{
			name: "bad kind",
			req:  domain.Request{AccountKey: "acc-1", Kind: "transfer", Amount: "1"},
			want: domain.ErrorResponse(domain.ErrInvalidKind),
		},
		{
			name: "bad reference",
			req:  domain.Request{AccountKey: "acc-1", Kind: "recarga", Amount: "1", RefID: "not-a-uuid"},
			want: domain.ErrorResponse(domain.ErrInvalidReference),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestProcessor(newStubStore(account("acc-1", "50")))
			if got := p.Handle(context.Background(), tc.req); got != tc.want {
				t.Fatalf("response = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestProcessorTimestamps(t *testing.T) {
	clock := &testClock{}
	clock.Set(time.Date(2024, 3, 1, 10, 0, 0, 123456789, time.FixedZone("UTC-3", -3*3600)))
	store := newStubStore(account("acc-1", "0"))
	p := newTestProcessor(store, WithClock(clock.Now))

	tran, err := p.Deposit(context.Background(), "acc-1", amount("1"))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	want := time.Date(2024, 3, 1, 13, 0, 0, 123000000, time.UTC)
	if !tran.CreatedAt.Equal(want) || tran.CreatedAt.Location() != time.UTC {
		t.Fatalf("created_at = %v, want %v", tran.CreatedAt, want)
	}
}

func TestProcessorConcurrentPostsReconcile(t *testing.T) {
	store := newStubStore(account("acc-1", "25"))
	p := newTestProcessor(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%3 == 0 {
				_, _ = p.Withdraw(ctx, "acc-1", amount("7.25"))
				return
			}
			_, _ = p.Deposit(ctx, "acc-1", amount("1.10"))
		}(i)
	}
	wg.Wait()

	rec, err := NewAuditor(store).Reconcile(ctx, "acc-1")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !rec.Consistent() {
		t.Fatalf("ledger drift %s (stored %s expected %s)", rec.Drift(), rec.Stored, rec.Expected)
	}
	if rec.Stored.IsNegative() {
		t.Fatalf("balance went negative: %s", rec.Stored)
	}

	// 每種類型的編號連續且不重複
	seen := make(map[string]bool)
	for _, tran := range store.trans {
		if seen[tran.ID] {
			t.Fatalf("duplicate id %s", tran.ID)
		}
		seen[tran.ID] = true
	}
	for i := 0; i < rec.Deposits; i++ {
		if id := domain.TransactionKindDeposit.FormatID(domain.CounterSeed + int64(i)); !seen[id] {
			t.Fatalf("missing deposit id %s", id)
		}
	}
}

func TestIssuer(t *testing.T) {
	store := newStubStore()
	issuer := NewIssuer(store)
	ctx := context.Background()

	for _, want := range []string{"REC-1000", "REC-1001"} {
		id, _, err := issuer.Issue(ctx, domain.TransactionKindDeposit)
		if err != nil || id != want {
			t.Fatalf("issue = %s, %v; want %s", id, err, want)
		}
	}
	id, seq, err := issuer.Issue(ctx, domain.TransactionKindWithdrawal)
	if err != nil || id != "RET-1000" || seq != 1000 {
		t.Fatalf("issue = %s %d, %v", id, seq, err)
	}

	if _, _, err := issuer.Issue(ctx, "refund"); !errors.Is(err, domain.ErrInvalidKind) {
		t.Fatalf("expected invalid kind, got %v", err)
	}
	store.counterErr = domain.ErrStoreUnavailable
	if _, _, err := issuer.Issue(ctx, domain.TransactionKindDeposit); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
}

func TestAuditorDetectsDrift(t *testing.T) {
	store := newStubStore(account("acc-1", "40"))
	p := newTestProcessor(store)
	ctx := context.Background()

	if _, err := p.Deposit(ctx, "acc-1", amount("10")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := p.Withdraw(ctx, "acc-1", amount("15")); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	auditor := NewAuditor(store)
	rec, err := auditor.Reconcile(ctx, "acc-1")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !rec.Consistent() || rec.Deposits != 1 || rec.Withdrawals != 1 || !rec.Expected.Equal(amount("35")) {
		t.Fatalf("reconciliation = %+v", rec)
	}

	// 直接改餘額，模擬帳本外的寫入
	store.accounts["acc-1"].Balance = amount("36")
	rec, err = auditor.Reconcile(ctx, "acc-1")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if rec.Consistent() || !rec.Drift().Equal(amount("1")) {
		t.Fatalf("drift not detected: %+v", rec)
	}

	if _, err := auditor.Reconcile(ctx, "ghost"); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// commitDuringList 每次列交易前都先提交一筆存款，模擬稽核期間持續有交易進來
type commitDuringList struct {
	*stubStore
	commits int
	limit   int
}

func (s *commitDuringList) ListTransactions(ctx context.Context, query domain.TransactionQuery) ([]domain.Transaction, error) {
	if s.commits < s.limit {
		s.commits++
		seq := domain.CounterSeed + 100 + int64(s.commits)
		tran := &domain.Transaction{
			ID:         domain.TransactionKindDeposit.FormatID(seq),
			Seq:        seq,
			RefID:      uuid.New(),
			Kind:       domain.TransactionKindDeposit,
			AccountKey: query.AccountKey,
			Amount:     amount("5"),
			CreatedAt:  time.Now().UTC(),
		}
		if err := s.stubStore.AppendTransaction(ctx, tran); err != nil {
			return nil, err
		}
	}
	return s.stubStore.ListTransactions(ctx, query)
}

func TestAuditorIgnoresConcurrentCommits(t *testing.T) {
	ctx := context.Background()

	// 第一次讀取中間有交易提交，重讀後一致
	store := &commitDuringList{stubStore: newStubStore(account("acc-1", "40")), limit: 1}
	rec, err := NewAuditor(store).Reconcile(ctx, "acc-1")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !rec.Consistent() || !rec.Stored.Equal(amount("45")) || rec.Deposits != 1 {
		t.Fatalf("reconciliation = %+v", rec)
	}

	// 每次都有交易提交，改用列出的最後一筆交易比對
	busy := &commitDuringList{stubStore: newStubStore(account("acc-1", "40")), limit: 100}
	rec, err = NewAuditor(busy).Reconcile(ctx, "acc-1")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !rec.Consistent() || rec.Deposits != reconcileAttempts {
		t.Fatalf("reconciliation under load = %+v", rec)
	}
}

func TestProcessorPublishesCommittedOnly(t *testing.T) {
	store := newStubStore(account("acc-1", "0"))
	pub := &stubPublisher{}
	p := newTestProcessor(store, WithPublisher(pub))
	ctx := context.Background()

	in := Intent{AccountKey: "acc-1", Kind: domain.TransactionKindDeposit, Amount: amount("10"), RefID: uuid.New()}
	if _, err := p.Post(ctx, in); err != nil {
		t.Fatalf("post: %v", err)
	}
	if _, err := p.Post(ctx, in); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if _, err := p.Withdraw(ctx, "acc-1", amount("50")); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if fmt.Sprint(pub.ids) != "[REC-1000]" {
		t.Fatalf("published = %v", pub.ids)
	}

	// 發送失敗不影響交易結果
	pub.fail = errors.New("broker down")
	wd, err := p.Withdraw(ctx, "acc-1", amount("4"))
	if err != nil || wd.ID != "RET-1000" {
		t.Fatalf("withdraw = %+v, %v", wd, err)
	}
}

func TestProcessorReplayAfterBalanceDrained(t *testing.T) {
	store := newStubStore(account("acc-1", "100"))
	p := newTestProcessor(store)
	ctx := context.Background()

	in := Intent{AccountKey: "acc-1", Kind: domain.TransactionKindWithdrawal, Amount: amount("100"), RefID: uuid.New()}
	first, err := p.Post(ctx, in)
	if err != nil || first.ID != "RET-1000" {
		t.Fatalf("withdraw = %+v, %v", first, err)
	}

	// 餘額已經是 0，重送仍要拿回原交易而不是餘額不足
	again, err := p.Post(ctx, in)
	if err != nil {
		t.Fatalf("retry after drain: %v", err)
	}
	if again.ID != first.ID || !again.BalanceAfter.IsZero() {
		t.Fatalf("retry = %s balance %s", again.ID, again.BalanceAfter)
	}

	// 提交後帳戶被停用，重送也一樣
	store.mu.Lock()
	store.accounts["acc-1"].Status = domain.AccountStatusDisabled
	store.mu.Unlock()
	if again, err = p.Post(ctx, in); err != nil || again.ID != first.ID {
		t.Fatalf("retry after disable = %+v, %v", again, err)
	}
	if len(store.trans) != 1 || store.counters[domain.TransactionKindWithdrawal] != domain.CounterSeed+1 {
		t.Fatalf("retries touched the ledger: %d transactions", len(store.trans))
	}

	// 新的交易照常被拒絕
	if _, err := p.Withdraw(ctx, "acc-1", amount("1")); !errors.Is(err, domain.ErrAccountDisabled) {
		t.Fatalf("expected disabled, got %v", err)
	}
}

func TestProcessorRechargeWithdrawScenario(t *testing.T) {
	store := newStubStore(account("acc-1", "100"))
	p := newTestProcessor(store)
	ctx := context.Background()

	steps := []struct {
		req  domain.Request
		want domain.Response
	}{
		{
			req:  domain.Request{AccountKey: "acc-1", Kind: "recarga", Amount: "50"},
			want: domain.Response{Status: domain.StatusSuccess, TransactionID: "REC-1000", NewBalance: "150.00"},
		},
		{
			req:  domain.Request{AccountKey: "acc-1", Kind: "retiro", Amount: "200"},
			want: domain.ErrorResponse(domain.ErrInsufficientFunds),
		},
		{
			req:  domain.Request{AccountKey: "acc-1", Kind: "retiro", Amount: "150"},
			want: domain.Response{Status: domain.StatusSuccess, TransactionID: "RET-1000", NewBalance: "0.00"},
		},
	}
	for i, step := range steps {
		if got := p.Handle(ctx, step.req); got != step.want {
			t.Fatalf("step %d: response = %+v, want %+v", i+1, got, step.want)
		}
	}

	rec, err := NewAuditor(store).Reconcile(ctx, "acc-1")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !rec.Consistent() || !rec.Stored.IsZero() || rec.Deposits != 1 || rec.Withdrawals != 1 {
		t.Fatalf("reconciliation = %+v", rec)
	}
}
