package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
)

// stubStore 單純的記憶體實作，可注入錯誤
type stubStore struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
	trans    []domain.Transaction
	counters map[domain.TransactionKind]int64

	appendErr  error
	counterErr error
	appends    int
}

func newStubStore(accounts ...*domain.Account) *stubStore {
	s := &stubStore{
		accounts: make(map[string]*domain.Account),
		counters: map[domain.TransactionKind]int64{
			domain.TransactionKindDeposit:    domain.CounterSeed,
			domain.TransactionKindWithdrawal: domain.CounterSeed,
		},
	}
	for _, a := range accounts {
		s.accounts[a.Key] = a
	}
	return s
}

func (s *stubStore) GetAccount(_ context.Context, key string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[key]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *stubStore) UpsertAccount(_ context.Context, account domain.Account) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[account.Key]; ok {
		a.Merge(account)
		cp := *a
		return &cp, nil
	}
	s.accounts[account.Key] = &account
	cp := account
	return &cp, nil
}

func (s *stubStore) AppendTransaction(_ context.Context, tran *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appends++
	if s.appendErr != nil {
		return s.appendErr
	}
	for i := range s.trans {
		if s.trans[i].RefID == tran.RefID {
			return domain.ErrTransactionAlreadyProcessed
		}
		if s.trans[i].Kind == tran.Kind && s.trans[i].ID == tran.ID {
			return domain.ErrDuplicateID
		}
	}
	a, ok := s.accounts[tran.AccountKey]
	if !ok {
		return domain.ErrAccountNotFound
	}
	balance, err := a.Apply(tran.Kind, tran.Amount)
	if err != nil {
		return err
	}
	tran.BalanceAfter = balance
	s.trans = append(s.trans, *tran)
	return nil
}

func (s *stubStore) FindByRefID(_ context.Context, refID uuid.UUID) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.trans {
		if s.trans[i].RefID == refID {
			cp := s.trans[i]
			return &cp, nil
		}
	}
	return nil, domain.ErrTransactionNotFound
}

func (s *stubStore) ListTransactions(_ context.Context, query domain.TransactionQuery) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Transaction
	for i := range s.trans {
		if query.Match(&s.trans[i]) {
			out = append(out, s.trans[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return domain.Less(&out[i], &out[j]) })
	return out, nil
}

func (s *stubStore) NextCounter(_ context.Context, kind domain.TransactionKind) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counterErr != nil {
		return 0, s.counterErr
	}
	v := s.counters[kind]
	s.counters[kind] = v + 1
	return v, nil
}

// stubCache 可注入錯誤的快取
type stubCache struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	applyErr error
}

func newStubCache() *stubCache {
	return &stubCache{balances: make(map[string]decimal.Decimal)}
}

func (c *stubCache) Get(_ context.Context, id string) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.balances[id]
	if !ok {
		return decimal.Zero, ErrCacheMiss
	}
	return b, nil
}

func (c *stubCache) Set(_ context.Context, id string, balance decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[id] = balance
	return nil
}

func (c *stubCache) Apply(_ context.Context, id string, delta decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.applyErr != nil {
		return c.applyErr
	}
	b, ok := c.balances[id]
	if !ok {
		return ErrCacheMiss
	}
	c.balances[id] = b.Add(delta)
	return nil
}

func (c *stubCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.balances, id)
	return nil
}

type stubRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *stubRecorder) ObserveTransaction(_ domain.TransactionKind, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

type stubPublisher struct {
	mu   sync.Mutex
	ids  []string
	fail error
}

func (p *stubPublisher) PublishTransaction(_ context.Context, tran domain.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.ids = append(p.ids, tran.ID)
	return nil
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func account(key, balance string) *domain.Account {
	a := domain.NewAccount(key, amount(balance))
	a.Email = key + "@example.com"
	a.Document = "DOC-" + key
	return a
}

// testClock 可手動調整的時間來源
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}
