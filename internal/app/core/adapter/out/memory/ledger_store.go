package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-wallet-ledger/pkg/wal"
)

// WAL 紀錄類型
const (
	opAccount     = "account"
	opTransaction = "transaction"
	opCounter     = "counter"
)

// walRecord WAL 中的一筆紀錄
type walRecord struct {
	Op          string                 `json:"op"`
	Account     *domain.Account        `json:"account,omitempty"`
	Transaction *domain.Transaction    `json:"transaction,omitempty"`
	Kind        domain.TransactionKind `json:"kind,omitempty"`
	Counter     int64                  `json:"counter,omitempty"`
}

// accountEntry 帳戶與它的鎖
// lock 用 buffered channel 實作，取鎖時可以被 ctx 取消
type accountEntry struct {
	lock    chan struct{}
	account domain.Account
}

func newAccountEntry(account domain.Account) *accountEntry {
	return &accountEntry{
		lock:    make(chan struct{}, 1),
		account: account,
	}
}

// LedgerStore 記憶體帳本 + WAL
//
// 結構:
//
//	mu: 保護 accounts / transactions / 索引 (提交時短暫持有)
//	accountEntry.lock: 每個帳戶一把鎖，序列化同帳戶的「檢查餘額 + 寫 WAL + 提交」
//	counterMu: 流水號專用，不與帳戶鎖互相等待
//	wal: Write-Ahead Log，nil 代表純記憶體 (不持久化)
type LedgerStore struct {
	mu           sync.RWMutex
	accounts     map[string]*accountEntry
	transactions []domain.Transaction
	byRef        map[uuid.UUID]int
	byID         map[string]int
	// 已寫入 WAL 但尚未提交的編號，避免兩個帳戶同時搶到同一個編號
	pendingRefs map[uuid.UUID]struct{}
	pendingIDs  map[string]struct{}

	counterMu sync.Mutex
	counters  map[domain.TransactionKind]int64

	wal *wal.WAL
}

// NewLedgerStore 建立一個新的記憶體帳本，並從 WAL 恢復狀態
//
// 參數:
//
//	w: Write-Ahead Log 實例，可為 nil
//
// 回傳:
//
//	*LedgerStore: 帳本實例
//	error: WAL 恢復失敗
func NewLedgerStore(w *wal.WAL) (*LedgerStore, error) {
	s := &LedgerStore{
		accounts:    make(map[string]*accountEntry),
		byRef:       make(map[uuid.UUID]int),
		byID:        make(map[string]int),
		pendingRefs: make(map[uuid.UUID]struct{}),
		pendingIDs:  make(map[string]struct{}),
		counters:    make(map[domain.TransactionKind]int64),
		wal:         w,
	}
	for _, kind := range domain.Kinds() {
		s.counters[kind] = domain.CounterSeed
	}
	if w != nil {
		if err := s.recoverFromWAL(); err != nil {
			return nil, fmt.Errorf("recover from wal: %w", err)
		}
	}
	return s, nil
}

// recoverFromWAL 從 WAL 檔案恢復帳本狀態
// 只有 NewLedgerStore 呼叫，無需 Lock (單執行緒)
func (s *LedgerStore) recoverFromWAL() error {
	return s.wal.Replay(func(_ uint64, data []byte) error {
		var rec walRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		switch rec.Op {
		case opAccount:
			if rec.Account != nil {
				s.applyAccount(*rec.Account)
			}
		case opTransaction:
			if rec.Transaction != nil {
				return s.applyRecoverTransaction(rec.Transaction)
			}
		case opCounter:
			s.bumpCounter(rec.Kind, rec.Counter)
		}
		return nil
	})
}

// applyRecoverTransaction 恢復單筆交易至記憶體 (不寫入 WAL)
func (s *LedgerStore) applyRecoverTransaction(tran *domain.Transaction) error {
	entry, ok := s.accounts[tran.AccountKey]
	if !ok {
		return fmt.Errorf("wal transaction %s: %w", tran.ID, domain.ErrAccountNotFound)
	}
	entry.account.Balance = tran.BalanceAfter
	s.index(*tran)
	s.bumpCounter(tran.Kind, tran.Seq)
	return nil
}

// bumpCounter 確保流水號不會回到已發出的值
func (s *LedgerStore) bumpCounter(kind domain.TransactionKind, issued int64) {
	if issued+1 > s.counters[kind] {
		s.counters[kind] = issued + 1
	}
}

func (s *LedgerStore) index(tran domain.Transaction) {
	s.transactions = append(s.transactions, tran)
	pos := len(s.transactions) - 1
	s.byRef[tran.RefID] = pos
	s.byID[idKey(tran.Kind, tran.ID)] = pos
}

func idKey(kind domain.TransactionKind, id string) string {
	return string(kind) + "/" + id
}

// GetAccount 取得帳戶 (回傳副本)
func (s *LedgerStore) GetAccount(ctx context.Context, key string) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.accounts[key]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	account := entry.account
	return &account, nil
}

// UpsertAccount 依 Key 合併帳戶資料
func (s *LedgerStore) UpsertAccount(ctx context.Context, account domain.Account) (*domain.Account, error) {
	if account.Key == "" {
		return nil, fmt.Errorf("%w: empty key", domain.ErrAccountNotFound)
	}
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := s.merged(account)
	if s.wal != nil {
		if _, err := s.wal.Append(walRecord{Op: opAccount, Account: &merged}); err != nil {
			return nil, unavailable(err)
		}
	}
	s.applyAccount(merged)
	result := s.accounts[account.Key].account
	return &result, nil
}

// merged 計算合併後的帳戶；新帳戶的餘額即期初餘額
func (s *LedgerStore) merged(patch domain.Account) domain.Account {
	if entry, ok := s.accounts[patch.Key]; ok {
		current := entry.account
		current.Merge(patch)
		return current
	}
	created := patch
	if created.Balance.IsNegative() {
		created.Balance = decimal.Zero
	}
	created.OpeningBalance = created.Balance
	if created.Status == "" {
		created.Status = domain.AccountStatusActive
	}
	if created.RegisteredAt.IsZero() {
		created.RegisteredAt = time.Now().UTC().Truncate(time.Millisecond)
	}
	return created
}

// applyAccount 已存在的帳戶不動餘額
func (s *LedgerStore) applyAccount(account domain.Account) {
	if entry, ok := s.accounts[account.Key]; ok {
		entry.account.Merge(account)
		return
	}
	s.accounts[account.Key] = newAccountEntry(account)
}

// AppendTransaction 寫入交易並更新餘額
//
// 流程: 取帳戶鎖 -> 檢查並保留編號 -> 寫 WAL -> 提交 (餘額與交易在同一個臨界區內生效)
func (s *LedgerStore) AppendTransaction(ctx context.Context, tran *domain.Transaction) error {
	if err := domain.ValidateAmount(tran.Amount); err != nil {
		return err
	}
	if tran.RefID == uuid.Nil {
		tran.RefID = uuid.New()
	}

	s.mu.RLock()
	entry, ok := s.accounts[tran.AccountKey]
	s.mu.RUnlock()
	if !ok {
		return domain.ErrAccountNotFound
	}

	// 1. 取得帳戶鎖
	select {
	case entry.lock <- struct{}{}:
	case <-ctx.Done():
		return unavailable(ctx.Err())
	}
	defer func() { <-entry.lock }()

	// 2. 檢查與保留
	after, err := s.reserve(entry, tran)
	if err != nil {
		return err
	}

	// 呼叫端已放棄，還沒寫入任何東西
	if err := ctx.Err(); err != nil {
		s.release(tran)
		return unavailable(err)
	}

	// 3. 寫入 WAL (Critical Path)
	committed := *tran
	committed.BalanceAfter = after
	if s.wal != nil {
		if _, err := s.wal.Append(walRecord{Op: opTransaction, Transaction: &committed}); err != nil {
			s.release(tran)
			return unavailable(err)
		}
	}

	// 4. 提交
	s.mu.Lock()
	entry.account.Balance = after
	s.index(committed)
	delete(s.pendingRefs, tran.RefID)
	delete(s.pendingIDs, idKey(tran.Kind, tran.ID))
	s.mu.Unlock()

	tran.BalanceAfter = after
	return nil
}

// reserve 在持有帳戶鎖的情況下檢查重複與餘額，並保留編號
func (s *LedgerStore) reserve(entry *accountEntry, tran *domain.Transaction) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byRef[tran.RefID]; ok {
		return decimal.Zero, domain.ErrTransactionAlreadyProcessed
	}
	if _, ok := s.pendingRefs[tran.RefID]; ok {
		return decimal.Zero, domain.ErrTransactionAlreadyProcessed
	}
	key := idKey(tran.Kind, tran.ID)
	if _, ok := s.byID[key]; ok {
		return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrDuplicateID, tran.ID)
	}
	if _, ok := s.pendingIDs[key]; ok {
		return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrDuplicateID, tran.ID)
	}

	// 在副本上試算，提交前不改動帳戶
	account := entry.account
	after, err := account.Apply(tran.Kind, tran.Amount)
	if err != nil {
		return decimal.Zero, err
	}

	s.pendingRefs[tran.RefID] = struct{}{}
	s.pendingIDs[key] = struct{}{}
	return after, nil
}

func (s *LedgerStore) release(tran *domain.Transaction) {
	s.mu.Lock()
	delete(s.pendingRefs, tran.RefID)
	delete(s.pendingIDs, idKey(tran.Kind, tran.ID))
	s.mu.Unlock()
}

// FindByRefID 依 RefID 找交易
func (s *LedgerStore) FindByRefID(ctx context.Context, refID uuid.UUID) (*domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.byRef[refID]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	tran := s.transactions[pos]
	return &tran, nil
}

// ListTransactions 列出已提交的交易 (快照)，依時間遞增排序
func (s *LedgerStore) ListTransactions(ctx context.Context, query domain.TransactionQuery) ([]domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	s.mu.RLock()
	result := make([]domain.Transaction, 0)
	for i := range s.transactions {
		if query.Match(&s.transactions[i]) {
			result = append(result, s.transactions[i])
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		return domain.Less(&result[i], &result[j])
	})
	return result, nil
}

// NextCounter 取得下一個流水號，先寫 WAL 再遞增
func (s *LedgerStore) NextCounter(ctx context.Context, kind domain.TransactionKind) (int64, error) {
	if !kind.Valid() {
		return 0, domain.ErrInvalidKind
	}
	if err := ctx.Err(); err != nil {
		return 0, unavailable(err)
	}
	s.counterMu.Lock()
	defer s.counterMu.Unlock()

	value := s.counters[kind]
	if s.wal != nil {
		if _, err := s.wal.Append(walRecord{Op: opCounter, Kind: kind, Counter: value}); err != nil {
			return 0, unavailable(err)
		}
	}
	s.counters[kind] = value + 1
	return value, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}

var _ usecase.LedgerStore = (*LedgerStore)(nil)
