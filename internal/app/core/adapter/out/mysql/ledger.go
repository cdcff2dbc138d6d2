package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/usecase"
)

// sqlAccount 對應資料庫的 accounts 表
// 金額以「分」為單位存成整數，SQL 端的加減才會精確
type sqlAccount struct {
	AccountKey     string `gorm:"column:account_key;primaryKey;size:64"`
	Document       string `gorm:"size:32"`
	Email          string `gorm:"size:255"`
	BalanceMinor   int64  `gorm:"not null;default:0"`
	OpeningMinor   int64  `gorm:"not null;default:0"`
	Status         string `gorm:"size:16;not null"`
	RegisteredAtMs int64
	UpdatedAt      int64 `gorm:"autoUpdateTime:milli"` // 自動更新時間
}

func (*sqlAccount) TableName() string {
	return "accounts"
}

func (a *sqlAccount) toDomain() *domain.Account {
	return &domain.Account{
		Key:            a.AccountKey,
		Document:       a.Document,
		Email:          a.Email,
		Balance:        domain.FromMinor(a.BalanceMinor),
		OpeningBalance: domain.FromMinor(a.OpeningMinor),
		RegisteredAt:   time.UnixMilli(a.RegisteredAtMs).UTC(),
		Status:         domain.AccountStatus(a.Status),
	}
}

// sqlTransaction 對應資料庫的 transactions 表 (append-only)
type sqlTransaction struct {
	ID                int64  `gorm:"primaryKey;autoIncrement"`
	Kind              string `gorm:"size:16;not null;uniqueIndex:uk_kind_tx_id,priority:1;index:idx_kind_created,priority:1"`
	TxID              string `gorm:"column:tx_id;size:32;not null;uniqueIndex:uk_kind_tx_id,priority:2"`
	Seq               int64  `gorm:"not null"`
	RefID             string `gorm:"column:ref_id;size:36;not null;uniqueIndex"`
	AccountKey        string `gorm:"column:account_key;size:64;not null;index"`
	AmountMinor       int64  `gorm:"not null"`
	BalanceAfterMinor int64  `gorm:"not null"`
	CreatedAtMs       int64  `gorm:"not null;index:idx_kind_created,priority:2"`
}

func (*sqlTransaction) TableName() string {
	return "transactions"
}

func (t *sqlTransaction) toDomain() domain.Transaction {
	refID, _ := uuid.Parse(t.RefID)
	return domain.Transaction{
		ID:           t.TxID,
		Seq:          t.Seq,
		RefID:        refID,
		Kind:         domain.TransactionKind(t.Kind),
		AccountKey:   t.AccountKey,
		Amount:       domain.FromMinor(t.AmountMinor),
		CreatedAt:    time.UnixMilli(t.CreatedAtMs).UTC(),
		BalanceAfter: domain.FromMinor(t.BalanceAfterMinor),
	}
}

// sqlCounter 對應資料庫的 counters 表，next_value 是下一個要發出的值
type sqlCounter struct {
	Kind      string `gorm:"primaryKey;size:16"`
	NextValue int64  `gorm:"not null"`
}

func (*sqlCounter) TableName() string {
	return "counters"
}

// LedgerStore 以 gorm 實作的帳本
type LedgerStore struct {
	db *gorm.DB
}

func NewLedgerStore(db *gorm.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// Migrate 建表並放入流水號種子 (已存在時不覆蓋)
func (s *LedgerStore) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&sqlAccount{}, &sqlTransaction{}, &sqlCounter{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	for _, kind := range domain.Kinds() {
		seed := sqlCounter{Kind: string(kind), NextValue: domain.CounterSeed}
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return fmt.Errorf("seed counter %s: %w", kind, err)
		}
	}
	return nil
}

// GetAccount 取得帳戶
func (s *LedgerStore) GetAccount(ctx context.Context, key string) (*domain.Account, error) {
	var row sqlAccount
	err := s.db.WithContext(ctx).Where("account_key = ?", key).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, unavailable(err)
	}
	return row.toDomain(), nil
}

// UpsertAccount 依 Key 合併帳戶資料；已存在的帳戶只更新有帶值的欄位，不動餘額
func (s *LedgerStore) UpsertAccount(ctx context.Context, account domain.Account) (*domain.Account, error) {
	if account.Key == "" {
		return nil, fmt.Errorf("%w: empty key", domain.ErrAccountNotFound)
	}
	var result *domain.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row sqlAccount
		err := tx.Where("account_key = ?", account.Key).First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			opening := domain.ToMinor(account.Balance)
			if opening < 0 {
				opening = 0
			}
			row = sqlAccount{
				AccountKey:     account.Key,
				Document:       account.Document,
				Email:          account.Email,
				BalanceMinor:   opening,
				OpeningMinor:   opening,
				Status:         string(domain.AccountStatusActive),
				RegisteredAtMs: account.RegisteredAt.UnixMilli(),
			}
			if account.Status != "" {
				row.Status = string(account.Status)
			}
			if account.RegisteredAt.IsZero() {
				row.RegisteredAtMs = time.Now().UnixMilli()
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			updates := map[string]any{}
			if account.Document != "" {
				updates["document"] = account.Document
			}
			if account.Email != "" {
				updates["email"] = account.Email
			}
			if account.Status != "" {
				updates["status"] = string(account.Status)
			}
			if !account.RegisteredAt.IsZero() {
				updates["registered_at_ms"] = account.RegisteredAt.UnixMilli()
			}
			if len(updates) > 0 {
				if err := tx.Model(&sqlAccount{}).Where("account_key = ?", account.Key).Updates(updates).Error; err != nil {
					return err
				}
			}
			if err := tx.Where("account_key = ?", account.Key).First(&row).Error; err != nil {
				return err
			}
		}
		result = row.toDomain()
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return result, nil
}

// AppendTransaction 在一個 DB Transaction 內寫入交易並更新餘額
//
// 餘額檢查與扣款合併成一個條件式 UPDATE (balance_minor >= amount)，
// 兩筆並行提款不會同時通過檢查。
func (s *LedgerStore) AppendTransaction(ctx context.Context, tran *domain.Transaction) error {
	if err := domain.ValidateAmount(tran.Amount); err != nil {
		return err
	}
	if tran.RefID == uuid.Nil {
		tran.RefID = uuid.New()
	}
	amount := domain.ToMinor(tran.Amount)

	var after int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 先檢查是否有這筆交易記錄
		var count int64
		if err := tx.Model(&sqlTransaction{}).Where("ref_id = ?", tran.RefID.String()).Count(&count).Error; err != nil {
			return unavailable(err)
		}
		if count > 0 {
			return domain.ErrTransactionAlreadyProcessed
		}
		if err := tx.Model(&sqlTransaction{}).Where("kind = ? AND tx_id = ?", string(tran.Kind), tran.ID).Count(&count).Error; err != nil {
			return unavailable(err)
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateID, tran.ID)
		}

		// 依照 Kind 執行條件式更新，扣款的需檢查餘額
		update := tx.Model(&sqlAccount{}).Where("account_key = ? AND status = ?", tran.AccountKey, string(domain.AccountStatusActive))
		var res *gorm.DB
		switch tran.Kind {
		case domain.TransactionKindDeposit:
			res = update.UpdateColumn("balance_minor", gorm.Expr("balance_minor + ?", amount))
		case domain.TransactionKindWithdrawal:
			res = update.Where("balance_minor >= ?", amount).
				UpdateColumn("balance_minor", gorm.Expr("balance_minor - ?", amount))
		default:
			return domain.ErrInvalidKind
		}
		if res.Error != nil {
			return unavailable(res.Error)
		}
		if res.RowsAffected == 0 {
			return s.explainRejection(tx, tran.AccountKey)
		}

		var row sqlAccount
		if err := tx.Select("balance_minor").Where("account_key = ?", tran.AccountKey).First(&row).Error; err != nil {
			return unavailable(err)
		}
		after = row.BalanceMinor

		// 建立交易紀錄
		record := sqlTransaction{
			Kind:              string(tran.Kind),
			TxID:              tran.ID,
			Seq:               tran.Seq,
			RefID:             tran.RefID.String(),
			AccountKey:        tran.AccountKey,
			AmountMinor:       amount,
			BalanceAfterMinor: after,
			CreatedAtMs:       tran.CreatedAt.UnixMilli(),
		}
		if err := tx.Create(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errDuplicateKey
			}
			return unavailable(err)
		}
		return nil
	})
	if errors.Is(err, errDuplicateKey) {
		// 上面的 COUNT 不加鎖，並行的相同 RefID 會撞到唯一鍵
		return s.resolveDuplicate(ctx, tran)
	}
	if err != nil {
		if isDomainError(err) {
			return err
		}
		return unavailable(err)
	}
	tran.BalanceAfter = domain.FromMinor(after)
	return nil
}

// errDuplicateKey 寫入交易紀錄時撞到唯一鍵，尚未區分是 ref_id 還是 tx_id
var errDuplicateKey = errors.New("duplicate transaction key")

// resolveDuplicate 在回滾後重新查 ref_id，判斷是重送還是編號重複
func (s *LedgerStore) resolveDuplicate(ctx context.Context, tran *domain.Transaction) error {
	var count int64
	err := s.db.WithContext(ctx).Model(&sqlTransaction{}).Where("ref_id = ?", tran.RefID.String()).Count(&count).Error
	if err != nil {
		return unavailable(err)
	}
	if count > 0 {
		return domain.ErrTransactionAlreadyProcessed
	}
	return fmt.Errorf("%w: %s", domain.ErrDuplicateID, tran.ID)
}

// explainRejection 條件式 UPDATE 沒更新到任何列時，找出原因
func (s *LedgerStore) explainRejection(tx *gorm.DB, key string) error {
	var row sqlAccount
	err := tx.Where("account_key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrAccountNotFound
	}
	if err != nil {
		return unavailable(err)
	}
	if row.Status != string(domain.AccountStatusActive) {
		return domain.ErrAccountDisabled
	}
	return domain.ErrInsufficientFunds
}

// FindByRefID 依 RefID 找交易
func (s *LedgerStore) FindByRefID(ctx context.Context, refID uuid.UUID) (*domain.Transaction, error) {
	var row sqlTransaction
	err := s.db.WithContext(ctx).Where("ref_id = ?", refID.String()).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, unavailable(err)
	}
	tran := row.toDomain()
	return &tran, nil
}

// ListTransactions 依條件列出交易，依時間遞增排序
func (s *LedgerStore) ListTransactions(ctx context.Context, query domain.TransactionQuery) ([]domain.Transaction, error) {
	db := s.db.WithContext(ctx).Model(&sqlTransaction{})
	if query.Kind != "" {
		db = db.Where("kind = ?", string(query.Kind))
	}
	if query.AccountKey != "" {
		db = db.Where("account_key = ?", query.AccountKey)
	}
	if !query.From.IsZero() {
		db = db.Where("created_at_ms >= ?", query.From.UnixMilli())
	}
	if !query.To.IsZero() {
		db = db.Where("created_at_ms <= ?", query.To.UnixMilli())
	}

	var rows []sqlTransaction
	if err := db.Order("created_at_ms ASC").Order("kind ASC").Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, unavailable(err)
	}
	result := make([]domain.Transaction, 0, len(rows))
	for i := range rows {
		result = append(result, rows[i].toDomain())
	}
	return result, nil
}

// NextCounter 原子遞增流水號
// 先 UPDATE 取得該列的寫鎖，同一個 DB Transaction 內再讀回新值
func (s *LedgerStore) NextCounter(ctx context.Context, kind domain.TransactionKind) (int64, error) {
	if !kind.Valid() {
		return 0, domain.ErrInvalidKind
	}
	var issued int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&sqlCounter{}).Where("kind = ?", string(kind)).
			UpdateColumn("next_value", gorm.Expr("next_value + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("counter %s not seeded", kind)
		}
		var row sqlCounter
		if err := tx.Where("kind = ?", string(kind)).First(&row).Error; err != nil {
			return err
		}
		issued = row.NextValue - 1
		return nil
	})
	if err != nil {
		return 0, unavailable(err)
	}
	return issued, nil
}

func isDomainError(err error) bool {
	for _, known := range []error{
		domain.ErrStoreUnavailable,
		domain.ErrAccountNotFound,
		domain.ErrAccountDisabled,
		domain.ErrInsufficientFunds,
		domain.ErrDuplicateID,
		domain.ErrTransactionAlreadyProcessed,
		domain.ErrInvalidKind,
	} {
		if errors.Is(err, known) {
			return true
		}
	}
	return false
}

// unavailable 儲存層錯誤一律包成 ErrStoreUnavailable，原始錯誤只留在 log 裡
func unavailable(err error) error {
	if isDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}

var _ usecase.LedgerStore = (*LedgerStore)(nil)
