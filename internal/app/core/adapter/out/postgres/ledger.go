package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-wallet-ledger/pkg/postgres"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate 套用 accounts / transactions / counters 的 schema
func Migrate(ctx context.Context, dsn string, log *zap.Logger) error {
	return postgres.Migrate(ctx, dsn, migrations, "migrations", log)
}

const uniqueViolation = "23505"

const (
	accountColumns     = `account_key, document, email, balance_minor, opening_minor, status, registered_at`
	transactionColumns = `kind, tx_id, seq, ref_id, account_key, amount_minor, balance_after_minor, created_at`
)

// LedgerStore 以 pgx 實作的帳本
// 餘額與金額都以「分」存成 BIGINT
type LedgerStore struct {
	pool *pgxpool.Pool
}

func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		a                domain.Account
		balance, opening int64
		status           string
		registeredAt     time.Time
	)
	if err := row.Scan(&a.Key, &a.Document, &a.Email, &balance, &opening, &status, &registeredAt); err != nil {
		return nil, err
	}
	a.Balance = domain.FromMinor(balance)
	a.OpeningBalance = domain.FromMinor(opening)
	a.Status = domain.AccountStatus(status)
	a.RegisteredAt = registeredAt.UTC()
	return &a, nil
}

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var (
		t                    domain.Transaction
		kind                 string
		amount, balanceAfter int64
		createdAt            time.Time
	)
	if err := row.Scan(&kind, &t.ID, &t.Seq, &t.RefID, &t.AccountKey, &amount, &balanceAfter, &createdAt); err != nil {
		return t, err
	}
	t.Kind = domain.TransactionKind(kind)
	t.Amount = domain.FromMinor(amount)
	t.BalanceAfter = domain.FromMinor(balanceAfter)
	t.CreatedAt = createdAt.UTC()
	return t, nil
}

// GetAccount 取得帳戶
func (s *LedgerStore) GetAccount(ctx context.Context, key string) (*domain.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_key = $1`, key)
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return account, nil
}

// UpsertAccount 新增或合併帳戶，餘額只在建立時寫入
func (s *LedgerStore) UpsertAccount(ctx context.Context, account domain.Account) (*domain.Account, error) {
	if account.Key == "" {
		return nil, fmt.Errorf("%w: empty key", domain.ErrAccountNotFound)
	}
	registeredAt := account.RegisteredAt
	if registeredAt.IsZero() {
		registeredAt = time.Now()
	}
	opening := domain.ToMinor(account.Balance)
	if opening < 0 {
		opening = 0
	}

	const query = `
		INSERT INTO accounts (account_key, document, email, balance_minor, opening_minor, status, registered_at)
		VALUES ($1, $2, $3, $4, $4, COALESCE(NULLIF($5, ''), 'active'), $6)
		ON CONFLICT (account_key) DO UPDATE SET
			document      = COALESCE(NULLIF(EXCLUDED.document, ''), accounts.document),
			email         = COALESCE(NULLIF(EXCLUDED.email, ''), accounts.email),
			status        = COALESCE(NULLIF($5, ''), accounts.status),
			registered_at = CASE WHEN $7 THEN EXCLUDED.registered_at ELSE accounts.registered_at END,
			updated_at    = now()
		RETURNING ` + accountColumns
	row := s.pool.QueryRow(ctx, query,
		account.Key, account.Document, account.Email, opening,
		string(account.Status), registeredAt.UTC(), !account.RegisteredAt.IsZero(),
	)
	saved, err := scanAccount(row)
	if err != nil {
		return nil, unavailable(err)
	}
	return saved, nil
}

// AppendTransaction 在同一個資料庫交易內更新餘額並寫入紀錄
//
// 餘額以條件式 UPDATE 更新 (balance_minor + delta >= 0)，不需要先 SELECT ... FOR UPDATE
func (s *LedgerStore) AppendTransaction(ctx context.Context, tran *domain.Transaction) error {
	if !tran.Kind.Valid() {
		return domain.ErrInvalidKind
	}
	if err := domain.ValidateAmount(tran.Amount); err != nil {
		return err
	}
	amount := domain.ToMinor(tran.Amount)
	delta := amount
	if tran.Kind == domain.TransactionKindWithdrawal {
		delta = -amount
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return unavailable(err)
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx, `
		UPDATE accounts SET balance_minor = balance_minor + $1, updated_at = now()
		WHERE account_key = $2 AND status = $3 AND balance_minor + $1 >= 0
		RETURNING balance_minor`,
		delta, tran.AccountKey, string(domain.AccountStatusActive),
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.explainRejection(ctx, tx, tran.AccountKey)
	}
	if err != nil {
		return unavailable(err)
	}

	_, err = tx.Exec(ctx, `INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(tran.Kind), tran.ID, tran.Seq, tran.RefID, tran.AccountKey, amount, balance, tran.CreatedAt.UTC(),
	)
	if err != nil {
		return unavailable(translateUnique(err))
	}
	if err := tx.Commit(ctx); err != nil {
		return unavailable(err)
	}
	tran.BalanceAfter = domain.FromMinor(balance)
	return nil
}

// explainRejection 條件式 UPDATE 沒有更新到任何列時，查出原因
func (s *LedgerStore) explainRejection(ctx context.Context, tx pgx.Tx, key string) error {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM accounts WHERE account_key = $1`, key).Scan(&status)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return domain.ErrAccountNotFound
	case err != nil:
		return unavailable(err)
	case domain.AccountStatus(status) == domain.AccountStatusDisabled:
		return domain.ErrAccountDisabled
	default:
		return domain.ErrInsufficientFunds
	}
}

// translateUnique 把唯一鍵衝突轉成對應的 domain 錯誤
func translateUnique(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case "uk_ref_id":
		return domain.ErrTransactionAlreadyProcessed
	case "uk_kind_tx_id":
		return domain.ErrDuplicateID
	default:
		return err
	}
}

// FindByRefID 依 RefID 找交易
func (s *LedgerStore) FindByRefID(ctx context.Context, refID uuid.UUID) (*domain.Transaction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE ref_id = $1`, refID)
	tran, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return &tran, nil
}

// ListTransactions 依條件列出交易 (時間、類型、流水號遞增)
func (s *LedgerStore) ListTransactions(ctx context.Context, query domain.TransactionQuery) ([]domain.Transaction, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if query.Kind != "" {
		add("kind = $%d", string(query.Kind))
	}
	if query.AccountKey != "" {
		add("account_key = $%d", query.AccountKey)
	}
	if !query.From.IsZero() {
		add("created_at >= $%d", query.From.UTC())
	}
	if !query.To.IsZero() {
		add("created_at <= $%d", query.To.UTC())
	}

	stmt := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(conds) > 0 {
		stmt += ` WHERE ` + strings.Join(conds, " AND ")
	}
	stmt += ` ORDER BY created_at, kind, seq`

	rows, err := s.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	result := make([]domain.Transaction, 0)
	for rows.Next() {
		tran, err := scanTransaction(rows)
		if err != nil {
			return nil, unavailable(err)
		}
		result = append(result, tran)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return result, nil
}

// NextCounter 單一 UPDATE ... RETURNING，並行呼叫不會拿到相同的值
func (s *LedgerStore) NextCounter(ctx context.Context, kind domain.TransactionKind) (int64, error) {
	if !kind.Valid() {
		return 0, domain.ErrInvalidKind
	}
	var value int64
	err := s.pool.QueryRow(ctx,
		`UPDATE counters SET next_value = next_value + 1 WHERE kind = $1 RETURNING next_value - 1`,
		string(kind),
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: counter %s not seeded", domain.ErrStoreUnavailable, kind)
	}
	if err != nil {
		return 0, unavailable(err)
	}
	return value, nil
}

// Ping 健康檢查
func (s *LedgerStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func unavailable(err error) error {
	for _, known := range []error{
		domain.ErrStoreUnavailable,
		domain.ErrAccountNotFound,
		domain.ErrAccountDisabled,
		domain.ErrInsufficientFunds,
		domain.ErrDuplicateID,
		domain.ErrTransactionAlreadyProcessed,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}

var _ usecase.LedgerStore = (*LedgerStore)(nil)
