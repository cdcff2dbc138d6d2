package usecase

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
)

// DefaultReportDays 沒給日期時，報表往回涵蓋的天數
const DefaultReportDays = 30

// ReportConfig 報表設定
type ReportConfig struct {
	ExportDir   string `yaml:"export_dir"`
	Delimiter   string `yaml:"delimiter"`
	DefaultDays int    `yaml:"default_days"`
}

// ReportGenerator 報表產生器，只讀帳本
type ReportGenerator struct {
	store     LedgerStore
	exportDir string
	delimiter rune
	days      int
	logger    *zap.Logger
	now       func() time.Time
}

func NewReportGenerator(store LedgerStore, cfg ReportConfig, logger *zap.Logger) *ReportGenerator {
	g := &ReportGenerator{
		store:     store,
		exportDir: cfg.ExportDir,
		delimiter: ',',
		days:      cfg.DefaultDays,
		logger:    logger,
		now:       time.Now,
	}
	if g.exportDir == "" {
		g.exportDir = "exports"
	}
	if r := []rune(cfg.Delimiter); len(r) == 1 {
		g.delimiter = r[0]
	}
	if g.days <= 0 {
		g.days = DefaultReportDays
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	return g
}

// Generate 產生報表
//
// 參數:
//
//	ctx: 上下文
//	req: 交易類型與日期區間 (包含兩端的整天)
//
// 回傳:
//
//	*domain.ReportRecord: 報表 (依時間遞增)
//	error: 日期錯誤或儲存層錯誤
func (g *ReportGenerator) Generate(ctx context.Context, req domain.ReportRequest) (*domain.ReportRecord, error) {
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidKind, req.Kind)
	}
	from, to, err := g.resolveRange(req.DateFrom, req.DateTo)
	if err != nil {
		return nil, err
	}

	trans, err := g.store.ListTransactions(ctx, domain.TransactionQuery{
		Kind: req.Kind,
		From: from,
		To:   to,
	})
	if err != nil {
		return nil, err
	}

	record := &domain.ReportRecord{
		Kind:        req.Kind,
		From:        from,
		To:          to,
		GeneratedAt: g.now().UTC(),
		Rows:        make([]domain.ReportRow, 0, len(trans)),
		Total:       decimal.Zero,
	}

	// 同一帳戶只查一次
	accounts := make(map[string]*domain.Account)
	for i := range trans {
		tran := &trans[i]
		account, ok := accounts[tran.AccountKey]
		if !ok {
			account, err = g.store.GetAccount(ctx, tran.AccountKey)
			if err != nil && !errors.Is(err, domain.ErrAccountNotFound) {
				return nil, err
			}
			accounts[tran.AccountKey] = account
		}

		row := domain.ReportRow{
			TransactionID: tran.ID,
			AccountKey:    tran.AccountKey,
			Amount:        tran.Amount,
			BalanceAfter:  tran.BalanceAfter,
			CreatedAt:     tran.CreatedAt,
		}
		if account != nil {
			row.Document = account.Document
			row.Email = account.Email
		}
		record.Rows = append(record.Rows, row)
		record.Total = record.Total.Add(tran.Amount)
	}
	record.Count = len(record.Rows)

	g.logger.Info("report generated",
		zap.String("kind", string(req.Kind)),
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int("rows", record.Count),
	)
	return record, nil
}

// resolveRange 把日期字串轉成包含邊界的時間區間 (UTC)
func (g *ReportGenerator) resolveRange(rawFrom, rawTo string) (time.Time, time.Time, error) {
	today := g.now().UTC().Truncate(24 * time.Hour)

	fromDay := today.AddDate(0, 0, -g.days)
	if s := strings.TrimSpace(rawFrom); s != "" {
		d, err := time.Parse(domain.DateLayout, s)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: date_from %q", domain.ErrInvalidDate, s)
		}
		fromDay = d
	}
	toDay := today
	if s := strings.TrimSpace(rawTo); s != "" {
		d, err := time.Parse(domain.DateLayout, s)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: date_fin %q", domain.ErrInvalidDate, s)
		}
		toDay = d
	}
	if toDay.Before(fromDay) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: date_fin before date_from", domain.ErrInvalidDate)
	}
	return fromDay, toDay.Add(24*time.Hour - time.Nanosecond), nil
}

var exportHeader = []string{"transaction_id", "account_key", "document", "email", "amount", "balance_after", "created_at"}

// Export 把報表列輸出成分隔檔，回傳檔案路徑
//
// 回傳:
//
//	string: 輸出檔案路徑
//	error: 沒有資料時回傳 domain.ErrNoData
func (g *ReportGenerator) Export(record *domain.ReportRecord, filename string) (string, error) {
	if record == nil || len(record.Rows) == 0 {
		return "", domain.ErrNoData
	}
	if err := os.MkdirAll(g.exportDir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	path := filepath.Join(g.exportDir, exportName(record, filename))

	// 先寫暫存檔再 rename，讀者不會看到寫一半的檔案
	tmp, err := os.CreateTemp(g.exportDir, ".export-*")
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	w.Comma = g.delimiter
	if err := w.Write(exportHeader); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write export header: %w", err)
	}
	for _, row := range record.Rows {
		err := w.Write([]string{
			row.TransactionID,
			row.AccountKey,
			row.Document,
			row.Email,
			row.Amount.StringFixed(domain.AmountScale),
			row.BalanceAfter.StringFixed(domain.AmountScale),
			row.CreatedAt.UTC().Format(time.RFC3339),
		})
		if err != nil {
			tmp.Close()
			return "", fmt.Errorf("write export row %s: %w", row.TransactionID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("flush export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close export: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("publish export: %w", err)
	}

	g.logger.Info("report exported", zap.String("path", path), zap.Int("rows", len(record.Rows)))
	return path, nil
}

// exportName 只取檔名部分，並補上 .csv
func exportName(record *domain.ReportRecord, filename string) string {
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = fmt.Sprintf("%ss_%s_%s",
			record.Kind,
			record.From.Format(domain.DateLayout),
			record.To.Format(domain.DateLayout),
		)
	}
	if !strings.EqualFold(filepath.Ext(name), ".csv") {
		name += ".csv"
	}
	return name
}
