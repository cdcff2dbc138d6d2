package usecase

import (
	"context"
	"fmt"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
)

// Issuer 交易編號發號器
type Issuer struct {
	counters CounterStore
}

func NewIssuer(counters CounterStore) *Issuer {
	return &Issuer{counters: counters}
}

// Issue 取得下一個交易編號
//
// 回傳:
//
//	string: 交易編號 (REC-1000 / RET-1000)
//	int64: 編號背後的流水號
//	error: 類型錯誤或儲存層錯誤
func (i *Issuer) Issue(ctx context.Context, kind domain.TransactionKind) (string, int64, error) {
	if !kind.Valid() {
		return "", 0, fmt.Errorf("%w: %q", domain.ErrInvalidKind, kind)
	}
	seq, err := i.counters.NextCounter(ctx, kind)
	if err != nil {
		return "", 0, fmt.Errorf("next counter %s: %w", kind, err)
	}
	return kind.FormatID(seq), seq, nil
}
