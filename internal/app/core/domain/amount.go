package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountScale 金額小數位數 (以分為最小單位)
const AmountScale int32 = 2

var minorFactor = decimal.New(1, AmountScale)

// ParseAmount 解析外部輸入的金額字串
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, raw)
	}
	if err := ValidateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// ValidateAmount 金額必須大於 0 且最多兩位小數
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if !amount.Equal(amount.Truncate(AmountScale)) {
		return fmt.Errorf("%w: more than %d decimals", ErrInvalidAmount, AmountScale)
	}
	return nil
}

// ToMinor 轉成最小單位整數 (分)
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Mul(minorFactor).IntPart()
}

// FromMinor 由最小單位整數還原金額
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -AmountScale)
}
