// Package money holds the fixed-point helpers used for balances and amounts.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/onlinebank/onlinebank/internal/bankerr"
)

// Scale is the number of fractional digits carried by every amount.
const Scale = 2

// Parse reads a decimal amount and rejects values with more than Scale
// fractional digits. Failures match bankerr.ErrInvalidAmount.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, bankerr.Wrap(bankerr.InvalidAmount, fmt.Sprintf("amount %q is not a number", s), err)
	}
	if !HasScale(d) {
		return decimal.Zero, bankerr.New(bankerr.InvalidAmount, fmt.Sprintf("amount %q has more than %d decimal places", s, Scale))
	}
	return d, nil
}

// HasScale reports whether d is representable with Scale fractional digits.
func HasScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(Scale))
}

// IsPositiveAmount reports whether d is a valid posting amount.
func IsPositiveAmount(d decimal.Decimal) bool {
	return d.IsPositive() && HasScale(d)
}

// Format renders d with exactly Scale fractional digits.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}
