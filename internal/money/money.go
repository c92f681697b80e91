// Package money handles currency amounts.
//
// Amounts are shopspring decimals at a scale of two places, the smallest
// currency unit. Inputs with more precision are rejected rather than rounded;
// only derived values (commission) are rounded, and payouts are computed by
// subtraction so amount == commission + payout holds exactly.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mbd888/dealdesk/internal/apperr"
)

// Scale is the number of decimal places in the smallest currency unit.
const Scale = 2

var (
	ErrInvalidAmount  = apperr.Validation("invalid amount")
	ErrNotPositive    = apperr.Validation("amount must be positive")
	ErrTooPrecise     = apperr.Validation("amount has more than 2 decimal places")
	ErrInvalidRate    = apperr.Validation("commission rate must be in [0, 1)")
	ErrBalanceTooLarge = apperr.Validation("resulting balance exceeds the maximum")
	errAmountTooLarge  = apperr.Validation("amount too large")
)

// MaxBalance is the first value a stored amount cannot hold: the schema's
// NUMERIC(16,2) columns keep 14 integer digits.
var MaxBalance = decimal.New(1, 14)

// Parse reads a decimal string such as "49.90". The result may be zero or
// negative; use Positive for prices and debits.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if err := CheckScale(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ParsePositive parses s and requires the result to be greater than zero.
func ParsePositive(s string) (decimal.Decimal, error) {
	d, err := Parse(s)
	if err != nil {
		return decimal.Zero, err
	}
	if err := Positive(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// CheckScale rejects values with sub-unit precision or absurd magnitude.
func CheckScale(d decimal.Decimal) error {
	if !d.Equal(d.Round(Scale)) {
		return ErrTooPrecise
	}
	if d.Abs().GreaterThanOrEqual(MaxBalance) {
		return errAmountTooLarge
	}
	return nil
}

// CheckBalance rejects a balance the store could not hold.
func CheckBalance(d decimal.Decimal) error {
	if d.GreaterThanOrEqual(MaxBalance) {
		return ErrBalanceTooLarge
	}
	return nil
}

// Positive validates a price or a transfer amount.
func Positive(d decimal.Decimal) error {
	if !d.IsPositive() {
		return ErrNotPositive
	}
	return CheckScale(d)
}

// ParseRate parses a commission rate such as "0.08".
func ParseRate(s string) (decimal.Decimal, error) {
	r, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidRate, s)
	}
	if err := ValidRate(r); err != nil {
		return decimal.Zero, err
	}
	return r, nil
}

// ValidRate reports whether r can be used as a commission rate.
func ValidRate(r decimal.Decimal) error {
	if r.IsNegative() || r.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return ErrInvalidRate
	}
	return nil
}

// Commission returns amount × rate rounded half away from zero to Scale.
func Commission(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Round(Scale)
}

// Payout is what the seller receives once commission is taken.
func Payout(amount, commission decimal.Decimal) decimal.Decimal {
	return amount.Sub(commission)
}

// Format renders d with exactly Scale decimal places.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}
