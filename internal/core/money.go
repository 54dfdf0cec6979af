// Package core provides money parsing and handling utilities.
//
// This file contains the fixed-point Money type used for every fee and
// payment amount. Amounts are whole cents; float64 never enters arithmetic.
package core

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Money is an exact amount expressed in cents (two fraction digits).
type Money struct {
	Cents int64
}

// MaxAmountCents caps a single payment or fee at 100,000,000.00. Totals of
// capped amounts stay far inside int64.
const MaxAmountCents int64 = 10_000_000_000

var maxCents = decimal.NewFromInt(MaxAmountCents)

// Cents builds a Money value from a cent count.
func Cents(c int64) Money {
	return Money{Cents: c}
}

// Zero returns the zero amount.
func Zero() Money {
	return Money{}
}

// ParseDecimalToCents converts a decimal string to cents with proper rounding.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and performs
// half-up rounding on the third decimal place. The result is always positive cents.
// Returns an error for invalid formats, negative values, or zero amounts.
//
// Examples:
//
//	ParseDecimalToCents("12.34") -> 1234, nil
//	ParseDecimalToCents("12,34") -> 1234, nil
//	ParseDecimalToCents("12.345") -> 1235, nil (rounds up)
//	ParseDecimalToCents("-5.00") -> 0, ErrInvalidAmount
func ParseDecimalToCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		// Only positive values allowed
		return 0, ErrInvalidAmount
	}
	cents, err := parseCents(s)
	if err != nil {
		return 0, err
	}
	if cents <= 0 {
		return 0, ErrInvalidAmount
	}
	return cents, nil
}

// ParseMoney parses a signed decimal amount such as "-2000.00".
// Unlike ParseDecimalToCents it accepts zero and negative values.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "-"), "+")
	cents, err := parseCents(s)
	if err != nil {
		return Money{}, err
	}
	if neg {
		cents = -cents
	}
	return Money{Cents: cents}, nil
}

// parseCents parses an unsigned decimal string, rounding half-up to cents.
func parseCents(s string) (int64, error) {
	if s == "" {
		return 0, ErrInvalidAmount
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	if strings.Count(s, ".") > 1 {
		return 0, ErrInvalidAmount
	}
	// decimal.NewFromString also accepts exponents; receipts never carry them.
	for _, r := range s {
		if r != '.' && !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	if s == "." {
		return 0, ErrInvalidAmount
	}
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	shifted := d.Round(2).Shift(2)
	if shifted.GreaterThan(maxCents) {
		return 0, ErrInvalidAmount
	}
	return shifted.IntPart(), nil
}

// Validate reports ErrInvalidAmount unless the amount is strictly positive
// and at most MaxAmountCents.
func (m Money) Validate() error {
	if m.Cents <= 0 || m.Cents > MaxAmountCents {
		return ErrInvalidAmount
	}
	return nil
}

func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }

// CheckedAdd is Add that reports ErrAmountOverflow instead of wrapping.
func (m Money) CheckedAdd(o Money) (Money, error) {
	sum := m.Cents + o.Cents
	if (o.Cents > 0 && sum < m.Cents) || (o.Cents < 0 && sum > m.Cents) {
		return Money{}, ErrAmountOverflow
	}
	return Money{Cents: sum}, nil
}

func (m Money) Sub(o Money) Money { return Money{Cents: m.Cents - o.Cents} }

func (m Money) Neg() Money { return Money{Cents: -m.Cents} }

// Cmp returns -1, 0 or +1 comparing m with o.
func (m Money) Cmp(o Money) int {
	switch {
	case m.Cents < o.Cents:
		return -1
	case m.Cents > o.Cents:
		return 1
	default:
		return 0
	}
}

// Sign returns -1, 0 or +1.
func (m Money) Sign() int { return m.Cmp(Money{}) }

func (m Money) IsZero() bool     { return m.Cents == 0 }
func (m Money) IsPositive() bool { return m.Cents > 0 }
func (m Money) IsNegative() bool { return m.Cents < 0 }

// Decimal returns the amount in major units as an exact decimal.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String renders major units with exactly two fraction digits, e.g. "-2000.00".
// Display formatting beyond this belongs to the presentation layer.
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// Sum adds all amounts, failing with ErrAmountOverflow rather than wrapping.
func Sum(values ...Money) (Money, error) {
	var total Money
	for _, v := range values {
		var err error
		if total, err = total.CheckedAdd(v); err != nil {
			return Money{}, err
		}
	}
	return total, nil
}
