package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is the settlement currency for every amount in the platform.
const Currency = "GHS"

// Places is the fixed number of decimal digits carried by amounts.
const Places = 2

// minorPerMajor is the pesewa/cedi ratio used at provider boundaries.
var minorPerMajor = decimal.NewFromInt(100)

var ErrInvalidAmount = errors.New("money: invalid amount")

// Parse reads a major-unit amount such as "25.00".
// More than two decimal places is rejected rather than rounded.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if !HasValidPrecision(d) {
		return decimal.Zero, fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidAmount, s, Places)
	}
	return d, nil
}

// HasValidPrecision reports whether d fits in two decimal places.
func HasValidPrecision(d decimal.Decimal) bool {
	return d.Equal(d.Round(Places))
}

// IsPositive reports whether d is a usable transaction amount.
func IsPositive(d decimal.Decimal) bool {
	return d.IsPositive() && HasValidPrecision(d)
}

// ToMinor converts a major-unit amount to pesewas.
func ToMinor(d decimal.Decimal) (int64, error) {
	if !HasValidPrecision(d) {
		return 0, ErrInvalidAmount
	}
	m := d.Mul(minorPerMajor)
	if !m.IsInteger() {
		return 0, ErrInvalidAmount
	}
	return m.IntPart(), nil
}

// FromMinor converts pesewas to a major-unit amount.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -Places)
}

// Format renders d with exactly two decimals.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Places)
}
