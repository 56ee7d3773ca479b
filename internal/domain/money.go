package domain

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Round2 rounds to cents, half away from zero.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// amountPattern is plain digits with at most two decimal places. Exponents
// are refused so no input can blow up into a huge decimal.
var amountPattern = regexp.MustCompile(`^\d+([.,]\d{1,2})?$`)

// ParseAmount reads an operator-typed currency amount. Both "12,50" and
// "12.50" are accepted and blank input is zero.
func ParseAmount(field string, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	if strings.HasPrefix(raw, "-") {
		return decimal.Zero, InvalidAmount(field, "must not be negative")
	}
	if !amountPattern.MatchString(raw) {
		return decimal.Zero, InvalidAmount(field, "must be a number with at most 2 decimal places")
	}
	value, err := decimal.NewFromString(strings.Replace(raw, ",", ".", 1))
	if err != nil {
		return decimal.Zero, InvalidAmount(field, "must be a number")
	}
	return value, nil
}

func MaxZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
