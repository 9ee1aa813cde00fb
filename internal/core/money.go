// Package core provides money handling utilities.
//
// This file contains conversions between decimal rupee amounts, as they
// travel on the wire, and the integer paise representation used for sums.
package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	hundred = decimal.NewFromInt(100)
	printer = message.NewPrinter(language.English)
)

// MoneyFromDecimal converts a rupee amount to Money, rounding half away from
// zero on the third decimal place.
//
// Examples:
//   MoneyFromDecimal(12.34)  -> 1234
//   MoneyFromDecimal(12.345) -> 1235
//   MoneyFromDecimal(-1)     -> -100 (sign is preserved, callers validate)
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money{Cents: d.Mul(hundred).Round(0).IntPart()}
}

// ParseAmount parses a decimal string such as "12.50" or "12,50".
// An empty string is a zero amount. Negative amounts are rejected.
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, nil
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	m := MoneyFromDecimal(d)
	if err := m.Validate(); err != nil {
		return Money{}, err
	}
	return m, nil
}

// Add returns m + o.
func (m Money) Add(o Money) Money {
	return Money{Cents: m.Cents + o.Cents}
}

// Decimal returns the rupee value as an exact decimal.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// Rupees returns the rupee value as a float64 for display purposes.
// Note: Use cents for calculations to avoid floating-point precision issues.
func (m Money) Rupees() float64 {
	return float64(m.Cents) / 100.0
}

// Format renders the amount with thousands separators, e.g. "₹1,234.50".
func (m Money) Format() string {
	cents := m.Cents
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return sign + "₹" + printer.Sprintf("%d", cents/100) + fmt.Sprintf(".%02d", cents%100)
}

func (m Money) String() string {
	return m.Format()
}
