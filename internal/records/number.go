package records

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"allowance/internal/core"
)

// Number is an upstream numeric field. JSON null, a missing field and a blank
// string are absent and read as zero. Any other value is kept as sent and
// parsed when the record is converted, so a malformed amount drops only the
// record it belongs to.
type Number struct {
	raw string
}

func NumberFromMoney(m core.Money) Number {
	return Number{raw: m.Decimal().String()}
}

func NumberFromFloat(f float64) Number {
	return Number{raw: decimal.NewFromFloat(f).String()}
}

// IsZero reports whether the field was absent.
func (n Number) IsZero() bool {
	return n.raw == ""
}

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		n.raw = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		n.raw = strings.TrimSpace(s)
	default:
		n.raw = string(b)
	}
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	if n.raw == "" {
		return []byte("null"), nil
	}
	if _, err := decimal.NewFromString(n.raw); err == nil {
		return []byte(n.raw), nil
	}
	return json.Marshal(n.raw)
}

// Money parses the field as a non-negative rupee amount.
func (n Number) Money() (core.Money, error) {
	return core.ParseAmount(n.raw)
}

// Decimal parses the field as a plain decimal.
func (n Number) Decimal() (decimal.Decimal, error) {
	if n.raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(n.raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse number %q: %w", n.raw, err)
	}
	return d, nil
}
