package money

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value held in minor units (e.g. cents).
// All ledger arithmetic uses the int64 minor-unit value; decimals only
// appear at the JSON boundary, where clients send "10.50", 10.5 or 10.
type Amount int64

var (
	ErrMalformedAmount = errors.New("malformed amount")
	ErrTooPrecise      = errors.New("amount has more than 2 decimal places")
)

var hundred = decimal.NewFromInt(100)

// Parse normalizes a decimal currency string into minor units.
// "10.50" -> 1050, "10" -> 1000. More than two decimal places is rejected
// rather than silently rounded.
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedAmount, s)
	}
	return fromDecimal(d)
}

func fromDecimal(d decimal.Decimal) (Amount, error) {
	minor := d.Mul(hundred)
	if !minor.IsInteger() {
		return 0, ErrTooPrecise
	}
	return Amount(minor.IntPart()), nil
}

// FromMinor wraps an already-normalized minor-unit value.
func FromMinor(v int64) Amount { return Amount(v) }

// Minor returns the raw minor-unit value.
func (a Amount) Minor() int64 { return int64(a) }

// Decimal returns the major-unit decimal representation.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -2)
}

// String renders the amount as a fixed two-decimal currency string.
func (a Amount) String() string {
	return a.Decimal().StringFixed(2)
}

// UnmarshalJSON accepts both JSON numbers and quoted decimal strings,
// since upstream clients use the two interchangeably.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return ErrMalformedAmount
	}
	if data[0] == '"' {
		var err error
		data, err = unquote(data)
		if err != nil {
			return err
		}
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalJSON renders the amount as a quoted two-decimal string, the
// representation read projections expose to clients.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

func unquote(data []byte) ([]byte, error) {
	if len(data) < 2 || data[len(data)-1] != '"' {
		return nil, ErrMalformedAmount
	}
	return data[1 : len(data)-1], nil
}

// ExpectedReturn computes principal plus simple interest for display
// purposes. rate is a fraction ("0.10" means 10%). The result is rounded
// to a whole minor unit; it never feeds ledger arithmetic.
func ExpectedReturn(principal Amount, rate decimal.Decimal) Amount {
	total := principal.Decimal().Mul(decimal.NewFromInt(1).Add(rate))
	return Amount(total.Mul(hundred).Round(0).IntPart())
}
