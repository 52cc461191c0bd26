package models

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Cents is an amount of currency in minor units. All balances and ledger
// amounts are held as Cents; decimals only appear at the API boundary.
type Cents int64

var (
	ErrNegativeAmount  = errors.New("amount must not be negative")
	ErrAmountPrecision = errors.New("amount has more than two decimal places")
	ErrAmountTooLarge  = errors.New("amount is too large")
)

var (
	hundred  = decimal.NewFromInt(100)
	maxCents = decimal.NewFromInt(math.MaxInt64)
)

// CentsFromDecimal converts a major-unit decimal (e.g. 12.50) to Cents.
// Values with more than two decimal places are rejected rather than rounded.
func CentsFromDecimal(d decimal.Decimal) (Cents, error) {
	if d.IsNegative() {
		return 0, ErrNegativeAmount
	}
	scaled := d.Mul(hundred)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, ErrAmountPrecision
	}
	if scaled.GreaterThan(maxCents) {
		return 0, ErrAmountTooLarge
	}
	return Cents(scaled.IntPart()), nil
}

// RoundCents converts a decimal to Cents rounding half-up at the second decimal place.
func RoundCents(d decimal.Decimal) Cents {
	return Cents(d.Mul(hundred).Round(0).IntPart())
}

func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}

func (c Cents) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

func (c *Cents) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	v, err := CentsFromDecimal(d)
	if err != nil {
		return err
	}
	*c = v
	return nil
}
