package money

import (
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Money is an amount in major currency units (e.g. 25.00 USD).
// Conversion to the processor's minor-unit convention happens only at the
// payment-gateway boundary.
type Money struct {
	Amount   decimal.Decimal
	Currency currency.Unit
}

func New(amount decimal.Decimal, code string) (Money, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return Money{}, fmt.Errorf("parse currency %q: %w", code, err)
	}
	return Money{Amount: amount, Currency: unit}, nil
}

// scale returns the number of minor-unit digits for the currency (2 for USD).
func scale(unit currency.Unit) int32 {
	s, _ := currency.Cash.Rounding(unit)
	return int32(s)
}

// MinorUnits converts to the smallest currency unit (cents for USD).
// Amounts that do not land on a whole minor unit are rejected rather than
// rounded silently.
func (m Money) MinorUnits() (int64, error) {
	shifted := m.Amount.Shift(scale(m.Currency))
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("amount %s %s is not a whole number of minor units", m.Amount, m.Currency)
	}
	return shifted.IntPart(), nil
}

func FromMinorUnits(n int64, code string) (Money, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return Money{}, fmt.Errorf("parse currency %q: %w", code, err)
	}
	return Money{Amount: decimal.New(n, -scale(unit)), Currency: unit}, nil
}

func (m Money) String() string {
	return m.Amount.StringFixed(scale(m.Currency)) + " " + m.Currency.String()
}
