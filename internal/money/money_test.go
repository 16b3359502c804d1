package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinorUnits(t *testing.T) {
	m, err := New(decimal.RequireFromString("25.00"), "USD")
	require.NoError(t, err)

	n, err := m.MinorUnits()
	require.NoError(t, err)
	assert.Equal(t, int64(2500), n)
}

func TestMinorUnitsZeroDecimalCurrency(t *testing.T) {
	m, err := New(decimal.RequireFromString("500"), "JPY")
	require.NoError(t, err)

	n, err := m.MinorUnits()
	require.NoError(t, err)
	assert.Equal(t, int64(500), n)
}

func TestMinorUnitsRejectsFractionalCents(t *testing.T) {
	m, err := New(decimal.RequireFromString("10.005"), "USD")
	require.NoError(t, err)

	_, err = m.MinorUnits()
	assert.Error(t, err)
}

func TestFromMinorUnits(t *testing.T) {
	m, err := FromMinorUnits(50, "USD")
	require.NoError(t, err)
	assert.True(t, m.Amount.Equal(decimal.RequireFromString("0.50")), "got %s", m.Amount)
	assert.Equal(t, "USD", m.Currency.String())
	assert.Equal(t, "0.50 USD", m.String())
}

func TestNewRejectsUnknownCurrency(t *testing.T) {
	_, err := New(decimal.Zero, "NOPE")
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	m, err := New(decimal.RequireFromString("19.99"), "EUR")
	require.NoError(t, err)

	n, err := m.MinorUnits()
	require.NoError(t, err)

	back, err := FromMinorUnits(n, "EUR")
	require.NoError(t, err)
	assert.True(t, back.Amount.Equal(m.Amount))
}
